// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/dr3hardware/authd/internal/auth"
)

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	q querier
}

// NewSessionRepository creates a SessionRepository.
func NewSessionRepository(db DB, queryTimeout time.Duration) *SessionRepository {
	return &SessionRepository{q: newQuerier(db, queryTimeout)}
}

// Insert stores a new active session.
func (r *SessionRepository) Insert(ctx context.Context, session *auth.Session) error {
	ctx, cancel := r.q.withTimeout(ctx)
	defer cancel()

	_, err := r.q.db.Exec(ctx, `
		INSERT INTO user_sessions (token_hash, user_id, ip_address, user_agent, created_at, last_activity, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		session.TokenHash,
		session.UserID.String(),
		session.Origin,
		session.UserAgent,
		session.CreatedAt,
		session.LastActivity,
		session.Active,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("SESSION_TOKEN_COLLISION").
				With("user_id", session.UserID.String()).
				Wrap(auth.ErrTokenCollision)
		}
		return oops.Code("SESSION_INSERT_FAILED").
			With("operation", "insert user_session").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}
	return nil
}

// FindActiveWithUser joins the session to its user and applies the liveness filter in SQL.
func (r *SessionRepository) FindActiveWithUser(ctx context.Context, tokenHash string, idleSince time.Time) (*auth.Claims, error) {
	ctx, cancel := r.q.withTimeout(ctx)
	defer cancel()

	var (
		idStr  string
		claims auth.Claims
	)
	err := r.q.db.QueryRow(ctx, `
		SELECT u.user_id, u.username, u.full_name, u.role
		FROM user_sessions s
		JOIN users u ON u.user_id = s.user_id
		WHERE s.token_hash = $1
		  AND s.is_active
		  AND s.last_activity > $2
		  AND u.status = 'Active'
	`, tokenHash, idleSince).Scan(&idStr, &claims.Username, &claims.FullName, &claims.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_TOKEN_FAILED").
			With("operation", "get active session by token hash").
			Wrap(err)
	}

	claims.UserID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_USER_ID").
			With("operation", "parse user id").
			With("user_id", idStr).
			Wrap(err)
	}
	return &claims, nil
}

// Touch advances last_activity. GREATEST keeps concurrent touches monotonic.
func (r *SessionRepository) Touch(ctx context.Context, tokenHash string, at time.Time) error {
	ctx, cancel := r.q.withTimeout(ctx)
	defer cancel()

	result, err := r.q.db.Exec(ctx, `
		UPDATE user_sessions SET last_activity = GREATEST(last_activity, $2)
		WHERE token_hash = $1
	`, tokenHash, at)
	if err != nil {
		return oops.Code("SESSION_TOUCH_FAILED").
			With("operation", "update last_activity").
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return nil
}

// Deactivate marks the session inactive. Unknown hashes are not an error.
func (r *SessionRepository) Deactivate(ctx context.Context, tokenHash string) error {
	ctx, cancel := r.q.withTimeout(ctx)
	defer cancel()

	_, err := r.q.db.Exec(ctx, `
		UPDATE user_sessions SET is_active = FALSE
		WHERE token_hash = $1
	`, tokenHash)
	if err != nil {
		return oops.Code("SESSION_DEACTIVATE_FAILED").
			With("operation", "deactivate user_session").
			Wrap(err)
	}
	return nil
}

// PurgeInactive deletes logged-out and idle sessions and returns the count.
func (r *SessionRepository) PurgeInactive(ctx context.Context, idleSince time.Time) (int64, error) {
	ctx, cancel := r.q.withTimeout(ctx)
	defer cancel()

	result, err := r.q.db.Exec(ctx, `
		DELETE FROM user_sessions
		WHERE NOT is_active OR last_activity <= $1
	`, idleSince)
	if err != nil {
		return 0, oops.Code("SESSION_PURGE_FAILED").
			With("operation", "delete inactive user_sessions").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

var _ auth.SessionRepository = (*SessionRepository)(nil)
