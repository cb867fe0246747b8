// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/dr3hardware/authd/internal/auth"
)

const selectUser = `
	SELECT user_id, username, password_hash, full_name, role, status
	FROM users
`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	q querier
}

// NewUserRepository creates a UserRepository. A non-positive timeout selects DefaultQueryTimeout.
func NewUserRepository(db DB, queryTimeout time.Duration) *UserRepository {
	return &UserRepository{q: newQuerier(db, queryTimeout)}
}

// FindByUsername retrieves a user by exact username.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	ctx, cancel := r.q.withTimeout(ctx)
	defer cancel()

	user, err := scanUser(r.q.db.QueryRow(ctx, selectUser+`WHERE username = $1`, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("username", username).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "get user by username").
			With("username", username).
			Wrap(err)
	}
	return user, nil
}

// FindByID retrieves a user by ID.
func (r *UserRepository) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	ctx, cancel := r.q.withTimeout(ctx)
	defer cancel()

	user, err := scanUser(r.q.db.QueryRow(ctx, selectUser+`WHERE user_id = $1`, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("user_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "get user by id").
			With("user_id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// UpdatePasswordHash replaces the stored credential.
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error {
	ctx, cancel := r.q.withTimeout(ctx)
	defer cancel()

	result, err := r.q.db.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = NOW()
		WHERE user_id = $1
	`, id.String(), passwordHash)
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "update password hash").
			With("user_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("user_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// RecordLogin stamps last_login and clears the failed-login counter.
func (r *UserRepository) RecordLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	ctx, cancel := r.q.withTimeout(ctx)
	defer cancel()

	result, err := r.q.db.Exec(ctx, `
		UPDATE users SET last_login = $2, failed_login_attempts = 0, updated_at = $2
		WHERE user_id = $1
	`, id.String(), at)
	if err != nil {
		return oops.Code("USER_RECORD_LOGIN_FAILED").
			With("operation", "record login").
			With("user_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("user_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanUser scans a single user row. Scan errors, including pgx.ErrNoRows, are returned unchanged.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr  string
		status string
		user   auth.User
	)
	err := row.Scan(&idStr, &user.Username, &user.PasswordHash, &user.FullName, &user.Role, &status)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers attach lookup context
	}

	user.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("user_id", idStr).
			Wrap(err)
	}
	user.Status = auth.UserStatus(status)
	return &user, nil
}

var _ auth.UserRepository = (*UserRepository)(nil)
