// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package postgres

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/dr3hardware/authd/internal/auth"
)

// AttemptRepository implements auth.AttemptRepository using PostgreSQL.
// Rows are append-only.
type AttemptRepository struct {
	q querier
}

// NewAttemptRepository creates an AttemptRepository.
func NewAttemptRepository(db DB, queryTimeout time.Duration) *AttemptRepository {
	return &AttemptRepository{q: newQuerier(db, queryTimeout)}
}

// Insert appends a login attempt.
func (r *AttemptRepository) Insert(ctx context.Context, attempt *auth.LoginAttempt) error {
	ctx, cancel := r.q.withTimeout(ctx)
	defer cancel()

	var reason *string
	if attempt.Reason != "" {
		reason = &attempt.Reason
	}

	_, err := r.q.db.Exec(ctx, `
		INSERT INTO login_attempts (id, username, ip_address, success, failure_reason, attempt_time)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		attempt.ID.String(),
		attempt.Username,
		attempt.Origin,
		attempt.Success,
		reason,
		attempt.At,
	)
	if err != nil {
		return oops.Code("ATTEMPT_INSERT_FAILED").
			With("operation", "insert login attempt").
			With("username", attempt.Username).
			Wrap(err)
	}
	return nil
}

// RecentFailures returns failed attempts for username after since, oldest first.
func (r *AttemptRepository) RecentFailures(ctx context.Context, username string, since time.Time) ([]auth.LoginAttempt, error) {
	ctx, cancel := r.q.withTimeout(ctx)
	defer cancel()

	rows, err := r.q.db.Query(ctx, `
		SELECT id, username, ip_address, success, COALESCE(failure_reason, ''), attempt_time
		FROM login_attempts
		WHERE username = $1 AND NOT success AND attempt_time > $2
		ORDER BY attempt_time
	`, username, since)
	if err != nil {
		return nil, oops.Code("ATTEMPT_QUERY_FAILED").
			With("operation", "query recent failures").
			With("username", username).
			Wrap(err)
	}
	defer rows.Close()

	var attempts []auth.LoginAttempt
	for rows.Next() {
		var (
			idStr   string
			attempt auth.LoginAttempt
		)
		if err := rows.Scan(&idStr, &attempt.Username, &attempt.Origin, &attempt.Success,
			&attempt.Reason, &attempt.At); err != nil {
			return nil, oops.Code("ATTEMPT_SCAN_FAILED").
				With("operation", "scan login attempt").
				Wrap(err)
		}
		if attempt.ID, err = ulid.Parse(idStr); err != nil {
			return nil, oops.Code("ATTEMPT_INVALID_ID").
				With("operation", "parse attempt id").
				With("id", idStr).
				Wrap(err)
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ATTEMPT_ROWS_ERROR").
			With("operation", "iterate login attempts").
			Wrap(err)
	}
	return attempts, nil
}

var _ auth.AttemptRepository = (*AttemptRepository)(nil)
