// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

// Package postgres implements the auth repositories on PostgreSQL.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultQueryTimeout bounds every repository call when no timeout is configured.
const DefaultQueryTimeout = 5 * time.Second

// DB is the subset of *pgxpool.Pool the repositories use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier carries the pool and per-call timeout shared by all repositories.
type querier struct {
	db      DB
	timeout time.Duration
}

func newQuerier(db DB, timeout time.Duration) querier {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return querier{db: db, timeout: timeout}
}

func (q querier) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, q.timeout)
}
