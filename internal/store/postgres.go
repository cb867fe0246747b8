// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

// Package store owns the backing stores: postgres and redis connection setup
// and schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

const (
	// DefaultConnectAttempts is used when ConnectOptions.Attempts is not positive.
	DefaultConnectAttempts = 5
	// DefaultPingTimeout bounds a readiness ping.
	DefaultPingTimeout = time.Second
)

// ConnectOptions tunes Connect.
type ConnectOptions struct {
	Attempts    int
	BaseBackoff time.Duration
	Logger      *slog.Logger
}

// pinger is the readiness probe surface of a pool.
type pinger interface {
	Ping(ctx context.Context) error
}

// Connect opens a pgx pool for databaseURL and pings it, retrying with
// exponential backoff while the database comes up.
func Connect(ctx context.Context, databaseURL string, opts ConnectOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DB_INVALID_URL").With("operation", "parse database url").Wrap(err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_POOL_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := waitReady(ctx, pool, opts); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func waitReady(ctx context.Context, db pinger, opts ConnectOptions) error {
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = DefaultConnectAttempts
	}
	base := opts.BaseBackoff
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(base))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := db.Ping(ctx); err != nil {
			logger.WarnContext(ctx, "database not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}
	return nil
}

// Ping reports whether db answers within timeout. It backs the readiness probe.
func Ping(ctx context.Context, db pinger, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		return oops.Code("DB_PING_FAILED").Wrap(err)
	}
	return nil
}
