// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package main

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dr3hardware/authd/internal/auth/postgres"
	"github.com/dr3hardware/authd/internal/observability"
	"github.com/dr3hardware/authd/internal/store"
)

// Deps contains injectable dependencies for the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// ConnectDB opens the postgres pool.
	// Default: store.Connect
	ConnectDB func(ctx context.Context, url string, opts store.ConnectOptions) (DBPool, error)

	// ConnectRedis opens the redis client for the redis session backend.
	// Default: store.ConnectRedis
	ConnectRedis func(ctx context.Context, addr string, opts store.ConnectOptions) (goredis.UniversalClient, error)

	// MigratorFactory creates a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker) ObservabilityServer

	// PasswordReader reads a secret from the terminal or stdin.
	// Default: readPassword
	PasswordReader func(cmd *cobra.Command, prompt string) (string, error)
}

// DBPool is the subset of *pgxpool.Pool used by the commands.
type DBPool interface {
	postgres.DB
	Ping(ctx context.Context) error
	Close()
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

func (d Deps) withDefaults() Deps {
	if d.ConnectDB == nil {
		d.ConnectDB = func(ctx context.Context, url string, opts store.ConnectOptions) (DBPool, error) {
			pool, err := store.Connect(ctx, url, opts)
			if err != nil {
				return nil, err //nolint:wrapcheck // store errors carry their own codes
			}
			return pool, nil
		}
	}
	if d.ConnectRedis == nil {
		d.ConnectRedis = func(ctx context.Context, addr string, opts store.ConnectOptions) (goredis.UniversalClient, error) {
			client, err := store.ConnectRedis(ctx, addr, opts)
			if err != nil {
				return nil, err //nolint:wrapcheck // store errors carry their own codes
			}
			return client, nil
		}
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = func(url string) (Migrator, error) {
			m, err := store.NewMigrator(url)
			if err != nil {
				return nil, err //nolint:wrapcheck // store errors carry their own codes
			}
			return m, nil
		}
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, ready)
		}
	}
	if d.PasswordReader == nil {
		d.PasswordReader = readPassword
	}
	return d
}
