// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package main

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/dr3hardware/authd/internal/auth"
	"github.com/dr3hardware/authd/internal/auth/postgres"
	redisstore "github.com/dr3hardware/authd/internal/auth/redis"
	"github.com/dr3hardware/authd/internal/config"
	"github.com/dr3hardware/authd/internal/store"
)

// authStack is the assembled authentication core.
type authStack struct {
	users    auth.UserRepository
	service  *auth.Service
	sessions *auth.SessionStore
}

// buildAuth assembles the Service over the postgres repositories. Sessions go
// to redis when the backend asks for it; rdb may be nil otherwise.
func buildAuth(cfg *config.Config, db postgres.DB, rdb goredis.UniversalClient, opts ...auth.Option) (*authStack, error) {
	timeout := cfg.Database.QueryTimeout
	users := postgres.NewUserRepository(db, timeout)

	hasher, err := auth.NewArgon2idHasher(cfg.Hasher.Params())
	if err != nil {
		return nil, err //nolint:wrapcheck // auth errors carry their own codes
	}

	ledger, err := auth.NewAttemptLedger(postgres.NewAttemptRepository(db, timeout), cfg.Lockout.Policy(), opts...)
	if err != nil {
		return nil, err //nolint:wrapcheck // auth errors carry their own codes
	}

	var repo auth.SessionRepository
	switch cfg.Session.Backend {
	case config.BackendRedis:
		if rdb == nil {
			return nil, oops.Code("CONFIG_INVALID").Errorf("redis session backend selected without a redis client")
		}
		repo, err = redisstore.NewSessionRepository(rdb, users, cfg.Session.IdleTimeout, timeout)
		if err != nil {
			return nil, err //nolint:wrapcheck // redis errors carry their own codes
		}
	default:
		repo = postgres.NewSessionRepository(db, timeout)
	}

	sessions, err := auth.NewSessionStore(repo, cfg.Session.IdleTimeout, opts...)
	if err != nil {
		return nil, err //nolint:wrapcheck // auth errors carry their own codes
	}

	service, err := auth.NewService(auth.Dependencies{
		Users:    users,
		Hasher:   hasher,
		Ledger:   ledger,
		Sessions: sessions,
	}, opts...)
	if err != nil {
		return nil, err //nolint:wrapcheck // auth errors carry their own codes
	}
	return &authStack{users: users, service: service, sessions: sessions}, nil
}

// stores holds the open backing connections.
type stores struct {
	db  DBPool
	rdb goredis.UniversalClient
}

func (s *stores) Close() {
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

// ready pings every open store.
func (s *stores) ready(ctx context.Context) error {
	if err := store.Ping(ctx, s.db, store.DefaultPingTimeout); err != nil {
		return err //nolint:wrapcheck // store errors carry their own codes
	}
	if s.rdb != nil {
		if err := store.Ping(ctx, store.RedisPinger(s.rdb), store.DefaultPingTimeout); err != nil {
			return oops.With("store", "redis").Wrap(err)
		}
	}
	return nil
}

// openStores connects to postgres and, for the redis backend, to redis.
func openStores(ctx context.Context, cfg *config.Config, deps Deps) (*stores, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err //nolint:wrapcheck // config errors carry their own codes
	}
	opts := store.ConnectOptions{Attempts: cfg.Database.ConnectAttempts}

	db, err := deps.ConnectDB(ctx, cfg.Database.URL, opts)
	if err != nil {
		return nil, err
	}
	s := &stores{db: db}

	if cfg.Session.Backend == config.BackendRedis {
		rdb, err := deps.ConnectRedis(ctx, cfg.Session.RedisAddr, opts)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.rdb = rdb
	}
	return s, nil
}
