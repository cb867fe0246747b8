// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package store

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// redisPinger adapts a redis client to pinger.
type redisPinger struct {
	client goredis.UniversalClient
}

func (p redisPinger) Ping(ctx context.Context) error {
	//nolint:wrapcheck // wrapped by the caller
	return p.client.Ping(ctx).Err()
}

// RedisPinger exposes a redis client to Ping and readiness checks.
func RedisPinger(client goredis.UniversalClient) interface{ Ping(context.Context) error } {
	return redisPinger{client: client}
}

// ConnectRedis opens a client for addr ("host:port") and pings it with the
// same backoff as Connect. Context deadlines apply to socket reads and writes.
func ConnectRedis(ctx context.Context, addr string, opts ConnectOptions) (*goredis.Client, error) {
	if addr == "" {
		return nil, oops.Code("REDIS_INVALID_ADDR").Errorf("redis address is required")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr, ContextTimeoutEnabled: true})

	if err := waitReady(ctx, redisPinger{client: client}, opts); err != nil {
		_ = client.Close()
		return nil, oops.With("addr", addr).Wrap(err)
	}
	return client, nil
}
