// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

// Package redis stores sessions in Redis. User status and claims are read
// through an auth.UserRepository so that deactivating a user still ends
// their sessions.
package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/dr3hardware/authd/internal/auth"
)

// KeyPrefix namespaces session hashes.
const KeyPrefix = "session:"

// DefaultQueryTimeout bounds each Redis round trip when no timeout is given.
const DefaultQueryTimeout = 5 * time.Second

const (
	fieldUserID       = "user_id"
	fieldOrigin       = "ip_address"
	fieldUserAgent    = "user_agent"
	fieldCreatedAt    = "created_at"
	fieldLastActivity = "last_activity"
	fieldActive       = "active"
)

// Timestamps are stored as unix microseconds, which Lua numbers hold exactly.
var insertScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return 1
`)

var touchScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'last_activity')
if not cur then
	return 0
end
if tonumber(ARGV[1]) > tonumber(cur) then
	redis.call('HSET', KEYS[1], 'last_activity', ARGV[1])
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

var deactivateScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('HSET', KEYS[1], 'active', '0')
end
return 1
`)

// SessionRepository implements auth.SessionRepository on Redis hashes keyed
// by session:<token hash>. Each key expires after the idle timeout and every
// touch refreshes the expiry.
type SessionRepository struct {
	client       goredis.UniversalClient
	users        auth.UserRepository
	idleTimeout  time.Duration
	queryTimeout time.Duration
}

// NewSessionRepository creates a SessionRepository. Every Redis call runs
// under queryTimeout; a non-positive value selects DefaultQueryTimeout. The
// client should have ContextTimeoutEnabled set so the deadline reaches the
// socket.
func NewSessionRepository(client goredis.UniversalClient, users auth.UserRepository, idleTimeout, queryTimeout time.Duration) (*SessionRepository, error) {
	if client == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("redis client is required")
	}
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("users repository is required")
	}
	if idleTimeout <= 0 {
		return nil, oops.Code("AUTH_INVALID_IDLE_TIMEOUT").
			With("idle_timeout", idleTimeout).
			Errorf("idle timeout must be positive")
	}
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	return &SessionRepository{
		client:       client,
		users:        users,
		idleTimeout:  idleTimeout,
		queryTimeout: queryTimeout,
	}, nil
}

func key(tokenHash string) string {
	return KeyPrefix + tokenHash
}

func (r *SessionRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.queryTimeout)
}

// deadlineErr marks err as context.DeadlineExceeded when ctx ran out first.
// go-redis reports a socket deadline as a network timeout.
func deadlineErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return errors.Join(err, context.DeadlineExceeded)
	}
	return err
}

// Insert stores a new session. An existing key for the hash is a collision.
func (r *SessionRepository) Insert(ctx context.Context, session *auth.Session) error {
	active := "0"
	if session.Active {
		active = "1"
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	created, err := insertScript.Run(ctx, r.client, []string{key(session.TokenHash)},
		r.idleTimeout.Milliseconds(),
		fieldUserID, session.UserID.String(),
		fieldOrigin, session.Origin,
		fieldUserAgent, session.UserAgent,
		fieldCreatedAt, session.CreatedAt.UnixMicro(),
		fieldLastActivity, session.LastActivity.UnixMicro(),
		fieldActive, active,
	).Int()
	if err != nil {
		return oops.Code("SESSION_INSERT_FAILED").
			With("operation", "insert session hash").
			With("user_id", session.UserID.String()).
			Wrap(deadlineErr(ctx, err))
	}
	if created == 0 {
		return oops.Code("SESSION_TOKEN_COLLISION").
			With("user_id", session.UserID.String()).
			Wrap(auth.ErrTokenCollision)
	}
	return nil
}

// FindActiveWithUser returns claims for a live session of an Active user.
func (r *SessionRepository) FindActiveWithUser(ctx context.Context, tokenHash string, idleSince time.Time) (*auth.Claims, error) {
	fields, err := r.readSession(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 || fields[fieldActive] != "1" {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}

	lastActivity, err := strconv.ParseInt(fields[fieldLastActivity], 10, 64)
	if err != nil {
		return nil, oops.Code("SESSION_CORRUPT").
			With("field", fieldLastActivity).
			Wrap(err)
	}
	if lastActivity <= idleSince.UnixMicro() {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}

	userID, err := ulid.Parse(fields[fieldUserID])
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_USER_ID").
			With("user_id", fields[fieldUserID]).
			Wrap(err)
	}

	user, err := r.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
		}
		return nil, oops.Code("SESSION_USER_LOOKUP_FAILED").
			With("operation", "find session user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if !user.IsActive() {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}

	claims := user.Claims()
	return &claims, nil
}

func (r *SessionRepository) readSession(ctx context.Context, tokenHash string) (map[string]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	fields, err := r.client.HGetAll(ctx, key(tokenHash)).Result()
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_TOKEN_FAILED").
			With("operation", "read session hash").
			Wrap(deadlineErr(ctx, err))
	}
	return fields, nil
}

// Touch advances last_activity monotonically and refreshes the key expiry.
func (r *SessionRepository) Touch(ctx context.Context, tokenHash string, at time.Time) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	found, err := touchScript.Run(ctx, r.client, []string{key(tokenHash)},
		at.UnixMicro(), r.idleTimeout.Milliseconds()).Int()
	if err != nil {
		return oops.Code("SESSION_TOUCH_FAILED").
			With("operation", "touch session").
			Wrap(deadlineErr(ctx, err))
	}
	if found == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return nil
}

// Deactivate marks the session inactive without creating missing keys.
func (r *SessionRepository) Deactivate(ctx context.Context, tokenHash string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := deactivateScript.Run(ctx, r.client, []string{key(tokenHash)}).Err(); err != nil {
		return oops.Code("SESSION_DEACTIVATE_FAILED").
			With("operation", "deactivate session").
			Wrap(deadlineErr(ctx, err))
	}
	return nil
}

// PurgeInactive removes inactive and idle sessions that have not yet expired
// on their own. Each round trip gets its own timeout.
func (r *SessionRepository) PurgeInactive(ctx context.Context, idleSince time.Time) (int64, error) {
	var (
		cursor uint64
		purged int64
	)
	cutoff := idleSince.UnixMicro()
	for {
		keys, next, err := r.scan(ctx, cursor)
		if err != nil {
			return purged, err
		}
		for _, k := range keys {
			n, err := r.purgeKey(ctx, k, cutoff)
			if err != nil {
				return purged, err
			}
			purged += n
		}
		if next == 0 {
			return purged, nil
		}
		cursor = next
	}
}

func (r *SessionRepository) scan(ctx context.Context, cursor uint64) ([]string, uint64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	keys, next, err := r.client.Scan(ctx, cursor, KeyPrefix+"*", 100).Result()
	if err != nil {
		return nil, 0, oops.Code("SESSION_PURGE_FAILED").
			With("operation", "scan session keys").
			Wrap(deadlineErr(ctx, err))
	}
	return keys, next, nil
}

// purgeKey deletes k when it describes a dead session and returns the number
// of keys removed.
func (r *SessionRepository) purgeKey(ctx context.Context, k string, cutoff int64) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	vals, err := r.client.HMGet(ctx, k, fieldActive, fieldLastActivity).Result()
	if err != nil {
		return 0, oops.Code("SESSION_PURGE_FAILED").
			With("operation", "read session state").
			Wrap(deadlineErr(ctx, err))
	}
	if !stale(vals, cutoff) {
		return 0, nil
	}
	n, err := r.client.Del(ctx, k).Result()
	if err != nil {
		return 0, oops.Code("SESSION_PURGE_FAILED").
			With("operation", "delete session").
			Wrap(deadlineErr(ctx, err))
	}
	return n, nil
}

// stale reports whether HMGET(active, last_activity) describes a dead session.
func stale(vals []any, cutoff int64) bool {
	active, _ := vals[0].(string)
	if active != "1" {
		return true
	}
	raw, _ := vals[1].(string)
	last, err := strconv.ParseInt(raw, 10, 64)
	return err != nil || last <= cutoff
}

var _ auth.SessionRepository = (*SessionRepository)(nil)
