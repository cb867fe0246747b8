// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/dr3hardware/authd/pkg/errutil"
)

// Session token configuration.
const (
	SessionTokenBytes  = 32 // 256 bits, 43 base64url chars
	DefaultIdleTimeout = time.Hour
)

// ErrTokenCollision is returned by SessionRepository.Insert when the token hash
// already exists.
var ErrTokenCollision = errors.New("session token collision")

// Session is one authenticated client context. Only the token hash is stored.
type Session struct {
	TokenHash    string
	UserID       ulid.ULID
	Origin       string
	UserAgent    string
	CreatedAt    time.Time
	LastActivity time.Time
	Active       bool
}

// IdleAt reports whether the session has been idle longer than timeout at t.
func (s *Session) IdleAt(t time.Time, timeout time.Duration) bool {
	return !s.LastActivity.After(t.Add(-timeout))
}

// SessionRepository persists sessions keyed by token hash.
type SessionRepository interface {
	// Insert stores a new active session. Returns ErrTokenCollision on a duplicate hash.
	Insert(ctx context.Context, session *Session) error

	// FindActiveWithUser returns claims for an active session of an Active user whose
	// last activity is after idleSince. Returns ErrNotFound otherwise.
	FindActiveWithUser(ctx context.Context, tokenHash string, idleSince time.Time) (*Claims, error)

	// Touch advances last activity to at. It never moves the timestamp backwards.
	Touch(ctx context.Context, tokenHash string, at time.Time) error

	// Deactivate marks the session inactive. Unknown hashes are not an error.
	Deactivate(ctx context.Context, tokenHash string) error

	// PurgeInactive deletes inactive sessions and sessions idle since before idleSince.
	PurgeInactive(ctx context.Context, idleSince time.Time) (int64, error)
}

// GenerateSessionToken creates a URL-safe random token and its hash.
// The plaintext token goes to the client; the hash is stored.
func GenerateSessionToken() (token, hash string, err error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}

	token = base64.RawURLEncoding.EncodeToString(tokenBytes)
	return token, HashSessionToken(token), nil
}

// HashSessionToken computes the SHA256 hex digest of a session token.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// SessionStore creates, validates and invalidates sessions with sliding expiry.
type SessionStore struct {
	repo        SessionRepository
	idleTimeout time.Duration
	opts        options
}

// NewSessionStore creates a SessionStore. idleTimeout is the inactivity ceiling.
func NewSessionStore(repo SessionRepository, idleTimeout time.Duration, opts ...Option) (*SessionStore, error) {
	if repo == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("session repository is required")
	}
	if idleTimeout <= 0 {
		return nil, oops.Code("AUTH_INVALID_IDLE_TIMEOUT").
			With("idle_timeout", idleTimeout).
			Errorf("idle timeout must be positive")
	}
	return &SessionStore{repo: repo, idleTimeout: idleTimeout, opts: newOptions(opts)}, nil
}

// IdleTimeout returns the inactivity ceiling.
func (s *SessionStore) IdleTimeout() time.Duration {
	return s.idleTimeout
}

// Create mints a token for userID and persists its session.
func (s *SessionStore) Create(ctx context.Context, userID ulid.ULID, origin, userAgent string) (string, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return "", oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}

	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return "", err
	}

	now := s.opts.clock()
	session := &Session{
		TokenHash:    tokenHash,
		UserID:       userID,
		Origin:       origin,
		UserAgent:    userAgent,
		CreatedAt:    now,
		LastActivity: now,
		Active:       true,
	}
	if err := s.repo.Insert(ctx, session); err != nil {
		return "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return token, nil
}

// Validate returns the session's claims and slides its expiry forward.
// A miss returns (nil, nil) whether the token never existed, expired, was
// invalidated, or belongs to an inactive user.
func (s *SessionStore) Validate(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		s.opts.metrics.SessionValidation("miss")
		return nil, nil
	}

	tokenHash := HashSessionToken(token)
	now := s.opts.clock()

	claims, err := s.repo.FindActiveWithUser(ctx, tokenHash, now.Add(-s.idleTimeout))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.opts.metrics.SessionValidation("miss")
			return nil, nil
		}
		s.opts.metrics.SessionValidation("error")
		return nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "find active session").
			Wrap(err)
	}

	if err := s.repo.Touch(ctx, tokenHash, now); err != nil {
		errutil.LogWarn(s.opts.logger, "failed to touch session", err,
			"user_id", claims.UserID.String(),
		)
	}

	s.opts.metrics.SessionValidation("hit")
	return claims, nil
}

// Invalidate ends the session. Unknown or already inactive tokens are a no-op.
func (s *SessionStore) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.repo.Deactivate(ctx, HashSessionToken(token)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("SESSION_INVALIDATE_FAILED").
			With("operation", "deactivate session").
			Wrap(err)
	}
	return nil
}

// Purge deletes sessions that can no longer validate.
func (s *SessionStore) Purge(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeInactive(ctx, s.opts.clock().Add(-s.idleTimeout))
	if err != nil {
		return 0, oops.Code("SESSION_PURGE_FAILED").
			With("operation", "purge inactive sessions").
			Wrap(err)
	}
	return n, nil
}
