// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/dr3hardware/authd/pkg/errutil"
)

// Failure reasons stored with failed attempts.
const (
	ReasonUserNotFound    = "User not found"
	ReasonInvalidPassword = "Invalid password"
)

// LoginAttempt is an immutable record of one login call.
// Username is whatever the caller typed and need not name a real user.
type LoginAttempt struct {
	ID       ulid.ULID
	Username string
	Origin   string
	Success  bool
	Reason   string
	At       time.Time
}

// AttemptRepository persists login attempts. Retention is an external policy.
type AttemptRepository interface {
	// Insert appends one attempt.
	Insert(ctx context.Context, attempt *LoginAttempt) error

	// RecentFailures returns failed attempts for username after since, oldest first.
	RecentFailures(ctx context.Context, username string, since time.Time) ([]LoginAttempt, error)
}

// AttemptLedger records login attempts and derives lockout state from them.
// Ledger writes are best-effort and never change an authentication result.
type AttemptLedger struct {
	repo   AttemptRepository
	policy LockoutPolicy
	opts   options
}

// NewAttemptLedger creates an AttemptLedger.
func NewAttemptLedger(repo AttemptRepository, policy LockoutPolicy, opts ...Option) (*AttemptLedger, error) {
	if repo == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("attempt repository is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &AttemptLedger{repo: repo, policy: policy, opts: newOptions(opts)}, nil
}

// Policy returns the lockout policy in effect.
func (l *AttemptLedger) Policy() LockoutPolicy {
	return l.policy
}

// Record appends an attempt. Failures are logged and swallowed.
func (l *AttemptLedger) Record(ctx context.Context, username string, success bool, origin, reason string) {
	at := l.opts.clock()
	attempt := &LoginAttempt{
		ID:       newULID(at),
		Username: username,
		Origin:   origin,
		Success:  success,
		Reason:   reason,
		At:       at,
	}
	if err := l.repo.Insert(ctx, attempt); err != nil {
		l.opts.metrics.LedgerWriteFailure()
		errutil.LogWarn(l.opts.logger, "failed to record login attempt", err,
			"username", username,
			"success", success,
		)
	}
}

// RecentFailures returns the failures for username inside window.
func (l *AttemptLedger) RecentFailures(ctx context.Context, username string, window time.Duration) ([]LoginAttempt, error) {
	since := l.opts.clock().Add(-window)
	attempts, err := l.repo.RecentFailures(ctx, username, since)
	if err != nil {
		return nil, oops.Code("AUTH_LEDGER_READ_FAILED").
			With("operation", "recent failures").
			With("username", username).
			Wrap(err)
	}
	return attempts, nil
}

// Lockout evaluates the lockout state for username now.
// A ledger read failure is logged and treated as unlocked.
func (l *AttemptLedger) Lockout(ctx context.Context, username string) LockoutState {
	attempts, err := l.RecentFailures(ctx, username, l.policy.Window)
	if err != nil {
		errutil.LogWarn(l.opts.logger, "lockout check failed, allowing attempt", err,
			"username", username,
		)
		return LockoutState{}
	}
	return l.policy.Evaluate(attempts, l.opts.clock())
}
