// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package auth

import (
	"time"

	"github.com/samber/oops"
)

// Lockout defaults.
const (
	// DefaultLockoutThreshold is the number of failures in the window that locks an account.
	DefaultLockoutThreshold = 5

	// DefaultLockoutWindow is how far back failures are counted.
	DefaultLockoutWindow = 15 * time.Minute

	// DefaultLockoutCooldown is how long a lockout lasts after the latest failure.
	DefaultLockoutCooldown = 15 * time.Minute
)

// LockoutPolicy decides lockout from a time-windowed failure history.
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
	Cooldown  time.Duration
}

// DefaultLockoutPolicy returns 5 failures in 15 minutes, locked for 15 minutes.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		Threshold: DefaultLockoutThreshold,
		Window:    DefaultLockoutWindow,
		Cooldown:  DefaultLockoutCooldown,
	}
}

// Validate rejects policies that could never lock or never unlock.
func (p LockoutPolicy) Validate() error {
	if p.Threshold < 1 {
		return oops.Code("AUTH_INVALID_LOCKOUT_POLICY").With("threshold", p.Threshold).
			Errorf("threshold must be at least 1")
	}
	if p.Window <= 0 || p.Cooldown <= 0 {
		return oops.Code("AUTH_INVALID_LOCKOUT_POLICY").
			With("window", p.Window).
			With("cooldown", p.Cooldown).
			Errorf("window and cooldown must be positive")
	}
	return nil
}

// LockoutState is derived on every login attempt and never persisted.
type LockoutState struct {
	Locked    bool
	Remaining time.Duration
}

// RemainingMinutes returns the cooldown rounded up to whole minutes.
func (s LockoutState) RemainingMinutes() int {
	if !s.Locked || s.Remaining <= 0 {
		return 0
	}
	return int((s.Remaining + time.Minute - 1) / time.Minute)
}

// Evaluate computes the lockout state for one identity's attempt history at now.
// Only failures after now-Window count; a success inside the window does not
// reset the count. The latest failure anchors the end of the cooldown.
func (p LockoutPolicy) Evaluate(attempts []LoginAttempt, now time.Time) LockoutState {
	windowStart := now.Add(-p.Window)

	var failures int
	var lastFailure time.Time
	for _, a := range attempts {
		if a.Success || !a.At.After(windowStart) || a.At.After(now) {
			continue
		}
		failures++
		if a.At.After(lastFailure) {
			lastFailure = a.At
		}
	}

	if failures < p.Threshold {
		return LockoutState{}
	}

	end := lastFailure.Add(p.Cooldown)
	if !now.Before(end) {
		return LockoutState{}
	}
	return LockoutState{Locked: true, Remaining: end.Sub(now)}
}
