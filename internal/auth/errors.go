// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrorKind classifies the outcome of a failed Service call.
type ErrorKind int

// Error kinds returned by Service. The set is closed.
const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindAccountLocked
	KindInvalidCredentials
	KindAccountInactive
	KindStoreUnavailable
	KindTimeout
)

// String returns the snake_case label used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAccountLocked:
		return "account_locked"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindAccountInactive:
		return "account_inactive"
	case KindStoreUnavailable:
		return "store_unavailable"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

const opChangePassword = "change password"

// Error is the single error type returned by Service.
// Messages are safe to show to end users and never contain credentials.
type Error struct {
	Kind ErrorKind

	// RemainingMinutes is set for KindAccountLocked.
	RemainingMinutes int

	// Operation names the failed store step for KindStoreUnavailable and
	// KindTimeout, and the call for errors outside Authenticate.
	Operation string

	cause error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindValidation:
		if e.Operation == opChangePassword {
			return "new password is required"
		}
		return "username and password are required"
	case KindAccountLocked:
		return fmt.Sprintf("account locked, try again in %d minutes", e.RemainingMinutes)
	case KindInvalidCredentials:
		return "invalid username or password"
	case KindAccountInactive:
		return "account is inactive, contact an administrator"
	case KindTimeout:
		return "authentication store timed out"
	case KindStoreUnavailable:
		return "authentication store unavailable"
	default:
		return "authentication failed"
	}
}

// Unwrap exposes the underlying store error, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf returns the ErrorKind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) ErrorKind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return KindUnknown
}

// RemainingMinutes returns the lockout cooldown carried by an AccountLocked error.
func RemainingMinutes(err error) (int, bool) {
	var authErr *Error
	if errors.As(err, &authErr) && authErr.Kind == KindAccountLocked {
		return authErr.RemainingMinutes, true
	}
	return 0, false
}

func lockedError(minutes int) *Error {
	return &Error{Kind: KindAccountLocked, RemainingMinutes: minutes}
}

// storeError classifies a failed store call. Deadline errors and network
// timeouts become KindTimeout.
func storeError(operation string, err error) *Error {
	kind := KindStoreUnavailable
	if isTimeout(err) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Operation: operation, cause: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
