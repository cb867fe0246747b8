// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

// Package auth provides authentication and session lifecycle primitives.
//
// # Components
//
// The package is layered leaf-first:
//   - Argon2idHasher - salted, memory-hard password hashing with rehash detection
//   - LockoutPolicy - pure lockout decision over recent failed attempts
//   - AttemptLedger - append-only login attempt log feeding the lockout policy
//   - SessionStore - opaque bearer tokens with sliding inactivity expiry
//   - Service - the Authenticate, ValidateSession and Logout flows
//
// Persistence is delegated to the UserRepository, AttemptRepository and
// SessionRepository interfaces; see the postgres and redis subpackages.
//
// # Errors
//
// Every Service call that fails returns an *Error carrying one ErrorKind.
// Callers switch on KindOf(err) instead of matching messages.
package auth
