// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// UserStatus gates authentication and session validity.
type UserStatus string

// User statuses. Transitions are owned by the user management layer.
const (
	StatusActive   UserStatus = "Active"
	StatusInactive UserStatus = "Inactive"
)

// User is the identity record consumed by authentication.
// PasswordHash must never be serialized to clients.
type User struct {
	ID           ulid.ULID
	Username     string
	PasswordHash string
	FullName     string
	Role         string
	Status       UserStatus
}

// IsActive reports whether the user may log in.
func (u *User) IsActive() bool {
	return u.Status == StatusActive
}

// Claims returns the minimal identity fields handed to callers.
func (u *User) Claims() Claims {
	return Claims{
		UserID:   u.ID,
		Username: u.Username,
		FullName: u.FullName,
		Role:     u.Role,
	}
}

// Claims are the identity and authorization fields of an authenticated session.
type Claims struct {
	UserID   ulid.ULID `json:"user_id"`
	Username string    `json:"username"`
	FullName string    `json:"full_name"`
	Role     string    `json:"role"`
}

// UserRepository is the user store as seen by authentication.
type UserRepository interface {
	// FindByUsername returns ErrNotFound if no user has the username.
	FindByUsername(ctx context.Context, username string) (*User, error)

	// FindByID returns ErrNotFound if no user has the id.
	FindByID(ctx context.Context, id ulid.ULID) (*User, error)

	// UpdatePasswordHash replaces the stored hash.
	UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error

	// RecordLogin stamps the last login time and clears the failed counter.
	RecordLogin(ctx context.Context, id ulid.ULID, at time.Time) error
}
