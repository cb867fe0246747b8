// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

// Package mocks provides testify mocks for the auth repository and hasher interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/dr3hardware/authd/internal/auth"
)

// TestingT is the subset of *testing.T the mocks need for cleanup assertions.
type TestingT interface {
	mock.TestingT
	Cleanup(func())
}

// MockUserRepository is a mock of auth.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

// NewMockUserRepository creates a mock whose expectations are asserted on cleanup.
func NewMockUserRepository(t TestingT) *MockUserRepository {
	m := &MockUserRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockUserRepository) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	args := m.Called(ctx, username)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockUserRepository) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockUserRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return m.Called(ctx, id, passwordHash).Error(0)
}

func (m *MockUserRepository) RecordLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

// MockAttemptRepository is a mock of auth.AttemptRepository.
type MockAttemptRepository struct {
	mock.Mock
}

// NewMockAttemptRepository creates a mock whose expectations are asserted on cleanup.
func NewMockAttemptRepository(t TestingT) *MockAttemptRepository {
	m := &MockAttemptRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockAttemptRepository) Insert(ctx context.Context, attempt *auth.LoginAttempt) error {
	return m.Called(ctx, attempt).Error(0)
}

func (m *MockAttemptRepository) RecentFailures(ctx context.Context, username string, since time.Time) ([]auth.LoginAttempt, error) {
	args := m.Called(ctx, username, since)
	attempts, _ := args.Get(0).([]auth.LoginAttempt)
	return attempts, args.Error(1)
}

// MockSessionRepository is a mock of auth.SessionRepository.
type MockSessionRepository struct {
	mock.Mock
}

// NewMockSessionRepository creates a mock whose expectations are asserted on cleanup.
func NewMockSessionRepository(t TestingT) *MockSessionRepository {
	m := &MockSessionRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockSessionRepository) Insert(ctx context.Context, session *auth.Session) error {
	return m.Called(ctx, session).Error(0)
}

func (m *MockSessionRepository) FindActiveWithUser(ctx context.Context, tokenHash string, idleSince time.Time) (*auth.Claims, error) {
	args := m.Called(ctx, tokenHash, idleSince)
	claims, _ := args.Get(0).(*auth.Claims)
	return claims, args.Error(1)
}

func (m *MockSessionRepository) Touch(ctx context.Context, tokenHash string, at time.Time) error {
	return m.Called(ctx, tokenHash, at).Error(0)
}

func (m *MockSessionRepository) Deactivate(ctx context.Context, tokenHash string) error {
	return m.Called(ctx, tokenHash).Error(0)
}

func (m *MockSessionRepository) PurgeInactive(ctx context.Context, idleSince time.Time) (int64, error) {
	args := m.Called(ctx, idleSince)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

// MockPasswordHasher is a mock of auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a mock whose expectations are asserted on cleanup.
func NewMockPasswordHasher(t TestingT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *MockPasswordHasher) Verify(encodedHash, password string) (matched, needsRehash bool) {
	args := m.Called(encodedHash, password)
	return args.Bool(0), args.Bool(1)
}

var (
	_ auth.UserRepository    = (*MockUserRepository)(nil)
	_ auth.AttemptRepository = (*MockAttemptRepository)(nil)
	_ auth.SessionRepository = (*MockSessionRepository)(nil)
	_ auth.PasswordHasher    = (*MockPasswordHasher)(nil)
)
