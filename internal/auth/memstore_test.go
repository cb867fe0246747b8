// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package auth_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"

	"github.com/dr3hardware/authd/internal/auth"
)

// memStore is an in-memory stand-in for the relational store. It implements
// the user, attempt and session repositories with the same filtering rules
// as the postgres queries.
type memStore struct {
	mu       sync.Mutex
	users    map[ulid.ULID]*auth.User
	attempts []auth.LoginAttempt
	sessions map[string]*auth.Session
	logins   map[ulid.ULID]time.Time
	rehashes int
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[ulid.ULID]*auth.User),
		sessions: make(map[string]*auth.Session),
		logins:   make(map[ulid.ULID]time.Time),
	}
}

func (m *memStore) addUser(u *auth.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *u
	m.users[u.ID] = &clone
}

func (m *memStore) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			clone := *u
			return &clone, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *memStore) FindByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *memStore) UpdatePasswordHash(_ context.Context, id ulid.ULID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = passwordHash
	m.rehashes++
	return nil
}

func (m *memStore) RecordLogin(_ context.Context, id ulid.ULID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins[id] = at
	return nil
}

func (m *memStore) Insert(_ context.Context, attempt *auth.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *attempt)
	return nil
}

func (m *memStore) RecentFailures(_ context.Context, username string, since time.Time) ([]auth.LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.LoginAttempt
	for _, a := range m.attempts {
		if a.Username == username && !a.Success && a.At.After(since) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (m *memStore) attemptsFor(username string) []auth.LoginAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.LoginAttempt
	for _, a := range m.attempts {
		if a.Username == username {
			out = append(out, a)
		}
	}
	return out
}

// sessionRepo exposes the session half of the store. Its Insert differs from
// the attempt Insert, so it needs its own method set.
func (m *memStore) sessionRepo() *memSessions {
	return (*memSessions)(m)
}

func (m *memStore) sessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

type memSessions memStore

func (s *memSessions) Insert(_ context.Context, session *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.TokenHash]; exists {
		return auth.ErrTokenCollision
	}
	clone := *session
	s.sessions[session.TokenHash] = &clone
	return nil
}

func (s *memSessions) FindActiveWithUser(_ context.Context, tokenHash string, idleSince time.Time) (*auth.Claims, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[tokenHash]
	if !ok || !session.Active || !session.LastActivity.After(idleSince) {
		return nil, auth.ErrNotFound
	}
	user, ok := s.users[session.UserID]
	if !ok || !user.IsActive() {
		return nil, auth.ErrNotFound
	}
	claims := user.Claims()
	return &claims, nil
}

func (s *memSessions) Touch(_ context.Context, tokenHash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[tokenHash]
	if !ok {
		return auth.ErrNotFound
	}
	if at.After(session.LastActivity) {
		session.LastActivity = at
	}
	return nil
}

func (s *memSessions) Deactivate(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[tokenHash]; ok {
		session.Active = false
	}
	return nil
}

func (s *memSessions) PurgeInactive(_ context.Context, idleSince time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, session := range s.sessions {
		if !session.Active || !session.LastActivity.After(idleSince) {
			delete(s.sessions, hash)
			n++
		}
	}
	return n, nil
}

func (s *memSessions) lastActivity(token string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[auth.HashSessionToken(token)]; ok {
		return session.LastActivity
	}
	return time.Time{}
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingMetrics records auth metric events for assertions.
type countingMetrics struct {
	mu          sync.Mutex
	outcomes    map[string]int
	validations map[string]int
	ledger      int
	rehash      map[string]int
}

func (m *countingMetrics) LoginOutcome(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string]int)
	}
	m.outcomes[outcome]++
}

func (m *countingMetrics) SessionValidation(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.validations == nil {
		m.validations = make(map[string]int)
	}
	m.validations[result]++
}

func (m *countingMetrics) LedgerWriteFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger++
}

func (m *countingMetrics) Rehash(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rehash == nil {
		m.rehash = make(map[string]int)
	}
	m.rehash[result]++
}

func (m *countingMetrics) ledgerFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger
}

func (m *countingMetrics) outcome(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[name]
}

func (m *countingMetrics) validation(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validations[name]
}

func (m *countingMetrics) rehashed(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rehash[name]
}

// testHashParams keeps argon2 cheap in unit tests.
func testHashParams() auth.HashParams {
	return auth.HashParams{Time: 1, MemoryKiB: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}
}

func newTestHasher(t *testing.T) *auth.Argon2idHasher {
	t.Helper()
	hasher, err := auth.NewArgon2idHasher(testHashParams())
	require.NoError(t, err)
	return hasher
}

var (
	_ auth.UserRepository    = (*memStore)(nil)
	_ auth.AttemptRepository = (*memStore)(nil)
	_ auth.SessionRepository = (*memSessions)(nil)
	_ auth.Metrics           = (*countingMetrics)(nil)
)
