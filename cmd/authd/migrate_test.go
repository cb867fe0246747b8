// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package main

import (
	"context"
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dr3hardware/authd/pkg/errutil"
)

func TestParseForceVersion(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantVersion int
		wantErr     bool
	}{
		{name: "valid integer", input: "3", wantVersion: 3},
		{name: "zero is valid", input: "0", wantVersion: 0},
		{name: "surrounding whitespace is trimmed", input: "  42 ", wantVersion: 42},
		{name: "non-numeric", input: "abc", wantErr: true},
		{name: "float", input: "1.5", wantErr: true},
		{name: "trailing characters", input: "3abc", wantErr: true},
		{name: "negative", input: "-1", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, err := parseForceVersion(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "INVALID_VERSION")
				assert.Zero(t, version)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, version)
		})
	}
}

// fakeMigrator records calls made by the migrate commands.
type fakeMigrator struct {
	calls    []string
	pending  []uint
	version  uint
	dirty    bool
	err      error
	closeErr error
}

func (m *fakeMigrator) Up() error         { m.calls = append(m.calls, "up"); return m.err }
func (m *fakeMigrator) Down() error       { m.calls = append(m.calls, "down"); return m.err }
func (m *fakeMigrator) Steps(n int) error { m.calls = append(m.calls, "steps"); return m.err }
func (m *fakeMigrator) Version() (uint, bool, error) {
	m.calls = append(m.calls, "version")
	return m.version, m.dirty, m.err
}
func (m *fakeMigrator) Force(v int) error { m.calls = append(m.calls, "force"); return m.err }
func (m *fakeMigrator) PendingMigrations() ([]uint, error) {
	m.calls = append(m.calls, "pending")
	return m.pending, nil
}
func (m *fakeMigrator) Close() error { m.calls = append(m.calls, "close"); return m.closeErr }

func migratorDeps(m *fakeMigrator, gotURL *string) Deps {
	return Deps{
		MigratorFactory: func(url string) (Migrator, error) {
			*gotURL = url
			return m, nil
		},
	}
}

func TestMigrateCommands(t *testing.T) {
	tests := []struct {
		name      string
		fake      *fakeMigrator
		args      []string
		wantCalls []string
		wantOut   string
	}{
		{
			name:      "up applies pending",
			fake:      &fakeMigrator{pending: []uint{2, 3}},
			args:      []string{"migrate", "up"},
			wantCalls: []string{"pending", "up", "close"},
			wantOut:   "Applying 000003_user_sessions",
		},
		{
			name:      "up with nothing pending",
			fake:      &fakeMigrator{},
			args:      []string{"migrate", "up"},
			wantCalls: []string{"pending", "close"},
			wantOut:   "No pending migrations",
		},
		{
			name:      "down rolls back one step",
			fake:      &fakeMigrator{},
			args:      []string{"migrate", "down"},
			wantCalls: []string{"steps", "close"},
			wantOut:   "Rollback completed",
		},
		{
			name:      "down --all",
			fake:      &fakeMigrator{},
			args:      []string{"migrate", "down", "--all"},
			wantCalls: []string{"down", "close"},
			wantOut:   "Rollback completed",
		},
		{
			name:      "version",
			fake:      &fakeMigrator{version: 2},
			args:      []string{"migrate", "version"},
			wantCalls: []string{"version", "close"},
			wantOut:   "Version 2 (000002_login_attempts)",
		},
		{
			name:      "version dirty",
			fake:      &fakeMigrator{version: 3, dirty: true},
			args:      []string{"migrate", "version"},
			wantCalls: []string{"version", "close"},
			wantOut:   "is dirty",
		},
		{
			name:      "version empty",
			fake:      &fakeMigrator{},
			args:      []string{"migrate", "version"},
			wantCalls: []string{"version", "close"},
			wantOut:   "No migrations applied",
		},
		{
			name:      "force",
			fake:      &fakeMigrator{},
			args:      []string{"migrate", "force", "2"},
			wantCalls: []string{"force", "close"},
			wantOut:   "Forced version 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotURL string
			args := append([]string{"--database-url", "postgres://db/authd"}, tt.args...)
			stdout, stderr, err := execute(t, context.Background(), migratorDeps(tt.fake, &gotURL), args...)
			require.NoError(t, err)
			assert.Equal(t, "postgres://db/authd", gotURL)
			assert.Equal(t, tt.wantCalls, tt.fake.calls)
			assert.Contains(t, stdout+stderr, tt.wantOut)
		})
	}
}

func TestMigrateCommand_RequiresDatabaseURL(t *testing.T) {
	var gotURL string
	fake := &fakeMigrator{}
	_, _, err := execute(t, context.Background(), migratorDeps(fake, &gotURL), "migrate", "up")
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	assert.Empty(t, fake.calls)
}

func TestMigrateCommand_Errors(t *testing.T) {
	t.Run("operation error still closes", func(t *testing.T) {
		var gotURL string
		fake := &fakeMigrator{err: oops.Code("MIGRATION_STEPS_FAILED").Errorf("boom")}
		_, _, err := execute(t, context.Background(), migratorDeps(fake, &gotURL),
			"--database-url", "postgres://db/authd", "migrate", "down")
		errutil.AssertErrorCode(t, err, "MIGRATION_STEPS_FAILED")
		assert.Equal(t, []string{"steps", "close"}, fake.calls)
	})

	t.Run("close error surfaces", func(t *testing.T) {
		var gotURL string
		fake := &fakeMigrator{closeErr: errors.New("close failed")}
		_, _, err := execute(t, context.Background(), migratorDeps(fake, &gotURL),
			"--database-url", "postgres://db/authd", "migrate", "force", "1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "close failed")
	})

	t.Run("bad force version never opens a migrator", func(t *testing.T) {
		var gotURL string
		fake := &fakeMigrator{}
		_, _, err := execute(t, context.Background(), migratorDeps(fake, &gotURL),
			"--database-url", "postgres://db/authd", "migrate", "force", "x")
		errutil.AssertErrorCode(t, err, "INVALID_VERSION")
		assert.Empty(t, gotURL)
	})
}
