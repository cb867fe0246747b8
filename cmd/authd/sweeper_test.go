// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakePurger struct {
	mu      sync.Mutex
	results []int64
	errs    []error
	calls   atomic.Int32
}

func (p *fakePurger) Purge(context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := int(p.calls.Add(1)) - 1
	if i < len(p.errs) && p.errs[i] != nil {
		return 0, p.errs[i]
	}
	if i < len(p.results) {
		return p.results[i], nil
	}
	return 0, nil
}

func TestRunSweeper(t *testing.T) {
	defer goleak.VerifyNone(t)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	p := &fakePurger{
		results: []int64{0, 4},
		errs:    []error{errors.New("db down")},
	}
	var purged atomic.Int64

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runSweeper(ctx, p, time.Millisecond, func(n int64) { purged.Add(n) }, logger)
	}()

	require.Eventually(t, func() bool { return purged.Load() == 4 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.GreaterOrEqual(t, p.calls.Load(), int32(2))
	assert.Contains(t, logs.String(), "session sweep failed")
	assert.Contains(t, logs.String(), "purged sessions")
}

func TestRunSweeper_DisabledBlocksUntilCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := &fakePurger{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runSweeper(ctx, p, 0, nil, slog.New(slog.DiscardHandler))
	}()

	select {
	case <-done:
		t.Fatal("disabled sweeper returned before cancel")
	case <-time.After(20 * time.Millisecond):
	}
	cancel()
	require.NoError(t, <-done)
	assert.Zero(t, p.calls.Load())
}
