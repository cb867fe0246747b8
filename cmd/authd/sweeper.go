// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/dr3hardware/authd/pkg/errutil"
)

// purger removes sessions that can no longer validate.
type purger interface {
	Purge(ctx context.Context) (int64, error)
}

// runSweeper purges dead sessions every interval until ctx ends. A failed
// sweep is logged and retried on the next tick. A non-positive interval
// disables sweeping but still blocks until ctx ends.
func runSweeper(ctx context.Context, p purger, interval time.Duration, onPurged func(int64), logger *slog.Logger) error {
	if interval <= 0 {
		logger.InfoContext(ctx, "session sweeper disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := p.Purge(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				errutil.LogWarn(logger, "session sweep failed", err)
				continue
			}
			if n > 0 {
				logger.InfoContext(ctx, "purged sessions", "count", n)
			}
			if onPurged != nil {
				onPurged(n)
			}
		}
	}
}
