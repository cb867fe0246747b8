// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dr3hardware/authd/internal/auth"
	"github.com/dr3hardware/authd/internal/observability"
)

// shutdownTimeout bounds the graceful stop of the observability server.
const shutdownTimeout = 5 * time.Second

func newServeCmd(deps Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the authd process",
		Long: `Connect to the stores, expose metrics and health probes and sweep
expired sessions until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, deps)
		},
	}
}

func runServe(cmd *cobra.Command, deps Deps) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := setupLogging(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := []auth.Option{auth.WithLogger(logger)}
	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, st.ready)
		metrics = obsServer.Metrics()
		opts = append(opts, auth.WithMetrics(metrics))
	}

	stack, err := buildAuth(cfg, st.db, st.rdb, opts...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if obsServer != nil {
		errCh, err := obsServer.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		g.Go(func() error {
			select {
			case serveErr, ok := <-errCh:
				if ok && serveErr != nil {
					return oops.Code("OBSERVABILITY_FAILED").Wrap(serveErr)
				}
				return nil
			case <-gctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
				defer cancel()
				//nolint:wrapcheck // observability errors carry their own context
				return obsServer.Stop(shutdownCtx)
			}
		})
	}

	var onPurged func(int64)
	if metrics != nil {
		onPurged = metrics.Purged
	}
	g.Go(func() error {
		return runSweeper(gctx, stack.sessions, cfg.Session.SweepInterval, onPurged, logger)
	})

	cmd.Println("authd started")
	logger.InfoContext(ctx, "authd ready",
		"session_backend", cfg.Session.Backend,
		"idle_timeout", cfg.Session.IdleTimeout.String(),
		"metrics_addr", cfg.Metrics.Addr,
	)

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err //nolint:wrapcheck // group members wrap their own errors
	}
	logger.InfoContext(context.WithoutCancel(ctx), "shutdown complete")
	return nil
}
