// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dr3hardware/authd/internal/config"
	"github.com/dr3hardware/authd/internal/logging"
	"github.com/dr3hardware/authd/internal/xdg"
)

const serviceName = "authd"

// NewRootCmd creates the root command for the authd CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(Deps{})
}

func newRootCmd(deps Deps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "authd",
		Short: "authd - password authentication and session service",
		Long: `authd verifies argon2id password credentials, locks accounts out after
repeated failures and issues sliding-expiry sessions backed by PostgreSQL
or Redis.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path (default $XDG_CONFIG_HOME/authd/authd.yaml)")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd(deps))
	cmd.AddCommand(newMigrateCmd(deps))
	cmd.AddCommand(newHashPasswordCmd(deps))
	cmd.AddCommand(newSessionCmd(deps))
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the layered configuration for cmd. Without --config the
// XDG config file is used when one exists.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		path = ""
	}
	if path == "" {
		if path, err = xdg.FindConfigFile(); err != nil {
			return nil, err //nolint:wrapcheck // xdg errors carry their own codes
		}
	}
	//nolint:wrapcheck // config errors carry their own codes
	return config.Load(path, cmd.Flags())
}

// setupLogging installs the process logger described by cfg.
func setupLogging(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.Setup(serviceName, version, logging.Options{
		Format: cfg.Log.Format,
		Level:  cfg.Log.Level,
	}, cmd.ErrOrStderr())
	if err != nil {
		//nolint:wrapcheck // logging errors carry their own codes
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}
