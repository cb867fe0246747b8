// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package main

import (
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/dr3hardware/authd/internal/config"
	"github.com/dr3hardware/authd/internal/store"
)

func newMigrateCmd(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Apply, roll back or inspect the embedded PostgreSQL schema migrations.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator) error {
				pending, err := m.PendingMigrations()
				if err != nil {
					return err //nolint:wrapcheck // store errors carry their own codes
				}
				if len(pending) == 0 {
					cmd.Println("No pending migrations")
					return nil
				}
				for _, v := range pending {
					name, _ := store.MigrationName(v)
					cmd.Printf("Applying %s\n", name)
				}
				if err := m.Up(); err != nil {
					return err //nolint:wrapcheck // store errors carry their own codes
				}
				cmd.Println("Migrations completed successfully")
				return nil
			})
		},
	})

	var all bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration (or all with --all)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator) error {
				var err error
				if all {
					err = m.Down()
				} else {
					err = m.Steps(-1)
				}
				if err != nil {
					return err //nolint:wrapcheck // store errors carry their own codes
				}
				cmd.Println("Rollback completed successfully")
				return nil
			})
		},
	}
	down.Flags().BoolVar(&all, "all", false, "roll back every migration")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err //nolint:wrapcheck // store errors carry their own codes
				}
				name, _ := store.MigrationName(v)
				switch {
				case v == 0:
					cmd.Println("No migrations applied")
				case dirty:
					cmd.Printf("Version %d (%s) is dirty; fix the schema and run migrate force\n", v, name)
				default:
					cmd.Printf("Version %d (%s)\n", v, name)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it",
		Long:  `Set the recorded schema version and clear the dirty flag after a failed migration was repaired by hand.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, deps, func(m Migrator) error {
				if err := m.Force(version); err != nil {
					return err //nolint:wrapcheck // store errors carry their own codes
				}
				cmd.Printf("Forced version %d\n", version)
				return nil
			})
		},
	})

	return cmd
}

// withMigrator loads configuration, opens a migrator and runs fn with it.
func withMigrator(cmd *cobra.Command, deps Deps, fn func(Migrator) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return runWithMigrator(cfg, deps, fn)
}

func runWithMigrator(cfg *config.Config, deps Deps, fn func(Migrator) error) (err error) {
	if err := cfg.RequireDatabase(); err != nil {
		return err //nolint:wrapcheck // config errors carry their own codes
	}
	m, err := deps.MigratorFactory(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(m)
}

// parseForceVersion parses a non-negative schema version.
func parseForceVersion(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	if v < 0 {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must not be negative")
	}
	return v, nil
}
