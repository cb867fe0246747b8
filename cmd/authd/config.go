// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package main

import (
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration as YAML",
		Long: `Print the configuration after defaults, the config file, AUTHD_ environment
variables and flags have been applied. The database password is masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err //nolint:wrapcheck // config errors carry their own codes
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err //nolint:wrapcheck // write to the command output
		},
	})

	return cmd
}
