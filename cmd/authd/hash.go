// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package main

import (
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/dr3hardware/authd/internal/auth"
)

func newHashPasswordCmd(deps Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print an argon2id hash for a password",
		Long: `Read a password (without echo on a terminal, or one line from stdin) and
print its PHC-encoded argon2id hash using the configured cost parameters.
The output is suitable for the users.password_hash column.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			hasher, err := auth.NewArgon2idHasher(cfg.Hasher.Params())
			if err != nil {
				return err //nolint:wrapcheck // auth errors carry their own codes
			}

			password, err := deps.PasswordReader(cmd, "Password: ")
			if err != nil {
				return err
			}
			if password == "" {
				return oops.Code("PASSWORD_EMPTY").Errorf("password must not be empty")
			}

			encoded, err := hasher.Hash(password)
			if err != nil {
				return err //nolint:wrapcheck // auth errors carry their own codes
			}
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
			return nil
		},
	}
}
