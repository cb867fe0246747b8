// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/dr3hardware/authd/internal/auth"
)

func newSessionCmd(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Log in, check or end sessions from the command line",
	}

	var origin, userAgent string
	login := &cobra.Command{
		Use:   "login USERNAME",
		Short: "Authenticate and print a session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuth(cmd, deps, func(stack *authStack) error {
				password, err := deps.PasswordReader(cmd, "Password: ")
				if err != nil {
					return err
				}
				result, err := stack.service.Authenticate(cmd.Context(), auth.LoginRequest{
					Username:  args[0],
					Password:  password,
					Origin:    origin,
					UserAgent: userAgent,
				})
				if err != nil {
					return err //nolint:wrapcheck // auth errors are user-facing
				}
				fmt.Fprintln(cmd.OutOrStdout(), result.Token)
				return printClaims(cmd, &result.Claims)
			})
		},
	}
	login.Flags().StringVar(&origin, "origin", "cli", "client origin recorded with the attempt")
	login.Flags().StringVar(&userAgent, "user-agent", "authd-cli", "client user agent stored with the session")
	cmd.AddCommand(login)

	cmd.AddCommand(&cobra.Command{
		Use:   "validate TOKEN",
		Short: "Print the claims of a live session and extend it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuth(cmd, deps, func(stack *authStack) error {
				claims, err := stack.service.ValidateSession(cmd.Context(), args[0])
				if err != nil {
					return err //nolint:wrapcheck // auth errors are user-facing
				}
				if claims == nil {
					return oops.Code("SESSION_INVALID").Errorf("session is invalid or expired")
				}
				return printClaims(cmd, claims)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "logout TOKEN",
		Short: "End a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuth(cmd, deps, func(stack *authStack) error {
				if err := stack.service.Logout(cmd.Context(), args[0]); err != nil {
					return err //nolint:wrapcheck // auth errors are user-facing
				}
				cmd.Println("Logged out")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "passwd USERNAME",
		Short: "Set a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuth(cmd, deps, func(stack *authStack) error {
				user, err := stack.users.FindByUsername(cmd.Context(), args[0])
				if err != nil {
					if errors.Is(err, auth.ErrNotFound) {
						return oops.Code("USER_NOT_FOUND").With("username", args[0]).Errorf("no such user")
					}
					return err //nolint:wrapcheck // store errors carry their own codes
				}
				password, err := deps.PasswordReader(cmd, "New password: ")
				if err != nil {
					return err
				}
				if err := stack.service.ChangePassword(cmd.Context(), user.ID, password); err != nil {
					return err //nolint:wrapcheck // auth errors are user-facing
				}
				cmd.Println("Password updated")
				return nil
			})
		},
	})

	return cmd
}

// withAuth opens the stores, assembles the auth core and runs fn.
func withAuth(cmd *cobra.Command, deps Deps, fn func(*authStack) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := setupLogging(cmd, cfg)
	if err != nil {
		return err
	}

	st, err := openStores(cmd.Context(), cfg, deps)
	if err != nil {
		return err
	}
	defer st.Close()

	stack, err := buildAuth(cfg, st.db, st.rdb, auth.WithLogger(logger))
	if err != nil {
		return err
	}
	return fn(stack)
}

func printClaims(cmd *cobra.Command, claims *auth.Claims) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(claims); err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	return nil
}
