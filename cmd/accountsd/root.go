// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the accountsd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accountsd",
		Short: "PlacePulse accounts service",
		Long: `accountsd runs the PlacePulse account lifecycle core: registration
with email verification, rate-limited login, multi-device session
management, and single-use password reset tokens.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
