// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package main

import (
	"os"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/placepulse/placepulse/internal/config"
	"github.com/placepulse/placepulse/internal/store"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Apply all pending database migrations against the PostgreSQL database.`,
		RunE:  runMigrateUp,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Long:  `Roll back every migration. This drops all tables and data.`,
		RunE:  runMigrateDown,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the current migration version",
		RunE:  runMigrateVersion,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Force the migration version without running migrations",
		Long: `Set the recorded migration version without running any migrations.
Use only to recover from a dirty state after fixing the database by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: runMigrateForce,
	})

	return cmd
}

func openMigrator() (*store.Migrator, error) {
	databaseURL := os.Getenv(config.EnvDatabaseURL)
	if databaseURL == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("%s environment variable is required", config.EnvDatabaseURL)
	}
	return store.NewMigrator(databaseURL)
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	migrator, err := openMigrator()
	if err != nil {
		return err
	}
	defer closeMigrator(cmd, migrator)

	pending, err := migrator.PendingMigrations()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		cmd.Println("No pending migrations")
		return nil
	}

	cmd.Printf("Applying %d migration(s)...\n", len(pending))
	if err := migrator.Up(); err != nil {
		return err
	}

	cmd.Println("Migrations completed successfully")
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	migrator, err := openMigrator()
	if err != nil {
		return err
	}
	defer closeMigrator(cmd, migrator)

	cmd.Println("Rolling back all migrations...")
	if err := migrator.Down(); err != nil {
		return err
	}

	cmd.Println("Rollback completed")
	return nil
}

func runMigrateVersion(cmd *cobra.Command, _ []string) error {
	migrator, err := openMigrator()
	if err != nil {
		return err
	}
	defer closeMigrator(cmd, migrator)

	version, dirty, err := migrator.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		cmd.Println("No migrations applied")
		return nil
	}

	name, err := store.MigrationName(version)
	if err != nil {
		return err
	}

	cmd.Printf("Version: %d", version)
	if name != "" {
		cmd.Printf(" (%s)", name)
	}
	if dirty {
		cmd.Print(" [dirty]")
	}
	cmd.Println()
	return nil
}

func runMigrateForce(cmd *cobra.Command, args []string) error {
	version, err := strconv.Atoi(args[0])
	if err != nil || version < 0 {
		return oops.Code("INVALID_VERSION").Errorf("version must be a non-negative integer, got %q", args[0])
	}

	migrator, err := openMigrator()
	if err != nil {
		return err
	}
	defer closeMigrator(cmd, migrator)

	if err := migrator.Force(version); err != nil {
		return err
	}

	cmd.Printf("Forced version to %d\n", version)
	return nil
}

func closeMigrator(cmd *cobra.Command, migrator *store.Migrator) {
	if err := migrator.Close(); err != nil {
		cmd.PrintErrf("warning: failed to close migrator: %v\n", err)
	}
}
