// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hrvbrain/hrvbrain/services/hrv/config"
	"github.com/hrvbrain/hrvbrain/services/hrv/storage/postgres"
)

var resetForce bool

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the postgres schema",
}

var dbSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create or migrate the hrvbrain schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openPostgres()
		if err != nil {
			return err
		}
		defer store.Close()

		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		if err := store.Migrate(logger); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
		fmt.Println("schema is up to date")
		return nil
	},
}

var dbValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Verify the schema tables and constraints exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openPostgres()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.ValidateSchema(); err != nil {
			return fmt.Errorf("schema validation failed: %w", err)
		}
		fmt.Println("schema is valid")
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop all session data and recreate the schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetForce {
			return fmt.Errorf("reset destroys all session data; re-run with --force")
		}
		store, err := openPostgres()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Reset(); err != nil {
			return fmt.Errorf("reset schema: %w", err)
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		if err := store.Migrate(logger); err != nil {
			return fmt.Errorf("recreate schema: %w", err)
		}
		fmt.Println("schema reset complete")
		return nil
	},
}

// openPostgres connects using the service's HRV_POSTGRES_* environment.
func openPostgres() (*postgres.Store, error) {
	cfg := config.Load()
	store, err := postgres.Open(cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres at %s: %w", cfg.Postgres.Host, err)
	}
	return store, nil
}

func init() {
	dbResetCmd.Flags().BoolVarP(&resetForce, "force", "f", false,
		"Confirm destruction of all session data")

	dbCmd.AddCommand(dbSetupCmd, dbValidateCmd, dbResetCmd)
	rootCmd.AddCommand(dbCmd)
}
