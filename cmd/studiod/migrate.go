package main

import (
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/studiodesk/studiodesk/internal/app/storage/postgres"
	"github.com/studiodesk/studiodesk/internal/config"
	"github.com/studiodesk/studiodesk/internal/platform/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd, func(db *sqlx.DB) error {
				if err := migrations.Up(db.DB); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1 step)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				steps = n
			}
			return withDatabase(cmd, func(db *sqlx.DB) error {
				if err := migrations.Down(db.DB, steps); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd, func(db *sqlx.DB) error {
				version, dirty, err := migrations.Version(db.DB)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", version, dirty)
				return nil
			})
		},
	})
	return cmd
}

func withDatabase(cmd *cobra.Command, fn func(db *sqlx.DB) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	db, err := postgres.Open(cmd.Context(), cfg.Database.DSN, 2, 1, cfg.Database.ConnMaxLifetime)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}
