package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/abdulachik/figlang/internal/config"
	"github.com/abdulachik/figlang/internal/db"
)

var (
	migrateStatus bool
	migrateDown   bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply, list or revert schema migrations",
	Long: `Apply all pending schema migrations. With --status, list each
migration and whether it is applied. With --down, revert the most recently
applied migration.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "list migrations without applying them")
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "revert the last applied migration")
	migrateCmd.MarkFlagsMutuallyExclusive("status", "down")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	store, err := db.NewStore(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer store.Close()

	switch {
	case migrateStatus:
		all, err := store.Migrations(ctx)
		if err != nil {
			return fmt.Errorf("list migrations: %w", err)
		}
		out := cmd.OutOrStdout()
		for _, m := range all {
			state := "pending"
			if m.Applied {
				state = "applied"
			}
			fmt.Fprintf(out, "%-8s %s\n", state, m.Version)
		}
		return nil

	case migrateDown:
		version, err := store.MigrateDown(ctx)
		if err != nil {
			return fmt.Errorf("revert migration: %w", err)
		}
		if version == "" {
			slog.Info("no applied migrations to revert", "path", cfg.DatabasePath)
			return nil
		}
		slog.Info("reverted migration", "version", version, "path", cfg.DatabasePath)
		return nil
	}

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database schema is up to date", "path", cfg.DatabasePath)
	return nil
}
