package main

import (
	"context"
	"fmt"

	"github.com/abdulachik/figlang/internal/config"
	"github.com/abdulachik/figlang/internal/db"
)

// openStore loads configuration and opens a migrated database.
func openStore(ctx context.Context) (*config.Config, *db.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("validate config: %w", err)
	}

	store, err := db.NewStore(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	return cfg, store, nil
}
