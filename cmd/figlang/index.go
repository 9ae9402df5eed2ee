package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/abdulachik/figlang/internal/config"
	"github.com/abdulachik/figlang/internal/db"
	"github.com/abdulachik/figlang/internal/vectorstore"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index confirmed instances for search",
	Long: `Embed confirmed figurative language instances and store them in VecLite.

Uses the embedding provider configured in veclite.yaml. Instances are
indexed in storage order, so rerunning only adds instances confirmed since
the last run.`,
	RunE: runIndex,
}

const indexPageSize = 500

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := cfg.ValidateForIndex(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	index, err := openIndex(cfg)
	if err != nil {
		return err
	}
	defer index.Close()

	offset := int64(index.Count())
	slog.Info("indexing instances", "already_indexed", offset)

	start := time.Now()
	indexed, failed := 0, 0
	for {
		page, err := store.ListConfirmedInstances(ctx, db.ListConfirmedInstancesParams{
			Limit:  indexPageSize,
			Offset: offset,
		})
		if err != nil {
			return fmt.Errorf("list confirmed instances: %w", err)
		}
		for _, ci := range page {
			if _, err := index.IndexInstance(ctx, ci); err != nil {
				slog.Warn("failed to index instance", "id", ci.ID, "reference", ci.Reference, "error", err)
				failed++
				continue
			}
			indexed++
		}
		if err := index.Sync(); err != nil {
			slog.Warn("failed to sync", "error", err)
		}
		if len(page) < indexPageSize {
			break
		}
		offset += int64(len(page))
	}

	slog.Info("indexing complete",
		"indexed", indexed,
		"errors", failed,
		"total", index.Count(),
		"duration", time.Since(start).Round(time.Second),
	)
	return nil
}

func openIndex(cfg *config.Config) (*vectorstore.InstanceStore, error) {
	index, err := vectorstore.New(vectorstore.Config{
		Path:       cfg.VecLitePath,
		ConfigPath: cfg.VecLiteConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("open instance index: %w", err)
	}
	return index, nil
}
