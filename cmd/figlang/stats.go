package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/abdulachik/figlang/internal/db"
	"github.com/abdulachik/figlang/internal/figlang"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show annotation progress and model usage",
	Long: `Report verse progress by status, stored instances by final type,
tags per dimension, attempt counts with token usage and estimated cost,
and how often each recovery strategy resolved a response.`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(statsCmd)
}

type statsReport struct {
	Database   string              `json:"database"`
	Verses     []db.StatusCount    `json:"verses"`
	Instances  db.InstanceCounts   `json:"instances"`
	Tags       []db.DimensionCount `json:"tags"`
	Attempts   []db.AttemptSummary `json:"attempts"`
	Strategies []db.StrategyCount  `json:"strategies"`
	TotalCost  float64             `json:"estimated_cost"`
}

func collectStats(ctx context.Context, store *db.Store) (*statsReport, error) {
	var (
		r   statsReport
		err error
	)
	if r.Verses, err = store.CountVersesByStatus(ctx); err != nil {
		return nil, fmt.Errorf("count verses: %w", err)
	}
	if r.Instances, err = store.CountInstances(ctx); err != nil {
		return nil, fmt.Errorf("count instances: %w", err)
	}
	if r.Tags, err = store.CountTagsByDimension(ctx); err != nil {
		return nil, fmt.Errorf("count tags: %w", err)
	}
	if r.Attempts, err = store.SummarizeAttempts(ctx); err != nil {
		return nil, fmt.Errorf("summarize attempts: %w", err)
	}
	if r.Strategies, err = store.SummarizeStrategies(ctx); err != nil {
		return nil, fmt.Errorf("summarize strategies: %w", err)
	}
	for _, a := range r.Attempts {
		r.TotalCost += a.EstimatedCost
	}
	return &r, nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := collectStats(ctx, store)
	if err != nil {
		return err
	}
	report.Database = cfg.DatabasePath

	if statsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return writeStats(cmd.OutOrStdout(), report)
}

func writeStats(out io.Writer, r *statsReport) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "database\t%s\n\n", r.Database)

	fmt.Fprintln(w, "STATUS\tVERSES")
	for _, row := range r.Verses {
		fmt.Fprintf(w, "%s\t%d\n", row.Status, row.Count)
	}

	fmt.Fprintf(w, "\nTYPE\tINSTANCES\n")
	fmt.Fprintf(w, "(all)\t%d\n(confirmed)\t%d\n", r.Instances.Total, r.Instances.Confirmed)
	for _, t := range figlang.Types {
		if n := r.Instances.ByType[t]; n > 0 {
			fmt.Fprintf(w, "%s\t%d\n", t, n)
		}
	}

	if len(r.Tags) > 0 {
		fmt.Fprintf(w, "\nDIMENSION\tTAGS\n")
		for _, row := range r.Tags {
			fmt.Fprintf(w, "%s\t%d\n", row.Dimension, row.Count)
		}
	}

	if len(r.Attempts) > 0 {
		fmt.Fprintf(w, "\nSTAGE\tTIER\tATTEMPTS\tOK\tIN\tOUT\tCOST\n")
		for _, row := range r.Attempts {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t$%.4f\n",
				row.Stage, row.Tier, row.Total, row.Succeeded, row.InputTokens, row.OutputTokens, row.EstimatedCost)
		}
		fmt.Fprintf(w, "\t\t\t\t\ttotal\t$%.4f\n", r.TotalCost)
	}

	if len(r.Strategies) > 0 {
		fmt.Fprintf(w, "\nSTRATEGY\tRESOLVED\n")
		for _, row := range r.Strategies {
			fmt.Fprintf(w, "%s\t%d\n", row.Strategy, row.Count)
		}
	}

	return w.Flush()
}
