package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List verses that failed on both model tiers",
	Long: `List verses flagged as failed on both the primary and the escalation
tier. Rerun them with "figlang run --retry-failed".`,
	RunE: runFailures,
}

var failuresLimit int64

func init() {
	failuresCmd.Flags().Int64Var(&failuresLimit, "limit", 100, "maximum number of verses")
	rootCmd.AddCommand(failuresCmd)
}

func runFailures(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	_, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	verses, err := store.ListDualTierFailures(ctx, failuresLimit)
	if err != nil {
		return fmt.Errorf("list failures: %w", err)
	}
	if len(verses) == 0 {
		fmt.Println("No verses failed on both tiers.")
		return nil
	}

	for _, v := range verses {
		fmt.Printf("%s [%s]\n", v.Reference, v.Status)
		if v.RunID.Valid {
			fmt.Printf("  run: %s\n", v.RunID.String)
		}
		if v.ErrorMessage.Valid {
			fmt.Printf("  error: %s\n", v.ErrorMessage.String)
		}
	}
	fmt.Printf("\n%d verses\n", len(verses))
	return nil
}
