package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abdulachik/figlang/internal/config"
	"github.com/abdulachik/figlang/internal/figlang"
	"github.com/abdulachik/figlang/internal/vectorstore"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search confirmed instances",
	Long: `Search indexed instances by meaning and keywords.

Examples:
  figlang search "God as a shepherd"
  figlang search "roaring lion" --type simile
  figlang search "rock" --text`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

var (
	searchType   string
	searchLimit  int
	searchText   bool
	searchVector float64
)

func init() {
	searchCmd.Flags().StringVar(&searchType, "type", "", "only instances of this figurative type")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum number of results")
	searchCmd.Flags().BoolVar(&searchText, "text", false, "keyword (BM25) search only")
	searchCmd.Flags().Float64Var(&searchVector, "vector-weight", 0.7, "vector weight for hybrid search")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	query := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForIndex(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	index, err := openIndex(cfg)
	if err != nil {
		return err
	}
	defer index.Close()

	var results []vectorstore.SearchResult
	switch {
	case searchType != "":
		t, ok := figlang.ParseType(searchType)
		if !ok {
			return fmt.Errorf("unknown figurative type %q", searchType)
		}
		results, err = index.SearchByType(ctx, query, t, searchLimit)
	case searchText:
		results, err = index.TextSearch(ctx, query, searchLimit)
	default:
		results, err = index.HybridSearch(ctx, query, searchLimit, searchVector, 1-searchVector)
	}
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No matching instances.")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%d. %s [%s] %.3f\n", i+1, r.Reference, r.Types, r.Similarity)
		fmt.Printf("   %q\n", r.Phrase)
		if r.Target != "" || r.Vehicle != "" {
			fmt.Printf("   target: %s, vehicle: %s, ground: %s\n", r.Target, r.Vehicle, r.Ground)
		}
		if r.Posture != "" {
			fmt.Printf("   posture: %s\n", r.Posture)
		}
	}
	return nil
}
