package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/abdulachik/figlang/internal/db"
	"github.com/abdulachik/figlang/internal/figlang"
	"github.com/abdulachik/figlang/internal/tagging"
)

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "List, retire or relate tags",
	Long: `List tags by usage, optionally for one dimension.

Examples:
  figlang tags --dimension vehicle
  figlang tags --dimension vehicle --retire "hand"
  figlang tags --dimension vehicle --relate "right hand" --to "hand"`,
	RunE: runTags,
}

var (
	tagsDimension string
	tagsLimit     int64
	tagsAll       bool
	tagsRetire    string
	tagsRestore   string
	tagsRelate    string
	tagsTo        string
	tagsRelation  string
)

func init() {
	tagsCmd.Flags().StringVar(&tagsDimension, "dimension", "", "target, vehicle or ground")
	tagsCmd.Flags().Int64Var(&tagsLimit, "limit", 50, "maximum number of tags")
	tagsCmd.Flags().BoolVar(&tagsAll, "all", false, "include retired tags")
	tagsCmd.Flags().StringVar(&tagsRetire, "retire", "", "retire the named tag")
	tagsCmd.Flags().StringVar(&tagsRestore, "restore", "", "reactivate the named tag")
	tagsCmd.Flags().StringVar(&tagsRelate, "relate", "", "record a relationship from this tag")
	tagsCmd.Flags().StringVar(&tagsTo, "to", "", "related tag for --relate")
	tagsCmd.Flags().StringVar(&tagsRelation, "relation", "parent_child", "parent_child, synonym, related or antonym")
	rootCmd.AddCommand(tagsCmd)
}

func runTags(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if tagsDimension != "" && !figlang.Dimension(tagsDimension).Valid() {
		return fmt.Errorf("invalid dimension %q", tagsDimension)
	}
	if (tagsRetire != "" || tagsRestore != "" || tagsRelate != "") && tagsDimension == "" {
		return fmt.Errorf("--dimension is required to change a tag")
	}

	_, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	switch {
	case tagsRetire != "" || tagsRestore != "":
		name, active := tagsRetire, false
		if tagsRestore != "" {
			name, active = tagsRestore, true
		}
		name = tagging.NormalizeName(name)
		n, err := store.SetTagActive(ctx, name, tagsDimension, active)
		if err != nil {
			return fmt.Errorf("update tag: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("tag %q not found in %s", name, tagsDimension)
		}
		slog.Info("tag updated", "tag", name, "dimension", tagsDimension, "active", active)
		return nil

	case tagsRelate != "":
		return relateTags(ctx, store)
	}

	tags, err := store.ListTags(ctx, db.ListTagsParams{
		Dimension:  tagsDimension,
		ActiveOnly: !tagsAll,
		Limit:      tagsLimit,
	})
	if err != nil {
		return fmt.Errorf("list tags: %w", err)
	}
	for _, t := range tags {
		line := fmt.Sprintf("%-8s %-30s %5d", t.Dimension, t.TagName, t.UsageCount)
		if t.CategoryHint.Valid {
			line += "  [" + t.CategoryHint.String + "]"
		}
		if t.IsActive != "yes" {
			line += "  (retired)"
		}
		fmt.Println(line)

		related, err := store.ListRelatedTags(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("list related tags: %w", err)
		}
		for _, r := range related {
			fmt.Printf("           %s -> %s (%.2f)\n", r.RelationshipType, r.TagName, r.Strength)
		}
	}
	return nil
}

func relateTags(ctx context.Context, store *db.Store) error {
	if tagsTo == "" {
		return fmt.Errorf("--to is required with --relate")
	}
	parent, err := store.GetTag(ctx, tagging.NormalizeName(tagsRelate), tagsDimension)
	if err != nil {
		return fmt.Errorf("get tag %q: %w", tagsRelate, err)
	}
	child, err := store.GetTag(ctx, tagging.NormalizeName(tagsTo), tagsDimension)
	if err != nil {
		return fmt.Errorf("get tag %q: %w", tagsTo, err)
	}
	err = store.InsertTagRelationship(ctx, db.InsertTagRelationshipParams{
		ParentTagID:      parent.ID,
		ChildTagID:       child.ID,
		RelationshipType: tagsRelation,
		Strength:         1,
	})
	if err != nil {
		return fmt.Errorf("relate tags: %w", err)
	}
	slog.Info("tags related", "from", parent.TagName, "to", child.TagName, "relation", tagsRelation)
	return nil
}
