package main

import (
	"fmt"
	"time"

	"github.com/abdulachik/figlang/internal/pipeline"
)

func printSummary(sum *pipeline.Summary) {
	fmt.Println("=== Run Summary ===")
	fmt.Println()
	fmt.Printf("Run: %s\n", sum.RunID)
	fmt.Printf("Duration: %s\n", sum.Duration.Round(time.Second))
	fmt.Println()
	fmt.Println("Verses:")
	fmt.Printf("  Processed: %d\n", sum.Verses)
	fmt.Printf("  Skipped (already done): %d\n", sum.Skipped)
	fmt.Printf("  Completed: %d\n", sum.Completed)
	fmt.Printf("  Failed: %d\n", sum.Failed)
	fmt.Printf("  Failed on both tiers: %d\n", sum.BothTiersFailed)
	fmt.Printf("  Rejected by integrity check: %d\n", sum.Integrity)
	fmt.Println()
	fmt.Println("Instances:")
	fmt.Printf("  Detected: %d\n", sum.Detected)
	fmt.Printf("  Confirmed: %d\n", sum.Confirmed)
	fmt.Printf("  Lost to truncation: %d\n", sum.Lost)
	fmt.Printf("  Posture repaired: %d\n", sum.Repaired)
	fmt.Println()
	fmt.Println("Models:")
	fmt.Printf("  Attempts: %d\n", sum.Attempts)
	fmt.Printf("  Estimated cost: $%.4f\n", sum.Cost)
	if sum.UnitErrors > 0 {
		fmt.Println()
		fmt.Printf("Unit errors: %d\n", sum.UnitErrors)
		for _, err := range sum.Errors {
			fmt.Printf("  - %v\n", err)
		}
	}
}
