package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/abdulachik/figlang/internal/app"
	"github.com/abdulachik/figlang/internal/config"
	"github.com/abdulachik/figlang/internal/pipeline"
	"github.com/abdulachik/figlang/internal/source"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Annotate the verses of a book",
	Long: `Fetch the requested chapters, detect and validate figurative language
and store the results. Verses already completed or failed are skipped, so an
interrupted run resumes where it stopped.

Example:
  figlang run --book Psalms --chapters 1-10 --workers 4`,
	RunE: runRun,
}

var (
	runBook        string
	runChapters    string
	runRetryFailed bool
	runWorkers     int
	runMetricsAddr string
)

func init() {
	runCmd.Flags().StringVar(&runBook, "book", "", "book name, e.g. Psalms")
	runCmd.Flags().StringVar(&runChapters, "chapters", "1", "chapters, e.g. 1-3,5")
	runCmd.Flags().BoolVar(&runRetryFailed, "retry-failed", false, "reprocess verses stored as failed")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "units processed concurrently (default WORKERS)")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address (default METRICS_ADDR)")
	_ = runCmd.MarkFlagRequired("book")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForRun(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	chapters, err := source.ParseChapters(runChapters)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}
	defer a.Close()

	runner, err := a.Runner(ctx, runWorkers, runRetryFailed)
	if err != nil {
		return fmt.Errorf("create runner: %w", err)
	}

	addr := runMetricsAddr
	if addr == "" {
		addr = cfg.MetricsAddr
	}
	if addr != "" {
		srv := metricsServer(addr, a)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		slog.Info("serving metrics", "addr", addr)
	}

	verses, err := source.Chapters(ctx, a.Source, runBook, chapters)
	if err != nil {
		a.Health.SetUnhealthy(pipeline.ComponentSource, err)
		return err
	}
	a.Health.SetHealthy(pipeline.ComponentSource, a.Source.Name())

	runID := uuid.NewString()
	sum, err := runner.Run(ctx, runID, verses)
	if sum != nil {
		printSummary(sum)
	}
	if errors.Is(err, context.Canceled) {
		slog.Warn("run interrupted, rerun the same command to resume", "run_id", runID)
		return nil
	}
	return err
}

func metricsServer(addr string, a *app.App) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !a.Health.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(a.Health.Statuses())
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
