package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abdulachik/figlang/internal/db"
	"github.com/abdulachik/figlang/internal/figlang"
	"github.com/abdulachik/figlang/internal/notify"
)

// UnitProcessor processes one unit of verses. *Pipeline implements it.
type UnitProcessor interface {
	ProcessUnit(ctx context.Context, runID string, verses []figlang.Verse) (*UnitResult, error)
}

// UnitProcessorFunc adapts a function to UnitProcessor.
type UnitProcessorFunc func(ctx context.Context, runID string, verses []figlang.Verse) (*UnitResult, error)

// ProcessUnit calls f.
func (f UnitProcessorFunc) ProcessUnit(ctx context.Context, runID string, verses []figlang.Verse) (*UnitResult, error) {
	return f(ctx, runID, verses)
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Processor UnitProcessor
	// Store is consulted for resume. Without it every verse is processed.
	Store *db.Store
	// Workers bounds the number of units in flight.
	Workers int
	// BatchSize is the number of verses per unit. Units never span chapters.
	BatchSize int
	// RetryFailed reprocesses verses stored as failed.
	RetryFailed bool

	Notifier notify.Notifier
	Logger   *slog.Logger
}

// Runner schedules units on a bounded worker pool.
type Runner struct {
	processor   UnitProcessor
	store       *db.Store
	workers     int
	batchSize   int
	retryFailed bool
	notifier    notify.Notifier
	logger      *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		processor:   cfg.Processor,
		store:       cfg.Store,
		workers:     cfg.Workers,
		batchSize:   cfg.BatchSize,
		retryFailed: cfg.RetryFailed,
		notifier:    cfg.Notifier,
		logger:      cfg.Logger,
	}
}

// Summary describes a run.
type Summary struct {
	RunID           string
	Units           int
	UnitErrors      int
	Verses          int
	Skipped         int
	Completed       int
	Failed          int
	BothTiersFailed int
	Integrity       int
	Confirmed       int
	Detected        int
	Lost            int
	Repaired        int
	Attempts        int
	Cost            float64
	Duration        time.Duration
	Errors          []error
}

func (s *Summary) add(res *UnitResult, err error) {
	s.Units++
	if err != nil {
		s.UnitErrors++
		s.Errors = append(s.Errors, err)
	}
	if res == nil {
		return
	}
	s.Attempts += res.Attempts
	s.Cost += res.Cost
	for _, v := range res.Verses {
		s.Verses++
		switch v.Status {
		case db.VerseCompleted:
			s.Completed++
		case db.VerseFailed:
			s.Failed++
		}
		if v.BothTiersFailed {
			s.BothTiersFailed++
		}
		if v.Err != nil {
			s.Integrity++
		}
		s.Detected += v.Detected
		s.Confirmed += v.Confirmed
		s.Lost += v.Lost
		s.Repaired += v.Repaired
	}
}

// Plan drops verses that already reached a terminal status and splits the
// rest into units of at most BatchSize verses of one chapter, in input
// order. It returns the units and the number of verses skipped.
func (r *Runner) Plan(ctx context.Context, verses []figlang.Verse) ([][]figlang.Verse, int, error) {
	type chapterKey struct {
		book    string
		chapter int
	}
	done := make(map[chapterKey]map[int]bool)

	var (
		units   [][]figlang.Verse
		current []figlang.Verse
		key     chapterKey
		skipped int
	)
	flush := func() {
		if len(current) > 0 {
			units = append(units, current)
			current = nil
		}
	}

	for _, v := range verses {
		k := chapterKey{v.Ref.Book, v.Ref.Chapter}
		terminal, ok := done[k]
		if !ok && r.store != nil {
			var err error
			terminal, err = r.store.TerminalRefs(ctx, k.book, k.chapter, !r.retryFailed)
			if err != nil {
				return nil, 0, fmt.Errorf("load progress for %s %d: %w", k.book, k.chapter, err)
			}
			done[k] = terminal
		}
		if terminal[v.Ref.Verse] {
			skipped++
			continue
		}
		if k != key || len(current) == r.batchSize {
			flush()
			key = k
		}
		current = append(current, v)
	}
	flush()
	return units, skipped, nil
}

// Run processes verses that have not been completed yet. A failing unit
// never stops the others. Cancelling ctx stops new units from starting and
// abandons the ones in flight; their verses stay in progress and are
// reprocessed by the next run.
func (r *Runner) Run(ctx context.Context, runID string, verses []figlang.Verse) (*Summary, error) {
	start := time.Now()
	sum := &Summary{RunID: runID}

	units, skipped, err := r.Plan(ctx, verses)
	if err != nil {
		return nil, err
	}
	sum.Skipped = skipped
	r.logger.Info("starting run",
		"run_id", runID,
		"verses", len(verses),
		"skipped", skipped,
		"units", len(units),
		"workers", r.workers,
	)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.workers)
	for _, unit := range units {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res, err := r.processor.ProcessUnit(ctx, runID, unit)
			if err != nil && ctx.Err() == nil {
				r.logger.Error("unit failed", "unit", UnitID(unit), "error", err)
			}

			mu.Lock()
			defer mu.Unlock()
			sum.add(res, err)
			return nil
		})
	}
	_ = g.Wait()
	sum.Duration = time.Since(start)

	r.logger.Info("run finished",
		"run_id", runID,
		"units", sum.Units,
		"completed", sum.Completed,
		"failed", sum.Failed,
		"both_tiers_failed", sum.BothTiersFailed,
		"confirmed", sum.Confirmed,
		"attempts", sum.Attempts,
		"estimated_cost", fmt.Sprintf("$%.4f", sum.Cost),
		"duration", sum.Duration,
	)
	if r.notifier != nil && (sum.BothTiersFailed > 0 || sum.Integrity > 0) {
		err := r.notifier.Send(context.WithoutCancel(ctx), notify.Notification{
			Kind:    notify.KindRunFinished,
			Subject: "run finished with verses needing follow-up",
			Body: fmt.Sprintf("%d verses failed on both tiers, %d rejected by the integrity check",
				sum.BothTiersFailed, sum.Integrity),
			RunID: runID,
		})
		if err != nil {
			r.logger.Warn("failed to send notification", "error", err)
		}
	}
	return sum, ctx.Err()
}
