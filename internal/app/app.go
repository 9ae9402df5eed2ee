// Package app wires the pipeline's dependencies from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/abdulachik/figlang/internal/config"
	"github.com/abdulachik/figlang/internal/db"
	"github.com/abdulachik/figlang/internal/detection"
	"github.com/abdulachik/figlang/internal/escalation"
	"github.com/abdulachik/figlang/internal/llm"
	"github.com/abdulachik/figlang/internal/metrics"
	"github.com/abdulachik/figlang/internal/notify"
	"github.com/abdulachik/figlang/internal/pipeline"
	"github.com/abdulachik/figlang/internal/source"
	"github.com/abdulachik/figlang/internal/tagging"
	"github.com/abdulachik/figlang/internal/validation"
)

// App is the main application container holding all dependencies.
type App struct {
	Config   *config.Config
	Store    *db.Store
	Metrics  *metrics.Metrics
	Health   *pipeline.Health
	Notifier notify.Notifier
	Source   source.Provider
	Pipeline *pipeline.Pipeline
	Logger   *slog.Logger
}

// New opens the database and runs migrations. Model clients are only
// created by Annotator, so read-only commands need no API keys.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := db.NewStore(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}

	logger := slog.Default()
	return &App{
		Config:  cfg,
		Store:   store,
		Metrics: metrics.New(),
		Health:  pipeline.NewHealth(),
		Notifier: notify.Multi{
			notify.NewLogNotifier(logger),
			notify.NewFollowupNotifier(cfg.FollowupPath),
		},
		Logger: logger,
	}, nil
}

// Annotator builds the source provider, model tiers and pipeline.
func (a *App) Annotator(ctx context.Context) (*pipeline.Pipeline, error) {
	if a.Pipeline != nil {
		return a.Pipeline, nil
	}

	provider, err := NewSource(a.Config)
	if err != nil {
		return nil, err
	}
	primary, err := NewTier(ctx, a.Config, llm.TierPrimary, a.Config.Primary)
	if err != nil {
		return nil, err
	}
	esc, err := NewTier(ctx, a.Config, llm.TierEscalation, a.Config.Escalation)
	if err != nil {
		return nil, err
	}

	ctrl := escalation.Config{
		Primary:           primary,
		Escalation:        esc,
		MaxAttempts:       a.Config.MaxAttempts,
		EscalationRetries: a.Config.EscalationRetries,
		Recorder:          escalation.Recorders{a.Metrics, a.Health},
		Logger:            a.Logger,
	}
	a.Source = provider
	a.Pipeline = pipeline.New(pipeline.Config{
		Store: a.Store,
		Detection: detection.New(detection.Config{
			Controller: ctrl,
			Recovery:   a.Metrics,
			Verdicts:   a.Metrics,
			Logger:     a.Logger.With("stage", "detection"),
		}),
		Validation: validation.New(validation.Config{
			Controller: ctrl,
			Recovery:   a.Metrics,
			Verdicts:   a.Metrics,
			Logger:     a.Logger.With("stage", "validation"),
		}),
		Tagger:   tagging.New(a.Logger),
		Notifier: a.Notifier,
		Outcomes: a.Metrics,
		Health:   a.Health,
		Logger:   a.Logger,
	})
	return a.Pipeline, nil
}

// Runner builds a runner over the annotator.
func (a *App) Runner(ctx context.Context, workers int, retryFailed bool) (*pipeline.Runner, error) {
	p, err := a.Annotator(ctx)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = a.Config.Workers
	}
	return pipeline.NewRunner(pipeline.RunnerConfig{
		Processor:   p,
		Store:       a.Store,
		Workers:     workers,
		BatchSize:   a.Config.BatchSize,
		RetryFailed: retryFailed,
		Notifier:    a.Notifier,
		Logger:      a.Logger,
	}), nil
}

// Close closes all resources.
func (a *App) Close() error {
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

// NewTier creates the client for a tier, with transient-error retries.
func NewTier(ctx context.Context, cfg *config.Config, name string, tc config.TierConfig) (llm.Tier, error) {
	var client llm.Completer
	switch tc.Provider {
	case config.ProviderGemini:
		g, err := llm.NewGemini(ctx, llm.GeminiConfig{APIKey: cfg.APIKey(tc), Model: tc.Model})
		if err != nil {
			return llm.Tier{}, fmt.Errorf("create %s tier: %w", name, err)
		}
		client = g
	case config.ProviderAnthropic:
		client = llm.NewAnthropic(llm.AnthropicConfig{APIKey: cfg.APIKey(tc), Model: tc.Model})
	default:
		return llm.Tier{}, fmt.Errorf("create %s tier: unknown provider %q", name, tc.Provider)
	}

	retry := llm.DefaultRetryConfig()
	retry.MaxAttempts = cfg.CallRetries
	return llm.Tier{
		Name:              name,
		Model:             tc.Model,
		Client:            llm.WithRetry(client, retry, slog.Default().With("tier", name)),
		Timeout:           tc.Timeout,
		MaxTokens:         tc.MaxTokens,
		InputCostPerMTok:  tc.InputCostPerMTok,
		OutputCostPerMTok: tc.OutputCostPerMTok,
	}, nil
}

// NewSource creates the configured verse provider behind an LRU cache.
func NewSource(cfg *config.Config) (source.Provider, error) {
	var p source.Provider
	switch cfg.Source {
	case config.SourceFile:
		p = source.NewFile(cfg.VersesFile)
	case config.SourceSefaria, "":
		p = source.NewSefaria(source.SefariaConfig{BaseURL: cfg.SefariaURL})
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
	return source.NewCached(p, cfg.SourceCacheSize)
}
