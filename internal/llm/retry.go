package llm

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls retries of transient failures within one tier.
type RetryConfig struct {
	// MaxAttempts is the number of calls including the first.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to the backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the retry defaults for model calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// Retrying retries transient errors from the wrapped Completer. Fatal errors,
// context errors and successful responses are returned immediately.
type Retrying struct {
	next   Completer
	cfg    RetryConfig
	logger *slog.Logger
}

// WithRetry wraps next with transient-error retries.
func WithRetry(next Completer, cfg RetryConfig, logger *slog.Logger) *Retrying {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{next: next, cfg: cfg, logger: logger}
}

// Complete implements Completer.
func (r *Retrying) Complete(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := r.backoff(attempt)
			r.logger.Warn("retrying transient model error",
				"attempt", attempt+1,
				"backoff", backoff,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := r.next.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// backoff computes exponential backoff with +/-25% jitter.
func (r *Retrying) backoff(attempt int) time.Duration {
	multiplier := math.Pow(r.cfg.BackoffMultiplier, float64(attempt-1))
	backoff := time.Duration(float64(r.cfg.BackoffBase) * multiplier)
	if r.cfg.MaxBackoff > 0 && backoff > r.cfg.MaxBackoff {
		backoff = r.cfg.MaxBackoff
	}
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}
