// Package recovery turns free-form model output into structured records. The
// Detector classifies a raw response as complete, truncated, corrupted or
// unknown; the Engine runs an ordered cascade of extraction strategies until
// one yields a record set.
package recovery

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrRecoveryExhausted is returned when every strategy failed.
var ErrRecoveryExhausted = errors.New("recovery exhausted")

// Result is a recovered record set.
type Result struct {
	Records  []Record
	Strategy Strategy
	// Partial is set when the payload was cut short. Remainder counts the
	// trailing elements that were started but could not be recovered.
	Partial   bool
	Remainder int
	// Reasoning is the free text surrounding the payload.
	Reasoning string
}

// Observer receives recovery outcomes, e.g. for metrics.
type Observer interface {
	StrategySucceeded(strategy string)
	RecoveryExhausted()
}

// Config configures an Engine.
type Config struct {
	Schema   Schema
	Observer Observer
	Logger   *slog.Logger
}

// Engine runs the strategy cascade. It never calls a model; callers decide
// what to do with ErrRecoveryExhausted.
type Engine struct {
	schema     Schema
	strategies []namedStrategy
	observer   Observer
	logger     *slog.Logger

	mu        sync.Mutex
	successes map[Strategy]int
	exhausted int
}

// NewEngine creates an Engine with the default cascade.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		schema:     cfg.Schema,
		strategies: defaultStrategies,
		observer:   cfg.Observer,
		logger:     logger,
		successes:  make(map[Strategy]int),
	}
}

// Recover extracts records from raw, trying each strategy in order.
func (e *Engine) Recover(raw string) (*Result, error) {
	var errs []error
	for _, s := range e.strategies {
		res, err := s.fn(raw, e.schema)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		res.Strategy = s.name
		if res.Reasoning == "" {
			res.Reasoning = prose(raw)
		}
		e.record(s.name)
		if s.name != StrategyDirect {
			e.logger.Debug("recovered response",
				"strategy", s.name,
				"records", len(res.Records),
				"partial", res.Partial,
				"remainder", res.Remainder,
			)
		}
		return res, nil
	}

	e.mu.Lock()
	e.exhausted++
	e.mu.Unlock()
	if e.observer != nil {
		e.observer.RecoveryExhausted()
	}
	return nil, fmt.Errorf("%w: %w", ErrRecoveryExhausted, errors.Join(errs...))
}

func (e *Engine) record(s Strategy) {
	e.mu.Lock()
	e.successes[s]++
	e.mu.Unlock()
	if e.observer != nil {
		e.observer.StrategySucceeded(string(s))
	}
}

// Stats reports strategy effectiveness since the engine was created.
type Stats struct {
	Successes map[Strategy]int
	Exhausted int
}

// Stats returns a snapshot of strategy success counts.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := Stats{Successes: make(map[Strategy]int, len(e.successes)), Exhausted: e.exhausted}
	for k, v := range e.successes {
		out.Successes[k] = v
	}
	return out
}
