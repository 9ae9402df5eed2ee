package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/abdulachik/figlang/internal/llm"
)

// Unit is one batch of work for one stage. Items are caller-defined
// indices, e.g. positions of verses in a batch.
type Unit struct {
	RunID string
	ID    string
	Stage string
	Items []int
}

// Attempt describes one model call the controller asks the stage to make.
type Attempt struct {
	ID         string
	Number     int
	State      State
	Tier       llm.Tier
	Items      []int
	Simplified bool
	// Final is set on the last attempt the budget allows. Stages may accept
	// partial recoveries then instead of failing.
	Final bool
}

// Report is what an attempt resolved. Resolved may be non-empty even when
// the attempt returns an error; those items are kept.
type Report[T any] struct {
	Resolved     map[int]T
	Strategy     string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// AttemptFunc makes one attempt for a stage.
type AttemptFunc[T any] func(ctx context.Context, a Attempt) (Report[T], error)

// ItemResult is the value resolved for one item with its provenance.
type ItemResult[T any] struct {
	Value   T
	Tier    string
	Model   string
	State   State
	Attempt int
}

// Outcome is the terminal result of a unit.
type Outcome[T any] struct {
	Results   map[int]ItemResult[T]
	Failed    []int
	Attempts  int
	Escalated bool
	State     State
	Records   []AttemptRecord
}

// Config configures a Controller.
type Config struct {
	Primary    llm.Tier
	Escalation llm.Tier
	// MaxAttempts bounds attempts across all states. EscalationRetries of
	// them are reserved for the escalation tier. Zero values default to 10
	// and 2; the escalation tier always keeps at least one attempt.
	MaxAttempts       int
	EscalationRetries int
	Recorder          Recorder
	Logger            *slog.Logger
}

// Controller runs units through the escalation state machine.
type Controller[T any] struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a controller.
func New[T any](cfg Config) *Controller[T] {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.EscalationRetries <= 0 {
		cfg.EscalationRetries = 2
	}
	if cfg.EscalationRetries >= cfg.MaxAttempts {
		cfg.EscalationRetries = cfg.MaxAttempts - 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller[T]{cfg: cfg, logger: logger}
}

// run holds the per-unit state.
type run[T any] struct {
	unit      Unit
	fn        AttemptFunc[T]
	remaining []int
	lastItems []int
	outcome   *Outcome[T]
}

// Run drives unit to a terminal state. It returns an error only when ctx is
// cancelled; failures of the model tiers are reported in the Outcome.
func (c *Controller[T]) Run(ctx context.Context, unit Unit, fn AttemptFunc[T]) (*Outcome[T], error) {
	r := &run[T]{
		unit:      unit,
		fn:        fn,
		remaining: slices.Clone(unit.Items),
		outcome:   &Outcome[T]{Results: make(map[int]ItemResult[T], len(unit.Items))},
	}
	cheapBudget := c.cfg.MaxAttempts - c.cfg.EscalationRetries

	state := StatePrimary
	for !state.Terminal() {
		if len(r.remaining) == 0 {
			state = StateSucceeded
			break
		}

		if state == StateEscalated {
			if err := c.escalate(ctx, r); err != nil {
				return nil, err
			}
			if len(r.remaining) == 0 {
				state = StateSucceeded
			} else {
				state = state.Next()
			}
			continue
		}

		batches := c.batches(state, r)
		fatal := false
		for _, batch := range batches {
			batch = r.pending(batch)
			if len(batch) == 0 {
				continue
			}
			if r.outcome.Attempts >= cheapBudget {
				break
			}
			err := c.attempt(ctx, r, Attempt{
				State:      state,
				Tier:       c.cfg.Primary,
				Items:      batch,
				Simplified: state.Simplified(),
			})
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if llm.IsFatal(err) {
				fatal = true
				break
			}
		}

		switch {
		case len(r.remaining) == 0:
			state = StateSucceeded
		case fatal || r.outcome.Attempts >= cheapBudget:
			state = StateEscalated
		default:
			state = state.Next()
		}
	}

	slices.Sort(r.remaining)
	r.outcome.Failed = r.remaining
	r.outcome.State = state
	if state == StateFailedBothTiers {
		c.logger.Error("unit failed on both tiers",
			"stage", unit.Stage,
			"unit", unit.ID,
			"items", r.outcome.Failed,
			"attempts", r.outcome.Attempts,
		)
	}
	return r.outcome, nil
}

// batches splits the remaining items for a cheap-tier state. A nil result
// skips the state.
func (c *Controller[T]) batches(state State, r *run[T]) [][]int {
	rem := slices.Clone(r.remaining)
	switch state {
	case StatePrimary, StatePrimarySimplified:
		return [][]int{rem}
	case StateSplitBatch:
		if len(rem) < 2 {
			return nil
		}
		mid := (len(rem) + 1) / 2
		return [][]int{rem[:mid], rem[mid:]}
	case StateIndividual:
		if len(rem) == 1 && slices.Equal(rem, r.lastItems) {
			return nil
		}
		out := make([][]int, len(rem))
		for i, item := range rem {
			out[i] = []int{item}
		}
		return out
	}
	return nil
}

// escalate spends the escalation budget on all remaining items. It is
// entered at most once per unit.
func (c *Controller[T]) escalate(ctx context.Context, r *run[T]) error {
	if !c.cfg.Escalation.Enabled() {
		c.logger.Warn("escalation tier not configured", "stage", r.unit.Stage, "unit", r.unit.ID)
		return nil
	}
	r.outcome.Escalated = true
	for i := 0; i < c.cfg.EscalationRetries && len(r.remaining) > 0; i++ {
		err := c.attempt(ctx, r, Attempt{
			State:      StateEscalated,
			Tier:       c.cfg.Escalation,
			Items:      slices.Clone(r.remaining),
			Simplified: i > 0,
			Final:      i == c.cfg.EscalationRetries-1,
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if llm.IsFatal(err) {
			break
		}
	}
	return nil
}

// attempt makes one call and folds its resolved items into the outcome.
func (c *Controller[T]) attempt(ctx context.Context, r *run[T], a Attempt) error {
	r.outcome.Attempts++
	a.ID = uuid.NewString()
	a.Number = r.outcome.Attempts
	state, tier, items := a.State, a.Tier, a.Items
	r.lastItems = items

	actx, cancel := ctx, context.CancelFunc(func() {})
	if tier.Timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, tier.Timeout)
	}
	start := time.Now()
	rep, err := r.fn(actx, a)
	elapsed := time.Since(start)
	cancel()

	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("attempt timed out after %s: %w", tier.Timeout, err)
	}

	resolved := 0
	for _, item := range items {
		v, ok := rep.Resolved[item]
		if !ok {
			continue
		}
		resolved++
		model := rep.Model
		if model == "" {
			model = tier.Model
		}
		r.outcome.Results[item] = ItemResult[T]{
			Value:   v,
			Tier:    tier.Name,
			Model:   model,
			State:   state,
			Attempt: a.Number,
		}
		r.resolve(item)
	}
	if err == nil && resolved < len(items) {
		err = fmt.Errorf("attempt resolved %d of %d items", resolved, len(items))
	}

	rec := AttemptRecord{
		ID:            a.ID,
		RunID:         r.unit.RunID,
		Stage:         r.unit.Stage,
		Unit:          r.unit.ID,
		Number:        a.Number,
		State:         state,
		Tier:          tier.Name,
		Model:         rep.Model,
		Strategy:      rep.Strategy,
		Items:         len(items),
		Resolved:      resolved,
		Success:       err == nil,
		Elapsed:       elapsed,
		InputTokens:   rep.InputTokens,
		OutputTokens:  rep.OutputTokens,
		EstimatedCost: tier.EstimateCost(rep.InputTokens, rep.OutputTokens),
	}
	if rec.Model == "" {
		rec.Model = tier.Model
	}
	if err != nil {
		rec.Error = err.Error()
	}
	r.outcome.Records = append(r.outcome.Records, rec)
	if c.cfg.Recorder != nil {
		c.cfg.Recorder.RecordAttempt(rec)
	}

	attrs := []any{
		"stage", rec.Stage,
		"unit", rec.Unit,
		"attempt", rec.Number,
		"state", rec.State,
		"tier", rec.Tier,
		"model", rec.Model,
		"strategy", rec.Strategy,
		"items", rec.Items,
		"resolved", rec.Resolved,
		"elapsed", rec.Elapsed.Round(time.Millisecond),
		"estimated_cost", rec.EstimatedCost,
	}
	if err != nil {
		c.logger.Warn("attempt failed", append(attrs, "error", err)...)
	} else {
		c.logger.Info("attempt succeeded", attrs...)
	}
	return err
}

func (r *run[T]) resolve(item int) {
	if i := slices.Index(r.remaining, item); i >= 0 {
		r.remaining = slices.Delete(r.remaining, i, i+1)
	}
}

// pending filters batch down to items that are still unresolved.
func (r *run[T]) pending(batch []int) []int {
	out := batch[:0:0]
	for _, item := range batch {
		if slices.Contains(r.remaining, item) {
			out = append(out, item)
		}
	}
	return out
}
