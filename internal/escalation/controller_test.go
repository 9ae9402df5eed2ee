package escalation

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulachik/figlang/internal/llm"
	"github.com/abdulachik/figlang/internal/llm/llmtest"
)

var errParse = errors.New("unparseable response")

func tiers() (llm.Tier, llm.Tier) {
	primary := llm.Tier{Name: llm.TierPrimary, Model: "cheap", Client: llmtest.Reply()}
	escalation := llm.Tier{Name: llm.TierEscalation, Model: "capable", Client: llmtest.Reply(),
		InputCostPerMTok: 1, OutputCostPerMTok: 2}
	return primary, escalation
}

// script records attempts and answers them with respond.
type script struct {
	mu       sync.Mutex
	attempts []Attempt
	respond  func(a Attempt) (Report[string], error)
}

func (s *script) fn(_ context.Context, a Attempt) (Report[string], error) {
	s.mu.Lock()
	s.attempts = append(s.attempts, a)
	s.mu.Unlock()
	return s.respond(a)
}

func resolveAll(a Attempt) Report[string] {
	out := make(map[int]string, len(a.Items))
	for _, i := range a.Items {
		out[i] = a.Tier.Name
	}
	return Report[string]{Resolved: out, Strategy: "direct", InputTokens: 1000, OutputTokens: 500}
}

func unit(items ...int) Unit {
	return Unit{RunID: "run-1", ID: "Psalms 23", Stage: "detection", Items: items}
}

func TestTransitions(t *testing.T) {
	path := []State{StatePrimary}
	for s := StatePrimary; !s.Terminal(); s = s.Next() {
		path = append(path, s.Next())
	}
	assert.Equal(t, []State{
		StatePrimary,
		StatePrimarySimplified,
		StateSplitBatch,
		StateIndividual,
		StateEscalated,
		StateFailedBothTiers,
	}, path)
	assert.Equal(t, StateSucceeded, StateSucceeded.Next())
}

func TestRun_FirstAttemptSucceeds(t *testing.T) {
	primary, escalation := tiers()
	c := New[string](Config{Primary: primary, Escalation: escalation})
	s := &script{respond: func(a Attempt) (Report[string], error) { return resolveAll(a), nil }}

	out, err := c.Run(context.Background(), unit(0, 1, 2), s.fn)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, out.State)
	assert.Equal(t, 1, out.Attempts)
	assert.False(t, out.Escalated)
	assert.Empty(t, out.Failed)
	require.Len(t, out.Results, 3)
	assert.Equal(t, llm.TierPrimary, out.Results[2].Tier)
	assert.Equal(t, "cheap", out.Results[2].Model)
	require.Len(t, out.Records, 1)
	assert.True(t, out.Records[0].Success)
	assert.Equal(t, "run-1", out.Records[0].RunID)
	assert.False(t, s.attempts[0].Simplified)
}

func TestRun_StateSequence(t *testing.T) {
	primary, escalation := tiers()
	c := New[string](Config{Primary: primary, Escalation: escalation, MaxAttempts: 20, EscalationRetries: 2})

	// Only single-item attempts succeed, except item 2 which never does on
	// the primary tier.
	s := &script{respond: func(a Attempt) (Report[string], error) {
		if a.Tier.Name == llm.TierEscalation {
			return resolveAll(a), nil
		}
		if len(a.Items) == 1 && a.Items[0] != 2 {
			return resolveAll(a), nil
		}
		return Report[string]{}, errParse
	}}

	out, err := c.Run(context.Background(), unit(0, 1, 2, 3), s.fn)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, out.State)

	var states []State
	var sizes []int
	for _, a := range s.attempts {
		states = append(states, a.State)
		sizes = append(sizes, len(a.Items))
	}
	assert.Equal(t, []State{
		StatePrimary,
		StatePrimarySimplified,
		StateSplitBatch, StateSplitBatch,
		StateIndividual, StateIndividual, StateIndividual, StateIndividual,
		StateEscalated,
	}, states)
	assert.Equal(t, []int{4, 4, 2, 2, 1, 1, 1, 1, 1}, sizes)
	assert.True(t, s.attempts[1].Simplified)
	assert.Equal(t, []int{2}, s.attempts[8].Items)

	assert.True(t, out.Escalated)
	assert.Equal(t, llm.TierEscalation, out.Results[2].Tier)
	assert.Equal(t, StateEscalated, out.Results[2].State)
	assert.Equal(t, llm.TierPrimary, out.Results[0].Tier)
}

func TestRun_PartialProgressKept(t *testing.T) {
	primary, escalation := tiers()
	c := New[string](Config{Primary: primary, Escalation: escalation})

	s := &script{respond: func(a Attempt) (Report[string], error) {
		// Each attempt resolves only its first item.
		return Report[string]{Resolved: map[int]string{a.Items[0]: "ok"}}, errParse
	}}

	out, err := c.Run(context.Background(), unit(0, 1, 2), s.fn)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, out.State)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, []int{0, 1, 2}, slices.Sorted(maps.Keys(out.Results)))
	assert.Equal(t, 1, out.Records[0].Resolved)
	assert.False(t, out.Records[0].Success)
}

func TestRun_AttemptCeilingAndSingleEscalation(t *testing.T) {
	tests := []struct {
		name        string
		items       []int
		maxAttempts int
		retries     int
	}{
		{"single verse", []int{0}, 10, 2},
		{"batch of five", []int{0, 1, 2, 3, 4}, 10, 2},
		{"tight budget", []int{0, 1, 2, 3, 4, 5, 6, 7}, 4, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary, escalation := tiers()
			c := New[string](Config{
				Primary:           primary,
				Escalation:        escalation,
				MaxAttempts:       tt.maxAttempts,
				EscalationRetries: tt.retries,
			})
			s := &script{respond: func(Attempt) (Report[string], error) { return Report[string]{}, errParse }}

			out, err := c.Run(context.Background(), unit(tt.items...), s.fn)
			require.NoError(t, err)
			assert.Equal(t, StateFailedBothTiers, out.State)
			assert.Equal(t, tt.items, out.Failed)
			assert.Empty(t, out.Results)
			assert.LessOrEqual(t, out.Attempts, tt.maxAttempts)
			assert.Len(t, out.Records, out.Attempts)

			escalated := 0
			entered := 0
			prev := State("")
			for _, a := range s.attempts {
				if a.Tier.Name == llm.TierEscalation {
					escalated++
					if prev != StateEscalated {
						entered++
					}
				}
				prev = a.State
			}
			assert.Equal(t, tt.retries, escalated)
			assert.Equal(t, 1, entered)

			last := s.attempts[len(s.attempts)-1]
			assert.True(t, last.Final)
			assert.Equal(t, StateEscalated, last.State)
		})
	}
}

func TestRun_SingleItemSkipsRedundantStates(t *testing.T) {
	primary, escalation := tiers()
	c := New[string](Config{Primary: primary, Escalation: escalation})
	s := &script{respond: func(Attempt) (Report[string], error) { return Report[string]{}, errParse }}

	_, err := c.Run(context.Background(), unit(7), s.fn)
	require.NoError(t, err)

	var states []State
	for _, a := range s.attempts {
		states = append(states, a.State)
	}
	assert.Equal(t, []State{StatePrimary, StatePrimarySimplified, StateEscalated, StateEscalated}, states)
	assert.False(t, s.attempts[2].Simplified)
	assert.True(t, s.attempts[3].Simplified)
}

func TestRun_FatalErrorEscalatesImmediately(t *testing.T) {
	primary, escalation := tiers()
	c := New[string](Config{Primary: primary, Escalation: escalation})
	s := &script{respond: func(a Attempt) (Report[string], error) {
		if a.Tier.Name == llm.TierPrimary {
			return Report[string]{}, llm.NewFatalError(errors.New("gemini: status 401: bad key"))
		}
		return resolveAll(a), nil
	}}

	out, err := c.Run(context.Background(), unit(0, 1), s.fn)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, out.State)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, StateEscalated, s.attempts[1].State)
}

func TestRun_TimeoutIsAttemptFailure(t *testing.T) {
	primary, escalation := tiers()
	primary.Timeout = 10 * time.Millisecond
	c := New[string](Config{Primary: primary, Escalation: escalation})

	s := &script{}
	slow := func(ctx context.Context, a Attempt) (Report[string], error) {
		if a.Tier.Name == llm.TierPrimary && a.State == StatePrimary {
			<-ctx.Done()
			return Report[string]{}, ctx.Err()
		}
		return s.fn(ctx, a)
	}
	s.respond = func(a Attempt) (Report[string], error) { return resolveAll(a), nil }

	out, err := c.Run(context.Background(), unit(0), slow)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, out.State)
	assert.Equal(t, StatePrimarySimplified, out.Results[0].State)
	assert.Contains(t, out.Records[0].Error, "timed out")
}

func TestRun_Cancellation(t *testing.T) {
	primary, escalation := tiers()
	c := New[string](Config{Primary: primary, Escalation: escalation})

	ctx, cancel := context.WithCancel(context.Background())
	fn := func(ctx context.Context, a Attempt) (Report[string], error) {
		cancel()
		<-ctx.Done()
		return Report[string]{}, ctx.Err()
	}

	out, err := c.Run(ctx, unit(0, 1), fn)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)
}

func TestRun_RecorderAndCost(t *testing.T) {
	primary, escalation := tiers()
	col := &Collector{}
	c := New[string](Config{Primary: primary, Escalation: escalation, Recorder: Recorders{col, nil}})
	s := &script{respond: func(a Attempt) (Report[string], error) {
		if a.Tier.Name == llm.TierEscalation {
			return resolveAll(a), nil
		}
		return Report[string]{}, errParse
	}}

	out, err := c.Run(context.Background(), unit(0), s.fn)
	require.NoError(t, err)

	recs := col.Records()
	require.Len(t, recs, out.Attempts)
	last := recs[len(recs)-1]
	assert.Equal(t, "capable", last.Model)
	assert.True(t, last.Success)
	assert.InDelta(t, 0.002, last.EstimatedCost, 1e-9)
	assert.NotEmpty(t, last.ID)
	assert.Equal(t, errParse.Error(), recs[0].Error)
}
