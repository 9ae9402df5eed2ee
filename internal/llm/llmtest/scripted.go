// Package llmtest provides scripted model clients for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/abdulachik/figlang/internal/llm"
)

// Step is one scripted reply.
type Step struct {
	Text      string
	Err       error
	Truncated bool
	// Delay blocks the call, honouring context cancellation.
	Delay time.Duration
}

// Scripted replays Steps in order. Once the script is exhausted it repeats
// Fallback, or returns an error when Fallback is nil.
type Scripted struct {
	Model    string
	Steps    []Step
	Fallback *Step

	mu       sync.Mutex
	requests []llm.Request
}

// Reply returns a Scripted completer answering each call with the given texts.
func Reply(texts ...string) *Scripted {
	s := &Scripted{Model: "scripted"}
	for _, t := range texts {
		s.Steps = append(s.Steps, Step{Text: t})
	}
	return s
}

// Always returns a Scripted completer that answers every call with step.
func Always(step Step) *Scripted {
	return &Scripted{Model: "scripted", Fallback: &step}
}

// Complete implements llm.Completer.
func (s *Scripted) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	n := len(s.requests)
	s.requests = append(s.requests, req)
	var step Step
	switch {
	case n < len(s.Steps):
		step = s.Steps[n]
	case s.Fallback != nil:
		step = *s.Fallback
	default:
		s.mu.Unlock()
		return nil, fmt.Errorf("script exhausted after %d calls", n)
	}
	s.mu.Unlock()

	if step.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(step.Delay):
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return &llm.Response{
		Text:         step.Text,
		Model:        s.Model,
		InputTokens:  int64(len(req.Prompt) / 4),
		OutputTokens: int64(len(step.Text) / 4),
		Truncated:    step.Truncated,
	}, nil
}

// Calls returns the number of requests received.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns a copy of the requests received.
func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, len(s.requests))
	copy(out, s.requests)
	return out
}
