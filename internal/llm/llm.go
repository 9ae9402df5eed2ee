// Package llm provides the model tiers used by the pipeline: a provider
// neutral Completer interface, Anthropic and Gemini implementations, the
// transient/fatal error taxonomy and a retry wrapper for transient failures.
package llm

import (
	"context"
	"time"
)

// Request is a single prompt sent to a model.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature *float64
}

// Response is the raw text returned by a model. Text may or may not contain
// a parseable structured region.
type Response struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
	StopReason   string
	// Truncated is set when the provider reports the output token limit was hit.
	Truncated bool
}

// Completer sends prompts to a model.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, req Request) (*Response, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Tier names.
const (
	TierPrimary    = "primary"
	TierEscalation = "escalation"
)

// Tier is a cost/capability level of the model backend.
type Tier struct {
	Name      string
	Model     string
	Client    Completer
	Timeout   time.Duration
	MaxTokens int
	// Prices in USD per million tokens, used for cost estimates.
	InputCostPerMTok  float64
	OutputCostPerMTok float64
}

// Enabled reports whether the tier has a client.
func (t Tier) Enabled() bool {
	return t.Client != nil
}

// EstimateCost returns the estimated USD cost of a call.
func (t Tier) EstimateCost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1e6*t.InputCostPerMTok + float64(outputTokens)/1e6*t.OutputCostPerMTok
}

// Float returns a pointer to v, for Request.Temperature.
func Float(v float64) *float64 {
	return &v
}
