// Package metrics exposes pipeline telemetry as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abdulachik/figlang/internal/escalation"
)

const namespace = "figlang"

// Metrics holds the collectors on a private registry. It satisfies
// recovery.Observer, detection.VerdictObserver, escalation.Recorder and
// pipeline.OutcomeObserver.
type Metrics struct {
	registry *prometheus.Registry

	strategies *prometheus.CounterVec
	exhausted  prometheus.Counter
	verdicts   *prometheus.CounterVec
	attempts   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	cost       *prometheus.CounterVec
	tokens     *prometheus.CounterVec
	verses     *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		strategies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_strategy_success_total",
			Help:      "Responses recovered, by recovery strategy.",
		}, []string{"strategy"}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_exhausted_total",
			Help:      "Responses no recovery strategy could parse.",
		}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_verdicts_total",
			Help:      "Truncation detector verdicts, by stage.",
		}, []string{"stage", "status"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Model attempts, by stage, state, tier and outcome.",
		}, []string{"stage", "state", "tier", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Model attempt latency.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 60, 90, 120, 180},
		}, []string{"stage", "tier"}),
		cost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimated_cost_dollars_total",
			Help:      "Estimated model cost in dollars, by tier.",
		}, []string{"tier"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens used, by tier and direction.",
		}, []string{"tier", "direction"}),
		verses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verses_total",
			Help:      "Verses finished, by status.",
		}, []string{"status", "both_tiers_failed", "truncated"}),
	}
	m.registry.MustRegister(
		m.strategies, m.exhausted, m.verdicts, m.attempts,
		m.duration, m.cost, m.tokens, m.verses,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) StrategySucceeded(strategy string) {
	m.strategies.WithLabelValues(strategy).Inc()
}

func (m *Metrics) RecoveryExhausted() {
	m.exhausted.Inc()
}

func (m *Metrics) VerdictObserved(stage, status string) {
	m.verdicts.WithLabelValues(stage, status).Inc()
}

func (m *Metrics) RecordAttempt(r escalation.AttemptRecord) {
	outcome := "failure"
	if r.Success {
		outcome = "success"
	}
	m.attempts.WithLabelValues(r.Stage, string(r.State), r.Tier, outcome).Inc()
	m.duration.WithLabelValues(r.Stage, r.Tier).Observe(r.Elapsed.Seconds())
	if r.EstimatedCost > 0 {
		m.cost.WithLabelValues(r.Tier).Add(r.EstimatedCost)
	}
	if r.InputTokens > 0 {
		m.tokens.WithLabelValues(r.Tier, "input").Add(float64(r.InputTokens))
	}
	if r.OutputTokens > 0 {
		m.tokens.WithLabelValues(r.Tier, "output").Add(float64(r.OutputTokens))
	}
}

func (m *Metrics) VerseFinished(status string, bothTiersFailed, truncated bool) {
	m.verses.WithLabelValues(status, yesNo(bothTiersFailed), yesNo(truncated)).Inc()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
