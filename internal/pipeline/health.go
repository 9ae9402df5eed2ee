package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/abdulachik/figlang/internal/escalation"
)

// Health components.
const (
	ComponentDatabase = "database"
	ComponentSource   = "source"
)

// HealthStatus represents the health of a component.
type HealthStatus struct {
	Healthy     bool
	LastCheck   time.Time
	LastSuccess time.Time
	LastError   error
	Message     string
	// Failures counts consecutive failures since the last success.
	Failures int
}

// Health tracks the model tiers, the database and the text source during a
// run. It implements escalation.Recorder so attempt outcomes feed the tier
// components directly.
type Health struct {
	mu         sync.RWMutex
	components map[string]*HealthStatus
	now        func() time.Time
}

// NewHealth creates a new health tracker.
func NewHealth() *Health {
	return &Health{
		components: make(map[string]*HealthStatus),
		now:        time.Now,
	}
}

// SetHealthy marks a component as healthy.
func (h *Health) SetHealthy(component, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	s := h.component(component)
	s.Healthy = true
	s.LastCheck = now
	s.LastSuccess = now
	s.LastError = nil
	s.Message = message
	s.Failures = 0
}

// SetUnhealthy marks a component as unhealthy.
func (h *Health) SetUnhealthy(component string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.component(component)
	s.Healthy = false
	s.LastCheck = h.now()
	s.LastError = err
	s.Message = err.Error()
	s.Failures++
}

func (h *Health) component(name string) *HealthStatus {
	s, ok := h.components[name]
	if !ok {
		s = &HealthStatus{}
		h.components[name] = s
	}
	return s
}

// RecordAttempt marks the attempt's tier healthy or unhealthy.
func (h *Health) RecordAttempt(r escalation.AttemptRecord) {
	if r.Success {
		h.SetHealthy(r.Tier, r.Model)
		return
	}
	h.SetUnhealthy(r.Tier, errors.New(r.Error))
}

// Status returns a copy of a component's status, or nil if it was never
// reported.
func (h *Health) Status(component string) *HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if s, ok := h.components[component]; ok {
		c := *s
		return &c
	}
	return nil
}

// Statuses returns copies of all component statuses.
func (h *Health) Statuses() map[string]HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]HealthStatus, len(h.components))
	for name, s := range h.components {
		out[name] = *s
	}
	return out
}

// Healthy returns true if all components are healthy.
func (h *Health) Healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.components {
		if !s.Healthy {
			return false
		}
	}
	return true
}
