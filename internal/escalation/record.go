package escalation

import (
	"sync"
	"time"
)

// AttemptRecord is the telemetry emitted for every attempt.
type AttemptRecord struct {
	ID            string
	RunID         string
	Stage         string
	Unit          string
	Number        int
	State         State
	Tier          string
	Model         string
	Strategy      string
	Items         int
	Resolved      int
	Success       bool
	Elapsed       time.Duration
	InputTokens   int64
	OutputTokens  int64
	EstimatedCost float64
	Error         string
}

// Recorder receives attempt telemetry as it happens.
type Recorder interface {
	RecordAttempt(AttemptRecord)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(AttemptRecord)

// RecordAttempt calls f.
func (f RecorderFunc) RecordAttempt(r AttemptRecord) { f(r) }

// Recorders fans records out to several recorders.
type Recorders []Recorder

// RecordAttempt implements Recorder.
func (rs Recorders) RecordAttempt(r AttemptRecord) {
	for _, rec := range rs {
		if rec != nil {
			rec.RecordAttempt(r)
		}
	}
}

// Collector keeps every record in memory. It is safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	records []AttemptRecord
}

// RecordAttempt implements Recorder.
func (c *Collector) RecordAttempt(r AttemptRecord) {
	c.mu.Lock()
	c.records = append(c.records, r)
	c.mu.Unlock()
}

// Records returns a copy of the collected records.
func (c *Collector) Records() []AttemptRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AttemptRecord, len(c.records))
	copy(out, c.records)
	return out
}
