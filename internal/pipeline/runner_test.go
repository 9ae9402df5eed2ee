package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/abdulachik/figlang/internal/db"
	"github.com/abdulachik/figlang/internal/escalation"
	"github.com/abdulachik/figlang/internal/figlang"
	"github.com/abdulachik/figlang/internal/notify"
)

func chapter(book string, ch, n int) []figlang.Verse {
	out := make([]figlang.Verse, n)
	for i := range out {
		out[i] = figlang.Verse{Ref: figlang.Ref{Book: book, Chapter: ch, Verse: i + 1}}
	}
	return out
}

// fakeProcessor marks every verse completed, optionally failing units or
// blocking until cancelled.
type fakeProcessor struct {
	delay  time.Duration
	failOn string
	block  bool

	mu       sync.Mutex
	units    []string
	inFlight atomic.Int32
	peak     atomic.Int32
	started  chan struct{}
}

func (f *fakeProcessor) ProcessUnit(ctx context.Context, runID string, verses []figlang.Verse) (*UnitResult, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	id := UnitID(verses)
	f.mu.Lock()
	f.units = append(f.units, id)
	f.mu.Unlock()
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if id == f.failOn {
		return nil, errors.New("database is locked")
	}

	res := &UnitResult{Attempts: 1, Cost: 0.01}
	for _, v := range verses {
		res.Verses = append(res.Verses, VerseOutcome{Ref: v.Ref, Status: db.VerseCompleted, Detected: 1, Confirmed: 1})
	}
	return res, nil
}

func (f *fakeProcessor) processed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.units...)
}

func TestRunner_Plan(t *testing.T) {
	r := NewRunner(RunnerConfig{BatchSize: 2})
	verses := append(chapter("Psalms", 1, 3), chapter("Psalms", 2, 2)...)

	units, skipped, err := r.Plan(context.Background(), verses)
	require.NoError(t, err)
	assert.Zero(t, skipped)

	var ids []string
	for _, u := range units {
		ids = append(ids, UnitID(u))
	}
	assert.Equal(t, []string{"Psalms 1:1-2", "Psalms 1:3", "Psalms 2:1-2"}, ids)
}

func TestRunner_Resume(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.SaveVerse(ctx, &db.VerseRecord{Ref: figlang.Ref{Book: "Psalms", Chapter: 1, Verse: 1}, Status: db.VerseCompleted})
	require.NoError(t, err)
	_, err = store.SaveVerse(ctx, &db.VerseRecord{Ref: figlang.Ref{Book: "Psalms", Chapter: 1, Verse: 2}, Status: db.VerseFailed, BothTiersFailed: true})
	require.NoError(t, err)
	require.NoError(t, store.MarkVerseStarted(ctx, db.MarkVerseStartedParams{
		Book: "Psalms", Chapter: 1, Verse: 3, Reference: "Psalms 1:3",
	}))

	t.Run("skips terminal verses", func(t *testing.T) {
		proc := &fakeProcessor{}
		r := NewRunner(RunnerConfig{Processor: proc, Store: store, BatchSize: 5})
		sum, err := r.Run(ctx, "run-2", chapter("Psalms", 1, 4))
		require.NoError(t, err)
		assert.Equal(t, 2, sum.Skipped)
		assert.Equal(t, []string{"Psalms 1:3-4"}, proc.processed())
	})

	t.Run("retry failed", func(t *testing.T) {
		proc := &fakeProcessor{}
		r := NewRunner(RunnerConfig{Processor: proc, Store: store, BatchSize: 5, RetryFailed: true})
		sum, err := r.Run(ctx, "run-3", chapter("Psalms", 1, 4))
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Skipped)
		assert.Equal(t, []string{"Psalms 1:2-4"}, proc.processed())
	})
}

func TestRunner_BoundedConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	proc := &fakeProcessor{delay: 20 * time.Millisecond, failOn: "Psalms 1:3"}
	r := NewRunner(RunnerConfig{Processor: proc, Workers: 2, BatchSize: 1})

	sum, err := r.Run(context.Background(), "run-1", chapter("Psalms", 1, 6))
	require.NoError(t, err)
	assert.LessOrEqual(t, proc.peak.Load(), int32(2))
	assert.Len(t, proc.processed(), 6)

	assert.Equal(t, 6, sum.Units)
	assert.Equal(t, 1, sum.UnitErrors)
	assert.Equal(t, 5, sum.Completed)
	assert.Equal(t, 5, sum.Confirmed)
	assert.Equal(t, 5, sum.Attempts)
	assert.InDelta(t, 0.05, sum.Cost, 1e-9)
}

func TestRunner_Cancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	proc := &fakeProcessor{block: true, started: make(chan struct{}, 1)}
	r := NewRunner(RunnerConfig{Processor: proc, Workers: 1, BatchSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var sum *Summary
	go func() {
		var err error
		sum, err = r.Run(ctx, "run-1", chapter("Psalms", 1, 5))
		done <- err
	}()

	<-proc.started
	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, proc.processed(), 1, "no new unit starts after cancellation")
	assert.Equal(t, 1, sum.UnitErrors)
}

func TestRunner_NotifiesFollowup(t *testing.T) {
	proc := UnitProcessorFunc(func(_ context.Context, _ string, verses []figlang.Verse) (*UnitResult, error) {
		return &UnitResult{Verses: []VerseOutcome{{Ref: verses[0].Ref, Status: db.VerseFailed, BothTiersFailed: true}}}, nil
	})
	n := &captured{}
	r := NewRunner(RunnerConfig{Processor: proc, Notifier: n})

	sum, err := r.Run(context.Background(), "run-1", chapter("Job", 3, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.BothTiersFailed)
	assert.Equal(t, []string{notify.KindRunFinished}, n.kinds())
}

func TestHealth(t *testing.T) {
	h := NewHealth()
	assert.Nil(t, h.Status(ComponentDatabase))
	assert.True(t, h.Healthy())

	h.RecordAttempt(escalation.AttemptRecord{Tier: "primary", Model: "flash", Success: true})
	h.RecordAttempt(escalation.AttemptRecord{Tier: "escalation", Error: "status 503"})
	h.RecordAttempt(escalation.AttemptRecord{Tier: "escalation", Error: "status 503"})

	assert.True(t, h.Status("primary").Healthy)
	esc := h.Status("escalation")
	require.NotNil(t, esc)
	assert.False(t, esc.Healthy)
	assert.Equal(t, 2, esc.Failures)
	assert.Equal(t, "status 503", esc.Message)
	assert.False(t, h.Healthy())

	h.SetHealthy("escalation", "pro")
	assert.Zero(t, h.Status("escalation").Failures)
	assert.Len(t, h.Statuses(), 2)
	assert.True(t, h.Healthy())
}
