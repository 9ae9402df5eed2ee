// Package detection runs the first model pass: finding candidate
// figurative-language instances in a batch of verses.
package detection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/abdulachik/figlang/internal/escalation"
	"github.com/abdulachik/figlang/internal/figlang"
	"github.com/abdulachik/figlang/internal/llm"
	"github.com/abdulachik/figlang/internal/recovery"
)

// StageName labels detection attempts in telemetry.
const StageName = "detection"

// ErrTruncated is returned by an attempt whose response omitted findings.
var ErrTruncated = errors.New("response truncated")

// Candidate is one detected instance before validation.
type Candidate struct {
	Hebrew      string
	English     string          `validate:"required"`
	Types       figlang.TypeSet `validate:"ne=0"`
	Confidence  float64         `validate:"gte=0,lte=1"`
	Speaker     string
	Explanation string
	Target      string
	Vehicle     string
	Ground      string
	TargetTags  []string
	VehicleTags []string
	GroundTags  []string
}

// VerseResult is the detection outcome for one verse. An empty Candidates
// slice is a valid result.
type VerseResult struct {
	Candidates []Candidate
	Reasoning  string
	Strategy   string
	// Truncated is set when a truncated response was accepted on the last
	// attempt. LostToTruncation counts the findings known to be missing.
	Truncated        bool
	LostToTruncation int
}

// VerdictObserver receives detector verdicts, e.g. for metrics.
type VerdictObserver interface {
	VerdictObserved(stage, status string)
}

// Config configures a Stage.
type Config struct {
	Controller escalation.Config
	Recovery   recovery.Observer
	Verdicts   VerdictObserver
	Logger     *slog.Logger
}

// Stage runs detection through the escalation controller.
type Stage struct {
	controller *escalation.Controller[VerseResult]
	engine     *recovery.Engine
	detector   recovery.Detector
	validate   *validator.Validate
	verdicts   VerdictObserver
	logger     *slog.Logger
}

// Schema is the record layout used for field-by-field recovery.
var Schema = recovery.Schema{
	Anchor: "types",
	Fields: []recovery.Field{
		{Name: "verse", Kind: recovery.FieldNumber},
		{Name: "hebrew_text", Kind: recovery.FieldString},
		{Name: "english_text", Kind: recovery.FieldString},
		{Name: "types", Kind: recovery.FieldList},
		{Name: "confidence", Kind: recovery.FieldNumber},
		{Name: "speaker", Kind: recovery.FieldString},
		{Name: "explanation", Kind: recovery.FieldString},
		{Name: "target", Kind: recovery.FieldString},
		{Name: "vehicle", Kind: recovery.FieldString},
		{Name: "ground", Kind: recovery.FieldString},
		{Name: "target_tags", Kind: recovery.FieldList},
		{Name: "vehicle_tags", Kind: recovery.FieldList},
		{Name: "ground_tags", Kind: recovery.FieldList},
	},
}

// New creates a detection stage.
func New(cfg Config) *Stage {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctrl := cfg.Controller
	if ctrl.Logger == nil {
		ctrl.Logger = logger
	}
	return &Stage{
		controller: escalation.New[VerseResult](ctrl),
		engine:     recovery.NewEngine(recovery.Config{Schema: Schema, Observer: cfg.Recovery, Logger: logger}),
		detector:   recovery.DefaultDetector(),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		verdicts:   cfg.Verdicts,
		logger:     logger,
	}
}

// Engine returns the stage's recovery engine.
func (s *Stage) Engine() *recovery.Engine {
	return s.engine
}

// Detect runs detection for a batch of verses. Outcome items are indices
// into verses.
func (s *Stage) Detect(ctx context.Context, runID, unitID string, verses []figlang.Verse) (*escalation.Outcome[VerseResult], error) {
	items := make([]int, len(verses))
	for i := range verses {
		items[i] = i
	}
	unit := escalation.Unit{RunID: runID, ID: unitID, Stage: StageName, Items: items}
	return s.controller.Run(ctx, unit, func(ctx context.Context, a escalation.Attempt) (escalation.Report[VerseResult], error) {
		return s.attempt(ctx, a, verses)
	})
}

func (s *Stage) attempt(ctx context.Context, a escalation.Attempt, verses []figlang.Verse) (escalation.Report[VerseResult], error) {
	var rep escalation.Report[VerseResult]

	batch := make([]figlang.Verse, len(a.Items))
	for i, item := range a.Items {
		batch[i] = verses[item]
	}
	req := llm.Request{
		System:      SystemPrompt,
		Prompt:      BuildPrompt(batch, a.Simplified),
		MaxTokens:   a.Tier.MaxTokens,
		Temperature: llm.Float(0.2),
	}
	resp, err := a.Tier.Client.Complete(ctx, req)
	if err != nil {
		return rep, fmt.Errorf("complete detection prompt: %w", err)
	}
	rep.Model = resp.Model
	rep.InputTokens = resp.InputTokens
	rep.OutputTokens = resp.OutputTokens

	verdict := s.detector.Classify(resp.Text)
	res, err := s.engine.Recover(resp.Text)
	if err != nil {
		s.observe(verdict)
		return rep, fmt.Errorf("recover detection response (%s): %w", verdict.Status, err)
	}
	rep.Strategy = string(res.Strategy)
	if verdict.Status == recovery.StatusCorrupted || verdict.Status == recovery.StatusUnknown {
		verdict = s.detector.Reconcile(verdict, resp.Text, res)
	}
	verdict = recovery.CutShort(verdict, resp.Truncated, res)
	s.observe(verdict)

	perVerse, maxSeen, err := s.decode(res.Records, len(batch))
	if err != nil {
		return rep, err
	}

	truncated := verdict.Status == recovery.StatusTruncated
	rep.Resolved = make(map[int]VerseResult, len(batch))
	for local, item := range a.Items {
		vr := VerseResult{
			Candidates: perVerse[local],
			Reasoning:  res.Reasoning,
			Strategy:   string(res.Strategy),
		}
		switch {
		case !truncated:
		case res.Partial && local < maxSeen-1:
			// Verses before the one the payload stopped in are complete.
		case a.Final:
			vr.Truncated = true
			vr.LostToTruncation = lostCount(verdict, res, local, maxSeen, len(batch))
		default:
			continue
		}
		rep.Resolved[item] = vr
	}

	if truncated && len(rep.Resolved) < len(a.Items) {
		return rep, fmt.Errorf("%w: %s", ErrTruncated, verdict.Reason)
	}
	if truncated {
		s.logger.Warn("accepted truncated detection response",
			"items", a.Items,
			"reason", verdict.Reason,
			"remainder", res.Remainder,
		)
	}
	return rep, nil
}

// lostCount estimates the findings missing from a truncated response that
// is accepted on the last attempt. The loss is attributed to the verse the
// payload stopped in, or to the only verse of the batch.
func lostCount(v recovery.Verdict, res *recovery.Result, local, maxSeen, size int) int {
	owner := size - 1
	if res.Partial && maxSeen > 0 {
		owner = maxSeen - 1
	}
	if local != owner {
		return 0
	}
	lost := res.Remainder
	if missing := v.ClaimedCount - v.StructuredCount; missing > lost {
		lost = missing
	}
	if lost == 0 && !res.Partial {
		lost = 1
	}
	return lost
}

func (s *Stage) observe(v recovery.Verdict) {
	if s.verdicts != nil {
		s.verdicts.VerdictObserved(StageName, string(v.Status))
	}
}

// decode maps records to per-verse candidates. It returns the highest
// 1-based verse index seen.
func (s *Stage) decode(records []recovery.Record, size int) ([][]Candidate, int, error) {
	out := make([][]Candidate, size)
	maxSeen := 0
	for _, r := range records {
		idx, ok := verseIndex(r, size)
		if !ok {
			if size > 1 {
				return nil, 0, fmt.Errorf("record without a usable verse index in a batch of %d", size)
			}
			idx = 1
		}
		if idx > maxSeen {
			maxSeen = idx
		}
		c, err := s.candidate(r)
		if err != nil {
			s.logger.Warn("dropping detection record", "verse", idx, "error", err)
			continue
		}
		out[idx-1] = append(out[idx-1], c)
	}
	return out, maxSeen, nil
}

func verseIndex(r recovery.Record, size int) (int, bool) {
	idx, ok := r.Int("verse")
	if !ok || idx < 1 || idx > size {
		return 0, false
	}
	return idx, true
}

func (s *Stage) candidate(r recovery.Record) (Candidate, error) {
	var types figlang.TypeSet
	var unknown []string
	for _, field := range []string{"types", "type"} {
		for _, raw := range r.Strings(field) {
			if t, ok := figlang.ParseType(raw); ok {
				types = types.Add(t)
			} else {
				unknown = append(unknown, raw)
			}
		}
	}
	if len(unknown) > 0 {
		s.logger.Debug("ignoring unknown figurative types", "types", unknown)
	}

	c := Candidate{
		Hebrew:      first(r, "hebrew_text", "figurative_text_in_hebrew"),
		English:     first(r, "english_text", "figurative_text"),
		Types:       types,
		Speaker:     r.String("speaker"),
		Explanation: r.String("explanation"),
		Target:      r.String("target"),
		Vehicle:     r.String("vehicle"),
		Ground:      r.String("ground"),
		TargetTags:  r.Strings("target_tags"),
		VehicleTags: r.Strings("vehicle_tags"),
		GroundTags:  r.Strings("ground_tags"),
	}
	if conf, ok := r.Float("confidence"); ok {
		c.Confidence = min(max(conf, 0), 1)
	} else {
		c.Confidence = 0.5
	}
	if err := s.validate.Struct(c); err != nil {
		return Candidate{}, fmt.Errorf("invalid candidate: %w", err)
	}
	return c, nil
}

func first(r recovery.Record, keys ...string) string {
	for _, k := range keys {
		if v := r.String(k); v != "" {
			return v
		}
	}
	return ""
}

// BuildPrompt renders the detection prompt for a batch.
func BuildPrompt(batch []figlang.Verse, simplified bool) string {
	var b strings.Builder
	for i, v := range batch {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(v.Ref.String())
		b.WriteString("\nHebrew: ")
		b.WriteString(v.Hebrew)
		b.WriteString("\nEnglish: ")
		b.WriteString(v.English)
		b.WriteString("\n")
	}
	if simplified {
		return fmt.Sprintf(SimplifiedPrompt, b.String(), len(batch))
	}
	return fmt.Sprintf(DetectionPrompt, b.String(), len(batch))
}
