// Package validation runs the second model pass: confirming, rejecting or
// reclassifying each type flagged by detection, and classifying the
// speaker's posture.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/abdulachik/figlang/internal/detection"
	"github.com/abdulachik/figlang/internal/escalation"
	"github.com/abdulachik/figlang/internal/figlang"
	"github.com/abdulachik/figlang/internal/llm"
	"github.com/abdulachik/figlang/internal/recovery"
)

// StageName labels validation attempts in telemetry.
const StageName = "validation"

// TypeDecision is the decision on one originally flagged type.
type TypeDecision struct {
	Type        figlang.Type
	Decision    figlang.Decision
	Reason      string
	Replacement figlang.Type
}

// Posture is the speaker-posture classification as returned by the model.
// Values are not yet normalised to the closed vocabulary.
type Posture struct {
	Primary    string
	Secondary  string
	Confidence float64
}

// Verdict is the validation outcome for one candidate.
type Verdict struct {
	Decisions []TypeDecision
	Final     figlang.TypeSet
	Posture   Posture
	Reasoning string
	Strategy  string
}

// Confirmed reports whether any type survived validation.
func (v Verdict) Confirmed() bool {
	return !v.Final.Empty()
}

// ReclassifiedTo returns the replacement types, in decision order.
func (v Verdict) ReclassifiedTo() []figlang.Type {
	var out []figlang.Type
	for _, d := range v.Decisions {
		if d.Decision == figlang.Reclassified {
			out = append(out, d.Replacement)
		}
	}
	return out
}

// FinalTypes applies the decisions to the detected types. A type is final
// when it was judged valid or named as a replacement, unless it was itself
// reclassified away.
func FinalTypes(decisions []TypeDecision) figlang.TypeSet {
	var valid, targets, from figlang.TypeSet
	for _, d := range decisions {
		switch d.Decision {
		case figlang.Valid:
			valid = valid.Add(d.Type)
		case figlang.Reclassified:
			from = from.Add(d.Type)
			targets = targets.Add(d.Replacement)
		}
	}
	return (valid | targets) &^ from
}

// Schema is the record layout used for field-by-field recovery.
var Schema = recovery.Schema{
	Anchor: "decision",
	Fields: []recovery.Field{
		{Name: "instance", Kind: recovery.FieldNumber},
		{Name: "type", Kind: recovery.FieldString},
		{Name: "decision", Kind: recovery.FieldString},
		{Name: "reclassified_type", Kind: recovery.FieldString},
		{Name: "reason", Kind: recovery.FieldString},
		{Name: "posture_primary", Kind: recovery.FieldString},
		{Name: "posture_secondary", Kind: recovery.FieldString},
		{Name: "posture_confidence", Kind: recovery.FieldNumber},
	},
}

// Config configures a Stage.
type Config struct {
	Controller escalation.Config
	Recovery   recovery.Observer
	Verdicts   detection.VerdictObserver
	Logger     *slog.Logger
}

// Stage runs validation through the escalation controller.
type Stage struct {
	controller *escalation.Controller[Verdict]
	engine     *recovery.Engine
	detector   recovery.Detector
	verdicts   detection.VerdictObserver
	logger     *slog.Logger
}

// New creates a validation stage.
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
		controller: escalation.New[Verdict](ctrl),
		engine:     recovery.NewEngine(recovery.Config{Schema: Schema, Observer: cfg.Recovery, Logger: logger}),
		// Per-record reasons routinely name the type being rejected, so
		// only the surrounding prose is mined.
		detector: recovery.Detector{TypeFields: []string{"type", "reclassified_type"}},
		verdicts: cfg.Verdicts,
		logger:   logger,
	}
}

// Validate judges every candidate of a verse. Outcome items are indices
// into cands.
func (s *Stage) Validate(ctx context.Context, runID string, verse figlang.Verse, cands []detection.Candidate) (*escalation.Outcome[Verdict], error) {
	items := make([]int, len(cands))
	for i := range cands {
		items[i] = i
	}
	unit := escalation.Unit{RunID: runID, ID: verse.Ref.String(), Stage: StageName, Items: items}
	return s.controller.Run(ctx, unit, func(ctx context.Context, a escalation.Attempt) (escalation.Report[Verdict], error) {
		return s.attempt(ctx, a, verse, cands)
	})
}

func (s *Stage) attempt(ctx context.Context, a escalation.Attempt, verse figlang.Verse, cands []detection.Candidate) (escalation.Report[Verdict], error) {
	var rep escalation.Report[Verdict]

	batch := make([]detection.Candidate, len(a.Items))
	for i, item := range a.Items {
		batch[i] = cands[item]
	}
	resp, err := a.Tier.Client.Complete(ctx, llm.Request{
		System:      SystemPrompt,
		Prompt:      BuildPrompt(verse, batch, a.Simplified),
		MaxTokens:   a.Tier.MaxTokens,
		Temperature: llm.Float(0),
	})
	if err != nil {
		return rep, fmt.Errorf("complete validation prompt: %w", err)
	}
	rep.Model = resp.Model
	rep.InputTokens = resp.InputTokens
	rep.OutputTokens = resp.OutputTokens

	verdict := s.detector.Classify(resp.Text)
	res, err := s.engine.Recover(resp.Text)
	if err != nil {
		s.observe(verdict)
		return rep, fmt.Errorf("recover validation response (%s): %w", verdict.Status, err)
	}
	rep.Strategy = string(res.Strategy)
	if verdict.Status == recovery.StatusCorrupted || verdict.Status == recovery.StatusUnknown {
		verdict = s.detector.Reconcile(verdict, resp.Text, res)
	}
	verdict = recovery.CutShort(verdict, resp.Truncated, res)
	s.observe(verdict)
	if verdict.Status == recovery.StatusTruncated && !res.Partial {
		return rep, fmt.Errorf("%w: %s", detection.ErrTruncated, verdict.Reason)
	}

	partial := s.collect(res.Records, batch)
	rep.Resolved = make(map[int]Verdict, len(batch))
	for local, item := range a.Items {
		p := partial[local]
		if p == nil || !p.complete(batch[local].Types) {
			continue
		}
		v := p.verdict(batch[local].Types)
		v.Reasoning = res.Reasoning
		v.Strategy = string(res.Strategy)
		rep.Resolved[item] = v
	}
	if len(rep.Resolved) < len(a.Items) {
		return rep, fmt.Errorf("decisions missing for %d of %d instances", len(a.Items)-len(rep.Resolved), len(a.Items))
	}
	return rep, nil
}

func (s *Stage) observe(v recovery.Verdict) {
	if s.verdicts != nil {
		s.verdicts.VerdictObserved(StageName, string(v.Status))
	}
}

// pending accumulates decisions for one candidate across records.
type pending struct {
	decisions map[figlang.Type]TypeDecision
	posture   Posture
}

func (p *pending) complete(flagged figlang.TypeSet) bool {
	for _, t := range flagged.Types() {
		if _, ok := p.decisions[t]; !ok {
			return false
		}
	}
	return true
}

func (p *pending) verdict(flagged figlang.TypeSet) Verdict {
	v := Verdict{Posture: p.posture}
	for _, t := range flagged.Types() {
		v.Decisions = append(v.Decisions, p.decisions[t])
	}
	v.Final = FinalTypes(v.Decisions)
	return v
}

// collect groups decision records by candidate. Records for unknown
// instances or for types that were not flagged are ignored.
func (s *Stage) collect(records []recovery.Record, batch []detection.Candidate) []*pending {
	out := make([]*pending, len(batch))
	for _, r := range records {
		idx, ok := r.Int("instance")
		if !ok && len(batch) == 1 {
			idx, ok = 1, true
		}
		if !ok || idx < 1 || idx > len(batch) {
			s.logger.Warn("dropping validation record without a usable instance number", "instance", r.String("instance"))
			continue
		}
		flagged := batch[idx-1].Types

		t, ok := figlang.ParseType(r.String("type"))
		if !ok || !flagged.Has(t) {
			// A single-type candidate may omit the type it is judging.
			if types := flagged.Types(); r.String("type") == "" && len(types) == 1 {
				t = types[0]
			} else {
				s.logger.Debug("ignoring decision on unflagged type", "instance", idx, "type", r.String("type"))
				continue
			}
		}
		d, ok := decide(t, r)
		if !ok {
			continue
		}

		p := out[idx-1]
		if p == nil {
			p = &pending{decisions: make(map[figlang.Type]TypeDecision)}
			out[idx-1] = p
		}
		p.decisions[t] = d
		if p.posture.Primary == "" {
			p.posture = posture(r)
		}
	}
	return out
}

// decide builds the decision in a record. A reclassification without a
// usable replacement type, or onto the same type, is recorded as what it
// effectively is.
func decide(t figlang.Type, r recovery.Record) (TypeDecision, bool) {
	dec, ok := figlang.ParseDecision(r.String("decision"))
	if !ok {
		return TypeDecision{}, false
	}
	d := TypeDecision{Type: t, Decision: dec, Reason: r.String("reason")}
	if dec != figlang.Reclassified {
		return d, true
	}
	repl, ok := figlang.ParseType(r.String("reclassified_type"))
	switch {
	case !ok:
		d.Decision = figlang.Invalid
		d.Reason = strings.TrimSpace(d.Reason + " (reclassified without a valid replacement type)")
	case repl == t:
		d.Decision = figlang.Valid
	default:
		d.Replacement = repl
	}
	return d, true
}

func posture(r recovery.Record) Posture {
	p := Posture{
		Primary:   r.String("posture_primary"),
		Secondary: r.String("posture_secondary"),
	}
	if p.Primary == "" {
		p.Primary = r.String("posture")
	}
	if conf, ok := r.Float("posture_confidence"); ok {
		p.Confidence = min(max(conf, 0), 1)
	}
	return p
}

// BuildPrompt renders the validation prompt for a verse and candidates.
func BuildPrompt(verse figlang.Verse, batch []detection.Candidate, simplified bool) string {
	var b strings.Builder
	for i, c := range batch {
		fmt.Fprintf(&b, "%d. English: %q\n", i+1, c.English)
		if c.Hebrew != "" {
			fmt.Fprintf(&b, "   Hebrew: %s\n", c.Hebrew)
		}
		fmt.Fprintf(&b, "   Flagged types: %s\n", strings.ReplaceAll(c.Types.String(), ",", ", "))
		if c.Explanation != "" {
			fmt.Fprintf(&b, "   Annotator's explanation: %s\n", c.Explanation)
		}
	}
	tmpl := ValidationPrompt
	if simplified {
		tmpl = SimplifiedPrompt
	}
	return fmt.Sprintf(tmpl, verse.Ref, verse.Hebrew, verse.English, b.String(), len(batch))
}
