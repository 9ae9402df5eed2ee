// Package pipeline drives verses through detection, validation, tag
// assignment and persistence, and runs units of work on a bounded pool.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/abdulachik/figlang/internal/db"
	"github.com/abdulachik/figlang/internal/detection"
	"github.com/abdulachik/figlang/internal/escalation"
	"github.com/abdulachik/figlang/internal/figlang"
	"github.com/abdulachik/figlang/internal/llm"
	"github.com/abdulachik/figlang/internal/notify"
	"github.com/abdulachik/figlang/internal/recovery"
	"github.com/abdulachik/figlang/internal/tagging"
	"github.com/abdulachik/figlang/internal/validation"
)

// OutcomeObserver receives the terminal status of every verse, e.g. for
// metrics.
type OutcomeObserver interface {
	VerseFinished(status string, bothTiersFailed, truncated bool)
}

// Config configures a Pipeline.
type Config struct {
	Store      *db.Store
	Detection  *detection.Stage
	Validation *validation.Stage
	Tagger     *tagging.Assigner
	Notifier   notify.Notifier
	Outcomes   OutcomeObserver
	Health     *Health
	Logger     *slog.Logger
}

// Pipeline processes units of verses.
type Pipeline struct {
	store      *db.Store
	detection  *detection.Stage
	validation *validation.Stage
	tagger     *tagging.Assigner
	notifier   notify.Notifier
	outcomes   OutcomeObserver
	health     *Health
	logger     *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tagger := cfg.Tagger
	if tagger == nil {
		tagger = tagging.New(logger)
	}
	health := cfg.Health
	if health == nil {
		health = NewHealth()
	}
	return &Pipeline{
		store:      cfg.Store,
		detection:  cfg.Detection,
		validation: cfg.Validation,
		tagger:     tagger,
		notifier:   cfg.Notifier,
		outcomes:   cfg.Outcomes,
		health:     health,
		logger:     logger,
	}
}

// VerseOutcome is what happened to one verse of a unit.
type VerseOutcome struct {
	Ref             figlang.Ref
	Status          string
	Detected        int
	Confirmed       int
	Lost            int
	Repaired        int
	BothTiersFailed bool
	// Err is set when the verse's annotations were rejected by the
	// integrity check and only its text and status were stored.
	Err error
}

// UnitResult summarises a processed unit.
type UnitResult struct {
	Verses   []VerseOutcome
	Attempts int
	Cost     float64
}

// UnitID names a unit after its verse range, e.g. "Psalms 23:1-5".
func UnitID(verses []figlang.Verse) string {
	first, last := verses[0].Ref, verses[len(verses)-1].Ref
	if len(verses) == 1 || first == last {
		return first.String()
	}
	return fmt.Sprintf("%s-%d", first, last.Verse)
}

// ProcessUnit runs detection over the unit, validation over each verse with
// candidates, assigns tags and stores every verse. Dual-tier failures are
// stored and reported, not returned. An error is returned only when the
// context is cancelled or the database fails; verses not yet stored are then
// left in progress and picked up again on resume.
func (p *Pipeline) ProcessUnit(ctx context.Context, runID string, verses []figlang.Verse) (*UnitResult, error) {
	res := &UnitResult{}
	if len(verses) == 0 {
		return res, nil
	}

	for _, v := range verses {
		err := p.store.MarkVerseStarted(ctx, db.MarkVerseStartedParams{
			Book:        v.Ref.Book,
			Chapter:     int64(v.Ref.Chapter),
			Verse:       int64(v.Ref.Verse),
			Reference:   v.Ref.String(),
			HebrewText:  v.Hebrew,
			EnglishText: v.English,
			RunID:       sql.NullString{String: runID, Valid: runID != ""},
		})
		if err != nil {
			p.health.SetUnhealthy(ComponentDatabase, err)
			return nil, fmt.Errorf("mark %s started: %w", v.Ref, err)
		}
	}

	unitID := UnitID(verses)
	det, err := p.detection.Detect(ctx, runID, unitID, verses)
	if err != nil {
		return nil, fmt.Errorf("detect %s: %w", unitID, err)
	}
	attempts := append([]escalation.AttemptRecord(nil), det.Records...)
	defer func() {
		res.Attempts = len(attempts)
		for _, a := range attempts {
			res.Cost += a.EstimatedCost
		}
		p.saveAttempts(ctx, attempts)
	}()

	failed := make(map[int]bool, len(det.Failed))
	for _, i := range det.Failed {
		failed[i] = true
	}

	for i, verse := range verses {
		rec := &db.VerseRecord{
			Ref:         verse.Ref,
			HebrewText:  verse.Hebrew,
			EnglishText: verse.English,
			Status:      db.VerseCompleted,
			RunID:       runID,
		}
		var inputs []*tagging.Input

		if failed[i] {
			rec.Status = db.VerseFailed
			rec.BothTiersFailed, rec.ErrorMessage = tierFailure(detection.StageName, det.Escalated, det.Records)
		} else {
			item := det.Results[i]
			vr := item.Value
			rec.Detected = len(vr.Candidates)
			rec.LostToTruncation = vr.LostToTruncation
			rec.TruncationOccurred = vr.Truncated
			rec.DetectionReasoning = vr.Reasoning
			rec.ModelUsed = item.Model
			rec.ModelTier = item.Tier
			if vr.Strategy != "" && vr.Strategy != string(recovery.StrategyDirect) {
				rec.Recovered = len(vr.Candidates)
			}

			if len(vr.Candidates) > 0 {
				val, err := p.validation.Validate(ctx, runID, verse, vr.Candidates)
				if err != nil {
					return res, fmt.Errorf("validate %s: %w", verse.Ref, err)
				}
				attempts = append(attempts, val.Records...)
				inputs = p.annotate(rec, item.Tier, vr.Candidates, val)
			}
		}

		out, err := p.save(ctx, rec, inputs)
		if err != nil {
			return res, err
		}
		res.Verses = append(res.Verses, out)
	}
	return res, nil
}

// annotate turns validation verdicts into instance records, assigning tags
// to confirmed instances. It returns the tagging input of each instance,
// nil for those without tags.
func (p *Pipeline) annotate(rec *db.VerseRecord, detTier string, cands []detection.Candidate, val *escalation.Outcome[validation.Verdict]) []*tagging.Input {
	inputs := make([]*tagging.Input, len(cands))
	var reasoning []string

	for j, c := range cands {
		f := db.FigurativeLanguage{
			FigurativeText: c.English,
			HebrewText:     c.Hebrew,
			Detected:       c.Types,
			Confidence:     c.Confidence,
			Explanation:    c.Explanation,
			Speaker:        c.Speaker,
			Target:         c.Target,
			Vehicle:        c.Vehicle,
			Ground:         c.Ground,
			ModelTier:      detTier,
		}

		item, ok := val.Results[j]
		if !ok {
			rec.Status = db.VerseFailed
			rec.BothTiersFailed, rec.ErrorMessage = tierFailure(validation.StageName, val.Escalated, val.Records)
			f.TaggingNote = "not validated"
			rec.Instances = append(rec.Instances, db.InstanceRecord{Instance: f})
			continue
		}

		v := item.Value
		if item.Tier == llm.TierEscalation {
			f.ModelTier = item.Tier
			rec.ModelTier = item.Tier
			rec.ModelUsed = item.Model
		}
		if v.Reasoning != "" && !slices.Contains(reasoning, v.Reasoning) {
			reasoning = append(reasoning, v.Reasoning)
		}
		f.Final = v.Final
		f.Decisions = make(map[figlang.Type]db.ValidationDecision, len(v.Decisions))
		for _, d := range v.Decisions {
			f.Decisions[d.Type] = db.ValidationDecision{Decision: d.Decision, Reason: d.Reason}
		}
		if to := v.ReclassifiedTo(); len(to) > 0 {
			f.ReclassifiedTo = figlang.NewTypeSet(to...).String()
		}

		inst := db.InstanceRecord{Instance: f}
		if v.Confirmed() {
			in := tagging.Input{
				Target:            c.Target,
				Vehicle:           c.Vehicle,
				Ground:            c.Ground,
				TargetTags:        c.TargetTags,
				VehicleTags:       c.VehicleTags,
				GroundTags:        c.GroundTags,
				Confidence:        c.Confidence,
				PosturePrimary:    v.Posture.Primary,
				PostureSecondary:  v.Posture.Secondary,
				PostureConfidence: v.Posture.Confidence,
			}
			inputs[j] = &in
			applyTags(&inst, p.tagger.AssignWithRepair(in))
		} else if posture, ok := figlang.ParsePosture(v.Posture.Primary); ok {
			inst.Instance.PosturePrimary = posture
		}
		rec.Instances = append(rec.Instances, inst)
	}
	rec.ValidationReasoning = strings.Join(reasoning, "\n\n")

	// A verse whose validation did not finish stores no confirmed instances.
	// Decisions already made are kept for the retry.
	if rec.Status == db.VerseFailed {
		for j := range rec.Instances {
			inst := &rec.Instances[j]
			if !inst.Instance.Confirmed() {
				continue
			}
			inst.Instance.Final = 0
			inst.Instance.TaggingNote = "withheld: validation of the verse did not finish"
			inst.Tags = nil
			inputs[j] = nil
		}
	}

	// Keep inputs aligned with rec.Instances.
	return inputs
}

func applyTags(inst *db.InstanceRecord, asg tagging.Assignment) {
	inst.Instance.PosturePrimary = asg.Posture
	inst.Instance.PostureSecondary = asg.PostureSecondary
	inst.Instance.PostureConfidence = sql.NullFloat64{Float64: asg.PostureConfidence, Valid: true}
	inst.Instance.TaggingNote = asg.RepairNote
	inst.Tags = inst.Tags[:0]
	for _, t := range asg.Tags {
		inst.Tags = append(inst.Tags, db.TagLink{
			Name:           t.Name,
			Dimension:      t.Dimension,
			CategoryHint:   t.CategoryHint,
			Confidence:     t.Confidence,
			Primary:        t.Primary,
			SpeakerPosture: t.SpeakerPosture,
		})
	}
}

// repair re-runs tag assignment for instances that fail the integrity
// check, discarding the model's posture so the local fallback applies. It
// never goes back to a model.
func (p *Pipeline) repair(rec *db.VerseRecord, inputs []*tagging.Input) error {
	for range len(rec.Instances) + 1 {
		err := db.CheckIntegrity(rec)
		var ie *db.IntegrityError
		if err == nil || !errors.As(err, &ie) || ie.Instance < 0 || ie.Instance >= len(inputs) || inputs[ie.Instance] == nil {
			return err
		}
		in := *inputs[ie.Instance]
		in.PosturePrimary, in.PostureSecondary = "", ""
		inputs[ie.Instance] = nil
		p.logger.Warn("retrying tag assignment", "ref", rec.Ref.String(), "instance", ie.Instance, "reason", ie.Reason)
		applyTags(&rec.Instances[ie.Instance], p.tagger.AssignWithRepair(in))
	}
	return db.CheckIntegrity(rec)
}

func (p *Pipeline) save(ctx context.Context, rec *db.VerseRecord, inputs []*tagging.Input) (VerseOutcome, error) {
	out := VerseOutcome{Ref: rec.Ref}

	if err := p.repair(rec, inputs); err != nil {
		// The annotations cannot be stored; keep the verse text and flag it.
		p.logger.Error("integrity violation", "ref", rec.Ref.String(), "error", err)
		p.notify(ctx, notify.Notification{
			Kind:    notify.KindIntegrity,
			Subject: "annotations rejected by integrity check",
			Body:    err.Error(),
			Ref:     rec.Ref.String(),
			RunID:   rec.RunID,
		})
		rec.Status = db.VerseFailed
		rec.ErrorMessage = err.Error()
		rec.Instances = nil
		out.Err = err
	}

	if _, err := p.store.SaveVerse(ctx, rec); err != nil {
		p.health.SetUnhealthy(ComponentDatabase, err)
		return out, err
	}
	p.health.SetHealthy(ComponentDatabase, "saved "+rec.Ref.String())

	out.Status = rec.Status
	out.Detected = rec.Detected
	out.Lost = rec.LostToTruncation
	out.BothTiersFailed = rec.BothTiersFailed
	for _, inst := range rec.Instances {
		if inst.Instance.Confirmed() {
			out.Confirmed++
		}
		if inst.Instance.TaggingNote != "" && len(inst.Tags) > 0 {
			out.Repaired++
		}
	}

	if rec.BothTiersFailed {
		p.logger.Error("verse failed on both tiers", "ref", rec.Ref.String(), "error", rec.ErrorMessage)
		p.notify(ctx, notify.Notification{
			Kind:    notify.KindBothTiersFailed,
			Subject: "verse failed on both model tiers",
			Body:    rec.ErrorMessage,
			Ref:     rec.Ref.String(),
			RunID:   rec.RunID,
		})
	} else {
		p.logger.Info("verse stored",
			"ref", rec.Ref.String(),
			"status", rec.Status,
			"detected", rec.Detected,
			"confirmed", out.Confirmed,
			"tier", rec.ModelTier,
		)
	}
	if p.outcomes != nil {
		p.outcomes.VerseFinished(rec.Status, rec.BothTiersFailed, rec.TruncationOccurred)
	}
	return out, nil
}

func (p *Pipeline) saveAttempts(ctx context.Context, attempts []escalation.AttemptRecord) {
	params := make([]db.InsertAttemptParams, len(attempts))
	for i, a := range attempts {
		params[i] = attemptParams(a)
	}
	// Telemetry is written even when the unit was cancelled.
	if err := p.store.SaveAttempts(context.WithoutCancel(ctx), params); err != nil {
		p.health.SetUnhealthy(ComponentDatabase, err)
		p.logger.Warn("failed to save attempts", "count", len(params), "error", err)
	}
}

func attemptParams(a escalation.AttemptRecord) db.InsertAttemptParams {
	return db.InsertAttemptParams{
		ID:            a.ID,
		RunID:         sql.NullString{String: a.RunID, Valid: a.RunID != ""},
		Stage:         a.Stage,
		Unit:          a.Unit,
		AttemptNumber: int64(a.Number),
		State:         string(a.State),
		Tier:          a.Tier,
		Model:         sql.NullString{String: a.Model, Valid: a.Model != ""},
		Strategy:      sql.NullString{String: a.Strategy, Valid: a.Strategy != ""},
		Items:         int64(a.Items),
		Resolved:      int64(a.Resolved),
		Success:       a.Success,
		DurationMs:    a.Elapsed.Milliseconds(),
		InputTokens:   a.InputTokens,
		OutputTokens:  a.OutputTokens,
		EstimatedCost: a.EstimatedCost,
		Error:         sql.NullString{String: a.Error, Valid: a.Error != ""},
	}
}

func (p *Pipeline) notify(ctx context.Context, n notify.Notification) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Send(context.WithoutCancel(ctx), n); err != nil {
		p.logger.Warn("failed to send notification", "kind", n.Kind, "error", err)
	}
}

// tierFailure describes a unit that ended without resolving an item. Only a
// unit that actually reached the escalation tier counts as failing on both.
func tierFailure(stage string, escalated bool, records []escalation.AttemptRecord) (bool, string) {
	if !escalated {
		return false, stage + " failed on the primary tier, no escalation tier configured: " + lastError(records)
	}
	return true, stage + " failed on both tiers: " + lastError(records)
}

func lastError(records []escalation.AttemptRecord) string {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Error != "" {
			return records[i].Error
		}
	}
	return "no attempt succeeded"
}
