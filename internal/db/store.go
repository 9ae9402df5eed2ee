package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/abdulachik/figlang/internal/figlang"
)

// ErrIntegrity marks a verse record rejected before commit.
var ErrIntegrity = errors.New("integrity violation")

// IntegrityError describes which instance broke a write-time invariant.
type IntegrityError struct {
	Ref      figlang.Ref
	Instance int
	Reason   string
}

func (e *IntegrityError) Error() string {
	if e.Instance < 0 {
		return fmt.Sprintf("%s: %s", e.Ref, e.Reason)
	}
	return fmt.Sprintf("%s instance %d: %s", e.Ref, e.Instance, e.Reason)
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// TagLink is a tag to attach to an instance, created on first use.
type TagLink struct {
	Name           string
	Dimension      figlang.Dimension
	CategoryHint   string
	Confidence     float64
	Primary        bool
	SpeakerPosture bool
}

// InstanceRecord is an instance with the tags to attach to it.
type InstanceRecord struct {
	Instance FigurativeLanguage
	Tags     []TagLink
}

// VerseRecord is everything persisted for one verse in a single transaction.
type VerseRecord struct {
	Ref                 figlang.Ref
	HebrewText          string
	EnglishText         string
	Status              string
	Detected            int
	Recovered           int
	LostToTruncation    int
	TruncationOccurred  bool
	BothTiersFailed     bool
	DetectionReasoning  string
	ValidationReasoning string
	ModelUsed           string
	ModelTier           string
	RunID               string
	ErrorMessage        string
	Instances           []InstanceRecord
}

// CheckIntegrity validates a verse record before it is written.
func CheckIntegrity(rec *VerseRecord) error {
	fail := func(i int, format string, args ...any) error {
		return &IntegrityError{Ref: rec.Ref, Instance: i, Reason: fmt.Sprintf(format, args...)}
	}

	if rec.Status != VerseCompleted && rec.Status != VerseFailed {
		return fail(-1, "status %q is not terminal", rec.Status)
	}

	for i, inst := range rec.Instances {
		f := inst.Instance
		if f.Confidence < 0 || f.Confidence > 1 {
			return fail(i, "confidence %v out of range", f.Confidence)
		}
		if f.PostureConfidence.Valid && (f.PostureConfidence.Float64 < 0 || f.PostureConfidence.Float64 > 1) {
			return fail(i, "posture confidence %v out of range", f.PostureConfidence.Float64)
		}

		perDimension := make(map[figlang.Dimension]int)
		posture, primaries := 0, 0
		for _, tag := range inst.Tags {
			if tag.Name == "" {
				return fail(i, "empty tag name")
			}
			if !tag.Dimension.Valid() {
				return fail(i, "tag %q has unknown dimension %q", tag.Name, tag.Dimension)
			}
			if tag.Confidence < 0 || tag.Confidence > 1 {
				return fail(i, "tag %q confidence %v out of range", tag.Name, tag.Confidence)
			}
			if tag.SpeakerPosture {
				if tag.Dimension != figlang.Ground {
					return fail(i, "speaker posture tag %q is in dimension %q", tag.Name, tag.Dimension)
				}
				if !figlang.IsPosture(tag.Name) {
					return fail(i, "speaker posture %q is not in the posture vocabulary", tag.Name)
				}
				posture++
				if tag.Primary {
					primaries++
				}
			}
			perDimension[tag.Dimension]++
		}

		if primaries > 1 {
			return fail(i, "%d primary speaker posture tags", primaries)
		}
		if !f.Confirmed() {
			continue
		}
		for _, d := range figlang.Dimensions {
			if perDimension[d] == 0 {
				return fail(i, "confirmed instance has no %s tag", d)
			}
		}
		if posture == 0 {
			return fail(i, "confirmed instance has no speaker posture tag")
		}
		if primaries == 0 {
			return fail(i, "confirmed instance has no primary speaker posture tag")
		}
	}
	return nil
}

// SaveVerse writes a verse row, its instances and their tag associations in
// one transaction. Instances from an earlier attempt at the same verse are
// replaced. Records failing CheckIntegrity are rejected before the
// transaction starts.
func (s *Store) SaveVerse(ctx context.Context, rec *VerseRecord) (int64, error) {
	if err := CheckIntegrity(rec); err != nil {
		return 0, err
	}

	var verseID int64
	err := s.InTx(ctx, func(q *Queries) error {
		id, err := q.UpsertVerse(ctx, UpsertVerseParams{
			Book:                      rec.Ref.Book,
			Chapter:                   int64(rec.Ref.Chapter),
			Verse:                     int64(rec.Ref.Verse),
			Reference:                 rec.Ref.String(),
			HebrewText:                rec.HebrewText,
			EnglishText:               rec.EnglishText,
			Status:                    rec.Status,
			InstancesDetected:         int64(rec.Detected),
			InstancesRecovered:        int64(rec.Recovered),
			InstancesLostToTruncation: int64(rec.LostToTruncation),
			TruncationOccurred:        rec.TruncationOccurred,
			BothModelsFailed:          rec.BothTiersFailed,
			DetectionReasoning:        nullString(rec.DetectionReasoning),
			ValidationReasoning:       nullString(rec.ValidationReasoning),
			ModelUsed:                 nullString(rec.ModelUsed),
			ModelTier:                 nullString(rec.ModelTier),
			RunID:                     nullString(rec.RunID),
			ErrorMessage:              nullString(rec.ErrorMessage),
		})
		if err != nil {
			return fmt.Errorf("upsert verse: %w", err)
		}
		verseID = id

		if _, err := q.DeleteInstancesByVerse(ctx, id); err != nil {
			return fmt.Errorf("clear previous instances: %w", err)
		}

		for i := range rec.Instances {
			if err := saveInstance(ctx, q, id, &rec.Instances[i]); err != nil {
				return fmt.Errorf("save instance %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("save verse %s: %w", rec.Ref, err)
	}
	return verseID, nil
}

func saveInstance(ctx context.Context, q *Queries, verseID int64, inst *InstanceRecord) error {
	f := inst.Instance
	f.VerseID = verseID
	instanceID, err := q.InsertInstance(ctx, &f)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}

	for _, tag := range inst.Tags {
		tagID, err := q.UpsertTag(ctx, UpsertTagParams{
			TagName:      tag.Name,
			Dimension:    string(tag.Dimension),
			CategoryHint: nullString(tag.CategoryHint),
		})
		if err != nil {
			return fmt.Errorf("upsert tag %q: %w", tag.Name, err)
		}

		inserted, err := q.InsertFigurativeTag(ctx, InsertFigurativeTagParams{
			InstanceID:     instanceID,
			TagID:          tagID,
			Dimension:      string(tag.Dimension),
			Confidence:     tag.Confidence,
			IsPrimary:      tag.Primary,
			SpeakerPosture: tag.SpeakerPosture,
		})
		if err != nil {
			return fmt.Errorf("link tag %q: %w", tag.Name, err)
		}
		if inserted {
			if err := q.IncrementTagUsage(ctx, tagID); err != nil {
				return fmt.Errorf("increment usage for %q: %w", tag.Name, err)
			}
		}
	}
	return nil
}

// SaveAttempts stores attempt telemetry in one transaction.
func (s *Store) SaveAttempts(ctx context.Context, attempts []InsertAttemptParams) error {
	if len(attempts) == 0 {
		return nil
	}
	return s.InTx(ctx, func(q *Queries) error {
		for _, a := range attempts {
			if err := q.InsertAttempt(ctx, a); err != nil {
				return fmt.Errorf("insert attempt %s: %w", a.ID, err)
			}
		}
		return nil
	})
}

// TerminalRefs returns the verse numbers of a chapter that reached a
// terminal status. Failed verses are included unless includeFailed is false.
func (s *Store) TerminalRefs(ctx context.Context, book string, chapter int, includeFailed bool) (map[int]bool, error) {
	statuses, err := s.ListVerseStatuses(ctx, book, int64(chapter))
	if err != nil {
		return nil, fmt.Errorf("list verse statuses: %w", err)
	}
	done := make(map[int]bool, len(statuses))
	for verse, status := range statuses {
		switch status {
		case VerseCompleted:
			done[int(verse)] = true
		case VerseFailed:
			if includeFailed {
				done[int(verse)] = true
			}
		}
	}
	return done, nil
}
