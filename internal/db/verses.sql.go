package db

import (
	"context"
	"database/sql"
	"fmt"
)

const markVerseStarted = `
INSERT INTO verses (book, chapter, verse, reference, hebrew_text, english_text, status, run_id)
VALUES (?, ?, ?, ?, ?, ?, 'in_progress', ?)
ON CONFLICT (book, chapter, verse) DO UPDATE SET
    hebrew_text = excluded.hebrew_text,
    english_text = excluded.english_text,
    status = 'in_progress',
    run_id = excluded.run_id,
    updated_at = CURRENT_TIMESTAMP
`

// MarkVerseStartedParams identifies a verse entering the pipeline.
type MarkVerseStartedParams struct {
	Book        string
	Chapter     int64
	Verse       int64
	Reference   string
	HebrewText  string
	EnglishText string
	RunID       sql.NullString
}

// MarkVerseStarted records that a verse is being processed. A verse left in
// this state by an interrupted run is reprocessed from detection.
func (q *Queries) MarkVerseStarted(ctx context.Context, arg MarkVerseStartedParams) error {
	_, err := q.db.ExecContext(ctx, markVerseStarted,
		arg.Book, arg.Chapter, arg.Verse, arg.Reference,
		arg.HebrewText, arg.EnglishText, arg.RunID,
	)
	return err
}

const upsertVerse = `
INSERT INTO verses (
    book, chapter, verse, reference, hebrew_text, english_text, status,
    instances_detected, instances_recovered, instances_lost_to_truncation,
    truncation_occurred, both_models_failed, detection_reasoning, validation_reasoning,
    model_used, model_tier, run_id, error_message
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (book, chapter, verse) DO UPDATE SET
    reference = excluded.reference,
    hebrew_text = excluded.hebrew_text,
    english_text = excluded.english_text,
    status = excluded.status,
    instances_detected = excluded.instances_detected,
    instances_recovered = excluded.instances_recovered,
    instances_lost_to_truncation = excluded.instances_lost_to_truncation,
    truncation_occurred = excluded.truncation_occurred,
    both_models_failed = excluded.both_models_failed,
    detection_reasoning = excluded.detection_reasoning,
    validation_reasoning = excluded.validation_reasoning,
    model_used = excluded.model_used,
    model_tier = excluded.model_tier,
    run_id = excluded.run_id,
    error_message = excluded.error_message,
    updated_at = CURRENT_TIMESTAMP
RETURNING id
`

// UpsertVerseParams carries the full verse row.
type UpsertVerseParams struct {
	Book                      string
	Chapter                   int64
	Verse                     int64
	Reference                 string
	HebrewText                string
	EnglishText               string
	Status                    string
	InstancesDetected         int64
	InstancesRecovered        int64
	InstancesLostToTruncation int64
	TruncationOccurred        bool
	BothModelsFailed          bool
	DetectionReasoning        sql.NullString
	ValidationReasoning       sql.NullString
	ModelUsed                 sql.NullString
	ModelTier                 sql.NullString
	RunID                     sql.NullString
	ErrorMessage              sql.NullString
}

// UpsertVerse inserts or updates a verse by reference and returns its id.
func (q *Queries) UpsertVerse(ctx context.Context, arg UpsertVerseParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertVerse,
		arg.Book, arg.Chapter, arg.Verse, arg.Reference,
		arg.HebrewText, arg.EnglishText, arg.Status,
		arg.InstancesDetected, arg.InstancesRecovered, arg.InstancesLostToTruncation,
		yesNo(arg.TruncationOccurred), yesNo(arg.BothModelsFailed),
		arg.DetectionReasoning, arg.ValidationReasoning,
		arg.ModelUsed, arg.ModelTier, arg.RunID, arg.ErrorMessage,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const verseColumns = `id, book, chapter, verse, reference, hebrew_text, english_text, status,
    instances_detected, instances_recovered, instances_lost_to_truncation,
    truncation_occurred, both_models_failed, detection_reasoning, validation_reasoning,
    model_used, model_tier, run_id, error_message`

func scanVerse(sc interface{ Scan(...any) error }) (*Verse, error) {
	var v Verse
	err := sc.Scan(
		&v.ID, &v.Book, &v.Chapter, &v.Verse, &v.Reference, &v.HebrewText, &v.EnglishText, &v.Status,
		&v.InstancesDetected, &v.InstancesRecovered, &v.InstancesLostToTruncation,
		&v.TruncationOccurred, &v.BothModelsFailed, &v.DetectionReasoning, &v.ValidationReasoning,
		&v.ModelUsed, &v.ModelTier, &v.RunID, &v.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

const getVerse = `SELECT ` + verseColumns + ` FROM verses WHERE book = ? AND chapter = ? AND verse = ?`

// GetVerse returns a verse by reference or sql.ErrNoRows.
func (q *Queries) GetVerse(ctx context.Context, book string, chapter, verse int64) (*Verse, error) {
	return scanVerse(q.db.QueryRowContext(ctx, getVerse, book, chapter, verse))
}

const listVerseStatuses = `SELECT verse, status FROM verses WHERE book = ? AND chapter = ?`

// ListVerseStatuses maps verse numbers in a chapter to their status.
func (q *Queries) ListVerseStatuses(ctx context.Context, book string, chapter int64) (map[int64]string, error) {
	rows, err := q.db.QueryContext(ctx, listVerseStatuses, book, chapter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var verse int64
		var status string
		if err := rows.Scan(&verse, &status); err != nil {
			return nil, err
		}
		out[verse] = status
	}
	return out, rows.Err()
}

const listDualTierFailures = `SELECT ` + verseColumns + `
FROM verses
WHERE both_models_failed = 'yes'
ORDER BY book, chapter, verse
LIMIT ?`

// ListDualTierFailures returns verses that failed on both model tiers.
func (q *Queries) ListDualTierFailures(ctx context.Context, limit int64) ([]*Verse, error) {
	rows, err := q.db.QueryContext(ctx, listDualTierFailures, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Verse
	for rows.Next() {
		v, err := scanVerse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verse: %w", err)
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

// StatusCount is a verse count for one status.
type StatusCount struct {
	Status string
	Count  int64
}

const countVersesByStatus = `SELECT status, COUNT(*) FROM verses GROUP BY status ORDER BY status`

// CountVersesByStatus returns verse counts grouped by status.
func (q *Queries) CountVersesByStatus(ctx context.Context) ([]StatusCount, error) {
	rows, err := q.db.QueryContext(ctx, countVersesByStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []StatusCount
	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, err
		}
		items = append(items, sc)
	}
	return items, rows.Err()
}

const countVerses = `SELECT COUNT(*) FROM verses`

// CountVerses returns the number of verse rows.
func (q *Queries) CountVerses(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countVerses).Scan(&n)
	return n, err
}
