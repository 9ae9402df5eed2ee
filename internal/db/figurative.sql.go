package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/abdulachik/figlang/internal/figlang"
)

var (
	insertInstance   string
	instanceColumns  string
	confirmedClause  string
	finalCountSelect string
)

func init() {
	cols := []string{"verse_id", "figurative_text", "figurative_text_in_hebrew"}
	var finals, counts []string
	for _, t := range figlang.Types {
		cols = append(cols, "type_"+string(t))
	}
	for _, t := range figlang.Types {
		cols = append(cols, "final_"+string(t))
		finals = append(finals, fmt.Sprintf("final_%s = 'yes'", t))
		counts = append(counts, fmt.Sprintf("SUM(final_%s = 'yes')", t))
	}
	for _, t := range figlang.Types {
		cols = append(cols, "validation_decision_"+string(t))
	}
	for _, t := range figlang.Types {
		cols = append(cols, "validation_reason_"+string(t))
	}
	cols = append(cols,
		"reclassified_to", "confidence", "explanation", "speaker", "target", "vehicle", "ground",
		"posture_primary", "posture_secondary", "posture_confidence", "tagging_note", "model_tier",
	)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	insertInstance = "INSERT INTO figurative_language (" + strings.Join(cols, ", ") +
		") VALUES (" + placeholders + ") RETURNING id"
	instanceColumns = "id, " + strings.Join(cols, ", ")
	confirmedClause = "(" + strings.Join(finals, " OR ") + ")"
	finalCountSelect = "SELECT " + strings.Join(counts, ", ") + " FROM figurative_language"
}

func instanceArgs(f *FigurativeLanguage) []any {
	args := []any{f.VerseID, f.FigurativeText, f.HebrewText}
	for _, t := range figlang.Types {
		args = append(args, yesNo(f.Detected.Has(t)))
	}
	for _, t := range figlang.Types {
		args = append(args, yesNo(f.Final.Has(t)))
	}
	for _, t := range figlang.Types {
		if d, ok := f.Decisions[t]; ok {
			args = append(args, string(d.Decision))
		} else {
			args = append(args, nil)
		}
	}
	for _, t := range figlang.Types {
		if d, ok := f.Decisions[t]; ok {
			args = append(args, nullString(d.Reason))
		} else {
			args = append(args, nil)
		}
	}
	return append(args,
		nullString(f.ReclassifiedTo), f.Confidence, nullString(f.Explanation), nullString(f.Speaker),
		nullString(f.Target), nullString(f.Vehicle), nullString(f.Ground),
		nullString(f.PosturePrimary), nullString(f.PostureSecondary), f.PostureConfidence,
		nullString(f.TaggingNote), nullString(f.ModelTier),
	)
}

// InsertInstance stores one figurative-language instance and returns its id.
func (q *Queries) InsertInstance(ctx context.Context, f *FigurativeLanguage) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, insertInstance, instanceArgs(f)...).Scan(&id)
	return id, err
}

func scanInstance(sc interface{ Scan(...any) error }, extra ...any) (*FigurativeLanguage, error) {
	f := FigurativeLanguage{Decisions: make(map[figlang.Type]ValidationDecision)}
	n := len(figlang.Types)
	detected := make([]string, n)
	final := make([]string, n)
	decisions := make([]sql.NullString, n)
	reasons := make([]sql.NullString, n)
	var reclassified, explanation, speaker, target, vehicle, ground sql.NullString
	var posturePrimary, postureSecondary, taggingNote, modelTier sql.NullString

	dest := []any{&f.ID, &f.VerseID, &f.FigurativeText, &f.HebrewText}
	for i := range detected {
		dest = append(dest, &detected[i])
	}
	for i := range final {
		dest = append(dest, &final[i])
	}
	for i := range decisions {
		dest = append(dest, &decisions[i])
	}
	for i := range reasons {
		dest = append(dest, &reasons[i])
	}
	dest = append(dest,
		&reclassified, &f.Confidence, &explanation, &speaker, &target, &vehicle, &ground,
		&posturePrimary, &postureSecondary, &f.PostureConfidence, &taggingNote, &modelTier,
	)
	dest = append(dest, extra...)

	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}

	for i, t := range figlang.Types {
		if isYes(detected[i]) {
			f.Detected = f.Detected.Add(t)
		}
		if isYes(final[i]) {
			f.Final = f.Final.Add(t)
		}
		if decisions[i].Valid {
			f.Decisions[t] = ValidationDecision{
				Decision: figlang.Decision(decisions[i].String),
				Reason:   reasons[i].String,
			}
		}
	}
	f.ReclassifiedTo = reclassified.String
	f.Explanation = explanation.String
	f.Speaker = speaker.String
	f.Target = target.String
	f.Vehicle = vehicle.String
	f.Ground = ground.String
	f.PosturePrimary = posturePrimary.String
	f.PostureSecondary = postureSecondary.String
	f.TaggingNote = taggingNote.String
	f.ModelTier = modelTier.String
	return &f, nil
}

// ListInstancesByVerse returns the instances stored for a verse.
func (q *Queries) ListInstancesByVerse(ctx context.Context, verseID int64) ([]*FigurativeLanguage, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+instanceColumns+" FROM figurative_language WHERE verse_id = ? ORDER BY id", verseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*FigurativeLanguage
	for rows.Next() {
		f, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

const releaseVerseTags = `
UPDATE tags SET usage_count = MAX(usage_count - (
    SELECT COUNT(*) FROM figurative_tags ft
    JOIN figurative_language fl ON fl.id = ft.instance_id
    WHERE fl.verse_id = ? AND ft.tag_id = tags.id
), 0)
WHERE id IN (
    SELECT ft.tag_id FROM figurative_tags ft
    JOIN figurative_language fl ON fl.id = ft.instance_id
    WHERE fl.verse_id = ?
)`

// DeleteInstancesByVerse removes a verse's instances and their associations,
// releasing the tag usage they held. Tags themselves are kept.
func (q *Queries) DeleteInstancesByVerse(ctx context.Context, verseID int64) (int64, error) {
	if _, err := q.db.ExecContext(ctx, releaseVerseTags, verseID, verseID); err != nil {
		return 0, fmt.Errorf("release tag usage: %w", err)
	}
	if _, err := q.db.ExecContext(ctx,
		"DELETE FROM figurative_tags WHERE instance_id IN (SELECT id FROM figurative_language WHERE verse_id = ?)",
		verseID); err != nil {
		return 0, fmt.Errorf("delete associations: %w", err)
	}
	res, err := q.db.ExecContext(ctx, "DELETE FROM figurative_language WHERE verse_id = ?", verseID)
	if err != nil {
		return 0, fmt.Errorf("delete instances: %w", err)
	}
	return res.RowsAffected()
}

// InstanceCounts summarises stored instances.
type InstanceCounts struct {
	Total     int64
	Confirmed int64
	ByType    map[figlang.Type]int64
}

// CountInstances returns total, confirmed and per-final-type counts.
func (q *Queries) CountInstances(ctx context.Context) (InstanceCounts, error) {
	counts := InstanceCounts{ByType: make(map[figlang.Type]int64)}
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM figurative_language").Scan(&counts.Total)
	if err != nil {
		return counts, err
	}
	err = q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM figurative_language WHERE "+confirmedClause).Scan(&counts.Confirmed)
	if err != nil {
		return counts, err
	}

	byType := make([]sql.NullInt64, len(figlang.Types))
	dest := make([]any, len(byType))
	for i := range byType {
		dest[i] = &byType[i]
	}
	if err := q.db.QueryRowContext(ctx, finalCountSelect).Scan(dest...); err != nil {
		return counts, err
	}
	for i, t := range figlang.Types {
		counts.ByType[t] = byType[i].Int64
	}
	return counts, nil
}

// ListConfirmedInstancesParams pages through confirmed instances.
type ListConfirmedInstancesParams struct {
	Limit  int64
	Offset int64
}

// ListConfirmedInstances returns confirmed instances with their verse
// reference, oldest first.
func (q *Queries) ListConfirmedInstances(ctx context.Context, arg ListConfirmedInstancesParams) ([]*ConfirmedInstance, error) {
	query := "SELECT " + prefixColumns("fl.", instanceColumns) + ", v.reference, v.book, v.english_text" +
		" FROM figurative_language fl JOIN verses v ON v.id = fl.verse_id" +
		" WHERE " + prefixColumns("fl.", strings.Trim(confirmedClause, "()")) +
		" ORDER BY fl.id LIMIT ? OFFSET ?"
	rows, err := q.db.QueryContext(ctx, query, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*ConfirmedInstance
	for rows.Next() {
		var ci ConfirmedInstance
		f, err := scanInstance(rows, &ci.Reference, &ci.Book, &ci.EnglishText)
		if err != nil {
			return nil, fmt.Errorf("scan confirmed instance: %w", err)
		}
		ci.FigurativeLanguage = *f
		items = append(items, &ci)
	}
	return items, rows.Err()
}

// prefixColumns qualifies the bare column names in a comma or OR separated
// list with a table alias.
func prefixColumns(prefix, list string) string {
	var b strings.Builder
	for i, part := range strings.Split(list, ", ") {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(prefixOr(prefix, strings.TrimSpace(part)))
	}
	return b.String()
}

func prefixOr(prefix, expr string) string {
	parts := strings.Split(expr, " OR ")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, " OR ")
}
