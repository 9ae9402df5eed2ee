package db

import (
	"context"
	"database/sql"
)

const upsertTag = `
INSERT INTO tags (tag_name, dimension, category_hint, usage_count)
VALUES (?, ?, ?, 0)
ON CONFLICT (tag_name, dimension) DO UPDATE SET
    category_hint = COALESCE(tags.category_hint, excluded.category_hint)
RETURNING id
`

// UpsertTagParams identifies a tag by name and dimension.
type UpsertTagParams struct {
	TagName      string
	Dimension    string
	CategoryHint sql.NullString
}

// UpsertTag looks up a tag by (name, dimension), creating it with a zero
// usage count when absent. It is a single statement so concurrent first use
// of a name yields one row.
func (q *Queries) UpsertTag(ctx context.Context, arg UpsertTagParams) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, upsertTag, arg.TagName, arg.Dimension, arg.CategoryHint).Scan(&id)
	return id, err
}

const incrementTagUsage = `UPDATE tags SET usage_count = usage_count + 1 WHERE id = ?`

// IncrementTagUsage bumps a tag's usage counter.
func (q *Queries) IncrementTagUsage(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, incrementTagUsage, id)
	return err
}

const insertFigurativeTag = `
INSERT INTO figurative_tags (instance_id, tag_id, dimension, confidence, is_primary, speaker_posture)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (instance_id, tag_id, dimension) DO NOTHING
`

// InsertFigurativeTagParams links an instance to a tag.
type InsertFigurativeTagParams struct {
	InstanceID     int64
	TagID          int64
	Dimension      string
	Confidence     float64
	IsPrimary      bool
	SpeakerPosture bool
}

// InsertFigurativeTag creates an association and reports whether a new row
// was written.
func (q *Queries) InsertFigurativeTag(ctx context.Context, arg InsertFigurativeTagParams) (bool, error) {
	res, err := q.db.ExecContext(ctx, insertFigurativeTag,
		arg.InstanceID, arg.TagID, arg.Dimension, arg.Confidence,
		yesNo(arg.IsPrimary), yesNo(arg.SpeakerPosture),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const tagColumns = `id, tag_name, dimension, category_hint, usage_count, is_active`

func scanTag(sc interface{ Scan(...any) error }) (*Tag, error) {
	var t Tag
	if err := sc.Scan(&t.ID, &t.TagName, &t.Dimension, &t.CategoryHint, &t.UsageCount, &t.IsActive); err != nil {
		return nil, err
	}
	return &t, nil
}

const getTag = `SELECT ` + tagColumns + ` FROM tags WHERE tag_name = ? AND dimension = ?`

// GetTag returns a tag by name and dimension or sql.ErrNoRows.
func (q *Queries) GetTag(ctx context.Context, name, dimension string) (*Tag, error) {
	return scanTag(q.db.QueryRowContext(ctx, getTag, name, dimension))
}

const listTags = `SELECT ` + tagColumns + `
FROM tags
WHERE (? = '' OR dimension = ?)
  AND (? = 0 OR is_active = 'yes')
ORDER BY usage_count DESC, tag_name
LIMIT ?`

// ListTagsParams filters the tag vocabulary.
type ListTagsParams struct {
	Dimension  string
	ActiveOnly bool
	Limit      int64
}

// ListTags returns tags ordered by usage.
func (q *Queries) ListTags(ctx context.Context, arg ListTagsParams) ([]*Tag, error) {
	activeOnly := 0
	if arg.ActiveOnly {
		activeOnly = 1
	}
	rows, err := q.db.QueryContext(ctx, listTags, arg.Dimension, arg.Dimension, activeOnly, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const setTagActive = `UPDATE tags SET is_active = ? WHERE tag_name = ? AND dimension = ?`

// SetTagActive retires or reactivates a tag. Tags are never deleted.
func (q *Queries) SetTagActive(ctx context.Context, name, dimension string, active bool) (int64, error) {
	res, err := q.db.ExecContext(ctx, setTagActive, yesNo(active), name, dimension)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listInstanceTags = `
SELECT t.id, t.tag_name, ft.dimension, ft.confidence, ft.is_primary, ft.speaker_posture
FROM figurative_tags ft
JOIN tags t ON t.id = ft.tag_id
WHERE ft.instance_id = ?
ORDER BY ft.dimension, ft.is_primary DESC, t.tag_name`

// ListInstanceTags returns the tags attached to an instance.
func (q *Queries) ListInstanceTags(ctx context.Context, instanceID int64) ([]InstanceTag, error) {
	rows, err := q.db.QueryContext(ctx, listInstanceTags, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []InstanceTag
	for rows.Next() {
		var it InstanceTag
		var primary, posture string
		if err := rows.Scan(&it.TagID, &it.TagName, &it.Dimension, &it.Confidence, &primary, &posture); err != nil {
			return nil, err
		}
		it.IsPrimary = isYes(primary)
		it.SpeakerPosture = isYes(posture)
		items = append(items, it)
	}
	return items, rows.Err()
}

const countTagsByDimension = `SELECT dimension, COUNT(*) FROM tags GROUP BY dimension ORDER BY dimension`

// DimensionCount is a tag count for one dimension.
type DimensionCount struct {
	Dimension string
	Count     int64
}

// CountTagsByDimension returns tag counts per dimension.
func (q *Queries) CountTagsByDimension(ctx context.Context) ([]DimensionCount, error) {
	rows, err := q.db.QueryContext(ctx, countTagsByDimension)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []DimensionCount
	for rows.Next() {
		var dc DimensionCount
		if err := rows.Scan(&dc.Dimension, &dc.Count); err != nil {
			return nil, err
		}
		items = append(items, dc)
	}
	return items, rows.Err()
}

const insertTagRelationship = `
INSERT INTO tag_relationships (parent_tag_id, child_tag_id, relationship_type, strength)
VALUES (?, ?, ?, ?)
ON CONFLICT (parent_tag_id, child_tag_id, relationship_type) DO UPDATE SET
    strength = excluded.strength
`

// InsertTagRelationshipParams describes a directed edge between tags.
type InsertTagRelationshipParams struct {
	ParentTagID      int64
	ChildTagID       int64
	RelationshipType string
	Strength         float64
}

// InsertTagRelationship records or updates a tag relationship.
func (q *Queries) InsertTagRelationship(ctx context.Context, arg InsertTagRelationshipParams) error {
	_, err := q.db.ExecContext(ctx, insertTagRelationship,
		arg.ParentTagID, arg.ChildTagID, arg.RelationshipType, arg.Strength)
	return err
}

const listRelatedTags = `
SELECT t.id, t.tag_name, t.dimension, t.category_hint, t.usage_count, t.is_active, r.relationship_type, r.strength
FROM tag_relationships r
JOIN tags t ON t.id = r.child_tag_id
WHERE r.parent_tag_id = ?
ORDER BY r.strength DESC, t.tag_name`

// RelatedTag is a tag reached through a relationship edge.
type RelatedTag struct {
	Tag
	RelationshipType string
	Strength         float64
}

// ListRelatedTags returns the outgoing relationships of a tag.
func (q *Queries) ListRelatedTags(ctx context.Context, tagID int64) ([]RelatedTag, error) {
	rows, err := q.db.QueryContext(ctx, listRelatedTags, tagID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []RelatedTag
	for rows.Next() {
		var rt RelatedTag
		if err := rows.Scan(&rt.ID, &rt.TagName, &rt.Dimension, &rt.CategoryHint, &rt.UsageCount,
			&rt.IsActive, &rt.RelationshipType, &rt.Strength); err != nil {
			return nil, err
		}
		items = append(items, rt)
	}
	return items, rows.Err()
}
