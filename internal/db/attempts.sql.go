package db

import (
	"context"
	"database/sql"
)

const insertAttempt = `
INSERT INTO processing_attempts (
    id, run_id, stage, unit, attempt_number, state, tier, model, strategy,
    items, resolved, success, duration_ms, input_tokens, output_tokens, estimated_cost, error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING
`

// InsertAttemptParams is one model attempt made by the escalation controller.
type InsertAttemptParams struct {
	ID            string
	RunID         sql.NullString
	Stage         string
	Unit          string
	AttemptNumber int64
	State         string
	Tier          string
	Model         sql.NullString
	Strategy      sql.NullString
	Items         int64
	Resolved      int64
	Success       bool
	DurationMs    int64
	InputTokens   int64
	OutputTokens  int64
	EstimatedCost float64
	Error         sql.NullString
}

// InsertAttempt stores attempt telemetry.
func (q *Queries) InsertAttempt(ctx context.Context, arg InsertAttemptParams) error {
	_, err := q.db.ExecContext(ctx, insertAttempt,
		arg.ID, arg.RunID, arg.Stage, arg.Unit, arg.AttemptNumber, arg.State, arg.Tier,
		arg.Model, arg.Strategy, arg.Items, arg.Resolved, yesNo(arg.Success),
		arg.DurationMs, arg.InputTokens, arg.OutputTokens, arg.EstimatedCost, arg.Error,
	)
	return err
}

const summarizeAttempts = `
SELECT stage, tier, COUNT(*), SUM(success = 'yes'), COALESCE(SUM(estimated_cost), 0),
       COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
FROM processing_attempts
GROUP BY stage, tier
ORDER BY stage, tier`

// AttemptSummary aggregates attempts per stage and tier.
type AttemptSummary struct {
	Stage         string
	Tier          string
	Total         int64
	Succeeded     int64
	EstimatedCost float64
	InputTokens   int64
	OutputTokens  int64
}

// SummarizeAttempts aggregates attempt telemetry.
func (q *Queries) SummarizeAttempts(ctx context.Context) ([]AttemptSummary, error) {
	rows, err := q.db.QueryContext(ctx, summarizeAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []AttemptSummary
	for rows.Next() {
		var s AttemptSummary
		if err := rows.Scan(&s.Stage, &s.Tier, &s.Total, &s.Succeeded, &s.EstimatedCost,
			&s.InputTokens, &s.OutputTokens); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

const summarizeStrategies = `
SELECT strategy, COUNT(*) FROM processing_attempts
WHERE success = 'yes' AND strategy IS NOT NULL AND strategy != ''
GROUP BY strategy
ORDER BY COUNT(*) DESC`

// StrategyCount counts successful attempts per recovery strategy.
type StrategyCount struct {
	Strategy string
	Count    int64
}

// SummarizeStrategies returns how often each recovery strategy succeeded.
func (q *Queries) SummarizeStrategies(ctx context.Context) ([]StrategyCount, error) {
	rows, err := q.db.QueryContext(ctx, summarizeStrategies)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []StrategyCount
	for rows.Next() {
		var sc StrategyCount
		if err := rows.Scan(&sc.Strategy, &sc.Count); err != nil {
			return nil, err
		}
		items = append(items, sc)
	}
	return items, rows.Err()
}
