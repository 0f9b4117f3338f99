// internal/evaluation/store/scores.go
package store

import (
	"context"
	"database/sql"
	"time"

	"compliance-workers/internal/common/errors"
	"compliance-workers/internal/evaluation/submission"
)

// ListCategoryScores returns the category score rows for a submission.
func (s *Store) ListCategoryScores(ctx context.Context, submissionID string) ([]submission.CategoryScore, error) {
	query := `
		SELECT category_code, scope, weight, level, ai_suggested_level,
		       COALESCE(ai_reasoning, ''), COALESCE(scored_by, ''), scored_at
		FROM category_scores
		WHERE submission_id = $1
		ORDER BY category_code`

	rows, err := s.db.QueryContext(ctx, query, submissionID)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("list category scores", err)
	}
	defer rows.Close()

	var scores []submission.CategoryScore
	for rows.Next() {
		var cs submission.CategoryScore
		var level, suggested sql.NullInt64
		var scoredAt sql.NullTime
		if err := rows.Scan(&cs.CategoryCode, &cs.Scope, &cs.Weight, &level, &suggested, &cs.AIReasoning, &cs.ScoredBy, &scoredAt); err != nil {
			return nil, errors.NewQueryExecutionFailedError("scan category score", err)
		}
		if level.Valid {
			l := int(level.Int64)
			cs.Level = &l
		}
		if suggested.Valid {
			l := int(suggested.Int64)
			cs.AISuggestedLevel = &l
		}
		if scoredAt.Valid {
			cs.ScoredAt = &scoredAt.Time
		}
		scores = append(scores, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("list category scores", err)
	}
	return scores, nil
}

// SetCategoryLevel records a supervisor's level selection for one category.
func (s *Store) SetCategoryLevel(ctx context.Context, submissionID, categoryCode string, level int, scoredBy string, scoredAt time.Time) error {
	query := `
		UPDATE category_scores
		SET level = $3, scored_by = $4, scored_at = $5
		WHERE submission_id = $1 AND category_code = $2`

	res, err := s.db.ExecContext(ctx, query, submissionID, categoryCode, level, scoredBy, scoredAt)
	if err != nil {
		return errors.NewQueryExecutionFailedError("set category level", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return errors.NewSubmissionNotFoundError(submissionID)
	}
	return nil
}

// UpdateSuggestion writes an AI suggestion onto one category, guarded so a
// human-selected level is never disturbed: the row is only touched while
// level is still null.
func (s *Store) UpdateSuggestion(ctx context.Context, submissionID, categoryCode string, suggestedLevel int, reasoning string) error {
	query := `
		UPDATE category_scores
		SET ai_suggested_level = $3, ai_reasoning = $4
		WHERE submission_id = $1 AND category_code = $2 AND level IS NULL`

	_, err := s.db.ExecContext(ctx, query, submissionID, categoryCode, suggestedLevel, reasoning)
	if err != nil {
		return errors.NewQueryExecutionFailedError("update suggestion", err)
	}
	return nil
}
