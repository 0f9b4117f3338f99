// internal/evaluation/store/submissions.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"compliance-workers/internal/common/errors"
	"compliance-workers/internal/evaluation/submission"
)

// CreateSubmission inserts a stage submission and its empty category score
// rows. Creation is idempotent: when a non-terminal submission for the same
// (contractor, session, stage) already exists, the insert is a no-op and the
// method reports created=false. Enforced by a partial unique index.
func (s *Store) CreateSubmission(ctx context.Context, sub *submission.StageSubmission) (bool, error) {
	answersJSON, err := json.Marshal(sub.Answers)
	if err != nil {
		return false, errors.NewQueryExecutionFailedError("marshal answers", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.NewDatabaseConnectionFailedError(err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO stage_submissions
			(id, session_id, contractor_id, tenant_id, stage, status, answers, progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT DO NOTHING`

	res, err := tx.ExecContext(ctx, query,
		sub.ID, sub.SessionID, sub.ContractorID, sub.TenantID, sub.Stage,
		string(sub.Status), answersJSON, sub.Progress, sub.CreatedAt)
	if err != nil {
		return false, errors.NewQueryExecutionFailedError("create submission", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewQueryExecutionFailedError("create submission", err)
	}
	if rows == 0 {
		return false, nil
	}

	scoreQuery := `
		INSERT INTO category_scores (submission_id, category_code, scope, weight)
		VALUES ($1, $2, $3, $4)`
	for _, cs := range sub.CategoryScores {
		if _, err := tx.ExecContext(ctx, scoreQuery, sub.ID, cs.CategoryCode, cs.Scope, cs.Weight); err != nil {
			return false, errors.NewQueryExecutionFailedError("create category scores", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, errors.NewQueryExecutionFailedError("commit submission", err)
	}
	return true, nil
}

// GetSubmission fetches a full stage submission: answers, attachments and
// category scores.
func (s *Store) GetSubmission(ctx context.Context, submissionID string) (*submission.StageSubmission, error) {
	query := `
		SELECT id, session_id, contractor_id, tenant_id, stage, status, answers,
		       progress, created_at, updated_at, submitted_at, completed_at
		FROM stage_submissions
		WHERE id = $1`

	sub, err := s.scanSubmission(s.db.QueryRowContext(ctx, query, submissionID))
	if err != nil {
		return nil, err
	}
	return s.loadChildren(ctx, sub)
}

// GetStageSubmission fetches the most recent submission for a
// (session, contractor, stage) triple.
func (s *Store) GetStageSubmission(ctx context.Context, sessionID, contractorID string, stage int) (*submission.StageSubmission, error) {
	query := `
		SELECT id, session_id, contractor_id, tenant_id, stage, status, answers,
		       progress, created_at, updated_at, submitted_at, completed_at
		FROM stage_submissions
		WHERE session_id = $1 AND contractor_id = $2 AND stage = $3
		ORDER BY created_at DESC
		LIMIT 1`

	sub, err := s.scanSubmission(s.db.QueryRowContext(ctx, query, sessionID, contractorID, stage))
	if err != nil {
		return nil, err
	}
	return s.loadChildren(ctx, sub)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanSubmission(row rowScanner) (*submission.StageSubmission, error) {
	var sub submission.StageSubmission
	var status string
	var answersJSON []byte
	var submittedAt, completedAt sql.NullTime

	err := row.Scan(
		&sub.ID, &sub.SessionID, &sub.ContractorID, &sub.TenantID, &sub.Stage,
		&status, &answersJSON, &sub.Progress, &sub.CreatedAt, &sub.UpdatedAt,
		&submittedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewSubmissionNotFoundError("")
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get submission", err)
	}

	sub.Status = submission.Status(status)
	if len(answersJSON) > 0 {
		if err := json.Unmarshal(answersJSON, &sub.Answers); err != nil {
			return nil, errors.NewQueryExecutionFailedError("unmarshal answers", err)
		}
	}
	if sub.Answers == nil {
		sub.Answers = map[string]interface{}{}
	}
	if submittedAt.Valid {
		sub.SubmittedAt = &submittedAt.Time
	}
	if completedAt.Valid {
		sub.CompletedAt = &completedAt.Time
	}
	return &sub, nil
}

func (s *Store) loadChildren(ctx context.Context, sub *submission.StageSubmission) (*submission.StageSubmission, error) {
	attachments, err := s.listAttachments(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	sub.Attachments = attachments

	scores, err := s.ListCategoryScores(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	sub.CategoryScores = scores

	return sub, nil
}

// UpdateAnswers persists a flushed answer snapshot and its progress.
func (s *Store) UpdateAnswers(ctx context.Context, submissionID string, answers map[string]interface{}, progress float64) error {
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return errors.NewQueryExecutionFailedError("marshal answers", err)
	}

	query := `
		UPDATE stage_submissions
		SET answers = $2, progress = $3, updated_at = NOW()
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, submissionID, answersJSON, progress)
	if err != nil {
		return errors.NewQueryExecutionFailedError("update answers", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return errors.NewSubmissionNotFoundError(submissionID)
	}
	return nil
}

// UpdateStatus persists a lifecycle transition's status and timestamps.
func (s *Store) UpdateStatus(ctx context.Context, sub *submission.StageSubmission) error {
	query := `
		UPDATE stage_submissions
		SET status = $2, submitted_at = $3, completed_at = $4, updated_at = NOW()
		WHERE id = $1`

	var submittedAt, completedAt interface{}
	if sub.SubmittedAt != nil {
		submittedAt = *sub.SubmittedAt
	}
	if sub.CompletedAt != nil {
		completedAt = *sub.CompletedAt
	}

	res, err := s.db.ExecContext(ctx, query, sub.ID, string(sub.Status), submittedAt, completedAt)
	if err != nil {
		return errors.NewQueryExecutionFailedError("update status", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return errors.NewSubmissionNotFoundError(sub.ID)
	}
	return nil
}

// UpsertAttachment records an upload, replacing any prior attachment for the
// same document id.
func (s *Store) UpsertAttachment(ctx context.Context, submissionID string, att submission.Attachment) error {
	query := `
		INSERT INTO submission_attachments
			(submission_id, document_id, filename, url, content_type, size_bytes, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (submission_id, document_id) DO UPDATE
		SET filename = EXCLUDED.filename,
		    url = EXCLUDED.url,
		    content_type = EXCLUDED.content_type,
		    size_bytes = EXCLUDED.size_bytes,
		    uploaded_at = EXCLUDED.uploaded_at`

	_, err := s.db.ExecContext(ctx, query,
		submissionID, att.DocumentID, att.Filename, att.URL, att.ContentType, att.SizeBytes, att.UploadedAt)
	if err != nil {
		return errors.NewQueryExecutionFailedError("upsert attachment", err)
	}
	return nil
}

func (s *Store) listAttachments(ctx context.Context, submissionID string) ([]submission.Attachment, error) {
	query := `
		SELECT document_id, filename, url, content_type, size_bytes, uploaded_at
		FROM submission_attachments
		WHERE submission_id = $1
		ORDER BY document_id`

	rows, err := s.db.QueryContext(ctx, query, submissionID)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("list attachments", err)
	}
	defer rows.Close()

	var attachments []submission.Attachment
	for rows.Next() {
		var att submission.Attachment
		if err := rows.Scan(&att.DocumentID, &att.Filename, &att.URL, &att.ContentType, &att.SizeBytes, &att.UploadedAt); err != nil {
			return nil, errors.NewQueryExecutionFailedError("scan attachment", err)
		}
		attachments = append(attachments, att)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("list attachments", err)
	}
	return attachments, nil
}

// StaleDraft is a reminder-sweep row: a stage-1 draft past the reminder age.
type StaleDraft struct {
	SubmissionID string
	SessionID    string
	ContractorID string
	TenantID     string
	CreatedAt    time.Time
}

// ListStaleStageOneDrafts returns stage-1 drafts created before the cutoff.
func (s *Store) ListStaleStageOneDrafts(ctx context.Context, cutoff time.Time) ([]StaleDraft, error) {
	query := `
		SELECT id, session_id, contractor_id, tenant_id, created_at
		FROM stage_submissions
		WHERE stage = 1 AND status = 'draft' AND created_at < $1
		ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("list stale drafts", err)
	}
	defer rows.Close()

	var drafts []StaleDraft
	for rows.Next() {
		var d StaleDraft
		if err := rows.Scan(&d.SubmissionID, &d.SessionID, &d.ContractorID, &d.TenantID, &d.CreatedAt); err != nil {
			return nil, errors.NewQueryExecutionFailedError("scan stale draft", err)
		}
		drafts = append(drafts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("list stale drafts", err)
	}
	return drafts, nil
}
