// Package store persists evaluation sessions, stage submissions, attachments
// and category scores in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"time"

	"compliance-workers/internal/common/errors"
	"compliance-workers/internal/common/logger"
)

// Store wraps the evaluation schema queries.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

func New(db *sql.DB, log logger.Logger) *Store {
	return &Store{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "store"}),
	}
}

// Session is one evaluation cycle covering a set of contractors.
type Session struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenantId"`
	Cycle         int       `json:"cycle"`
	CustomMessage string    `json:"customMessage,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Contractor is the external org under evaluation. Referenced, never owned,
// by this core; only the evaluation result columns are written back.
type Contractor struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Status   string `json:"status"`
}

// CreateSession inserts a new evaluation session.
func (s *Store) CreateSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO evaluation_sessions (id, tenant_id, cycle, custom_message, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.TenantID, session.Cycle, session.CustomMessage, session.CreatedAt)
	if err != nil {
		return errors.NewQueryExecutionFailedError("create session", err)
	}
	return nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	query := `
		SELECT id, tenant_id, cycle, COALESCE(custom_message, ''), created_at
		FROM evaluation_sessions
		WHERE id = $1`

	var session Session
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.ID, &session.TenantID, &session.Cycle, &session.CustomMessage, &session.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewSessionNotFoundError(sessionID)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get session", err)
	}
	return &session, nil
}

// NextCycleNumber returns the next evaluation cycle number for a tenant.
func (s *Store) NextCycleNumber(ctx context.Context, tenantID string) (int, error) {
	query := `
		SELECT COALESCE(MAX(cycle), 0) + 1
		FROM evaluation_sessions
		WHERE tenant_id = $1`

	var cycle int
	if err := s.db.QueryRowContext(ctx, query, tenantID).Scan(&cycle); err != nil {
		return 0, errors.NewQueryExecutionFailedError("next cycle number", err)
	}
	return cycle, nil
}

// AddSessionContractor binds a contractor to a session.
func (s *Store) AddSessionContractor(ctx context.Context, sessionID, contractorID string) error {
	query := `
		INSERT INTO session_contractors (session_id, contractor_id)
		VALUES ($1, $2)
		ON CONFLICT (session_id, contractor_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query, sessionID, contractorID)
	if err != nil {
		return errors.NewQueryExecutionFailedError("add session contractor", err)
	}
	return nil
}

// MarkContractorComplete records the final score, risk band and AI summary
// for a contractor's participation in a session.
func (s *Store) MarkContractorComplete(ctx context.Context, sessionID, contractorID string, finalScore float64, risk, aiSummary string) error {
	query := `
		UPDATE session_contractors
		SET completed = TRUE, final_score = $3, risk = $4,
		    ai_summary = COALESCE(NULLIF($5, ''), ai_summary), completed_at = NOW()
		WHERE session_id = $1 AND contractor_id = $2`

	_, err := s.db.ExecContext(ctx, query, sessionID, contractorID, finalScore, risk, aiSummary)
	if err != nil {
		return errors.NewQueryExecutionFailedError("mark contractor complete", err)
	}
	return nil
}

// UpdateAISummary stores the AI-generated summary text for a contractor's
// participation in a session.
func (s *Store) UpdateAISummary(ctx context.Context, sessionID, contractorID, summary string) error {
	query := `
		UPDATE session_contractors
		SET ai_summary = $3
		WHERE session_id = $1 AND contractor_id = $2`

	_, err := s.db.ExecContext(ctx, query, sessionID, contractorID, summary)
	if err != nil {
		return errors.NewQueryExecutionFailedError("update ai summary", err)
	}
	return nil
}

// GetContractor fetches a contractor's reference record.
func (s *Store) GetContractor(ctx context.Context, contractorID string) (*Contractor, error) {
	query := `
		SELECT id, tenant_id, name, COALESCE(email, ''), COALESCE(phone, ''), status
		FROM contractors
		WHERE id = $1`

	var c Contractor
	err := s.db.QueryRowContext(ctx, query, contractorID).Scan(
		&c.ID, &c.TenantID, &c.Name, &c.Email, &c.Phone, &c.Status)
	if err == sql.ErrNoRows {
		return nil, errors.NewSubmissionNotFoundError(contractorID)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get contractor", err)
	}
	return &c, nil
}

// UpdateContractorEvaluation writes the most recent compliance score, risk
// band and evaluation date back onto the contractor record.
func (s *Store) UpdateContractorEvaluation(ctx context.Context, contractorID string, score float64, risk string, evaluatedAt time.Time) error {
	query := `
		UPDATE contractors
		SET last_score = $2, last_risk = $3, last_evaluated_at = $4
		WHERE id = $1`

	_, err := s.db.ExecContext(ctx, query, contractorID, score, risk, evaluatedAt)
	if err != nil {
		return errors.NewQueryExecutionFailedError("update contractor evaluation", err)
	}
	return nil
}
