// internal/evaluation/session/orchestrator_test.go
package session

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"compliance-workers/internal/common/config"
	"compliance-workers/internal/common/errors"
	"compliance-workers/internal/common/logger"
	"compliance-workers/internal/evaluation/catalog"
	"compliance-workers/internal/evaluation/notify"
	"compliance-workers/internal/evaluation/scoring"
	"compliance-workers/internal/evaluation/search"
	"compliance-workers/internal/evaluation/store"

	"compliance-workers/pkg/registry"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

// ==========================
// Test Helper Functions
// ==========================

type recordedNotification struct {
	Recipient notify.Recipient
	Template  string
	Payload   map[string]interface{}
}

type fakeNotifier struct {
	mu       sync.Mutex
	sent     []recordedNotification
	failWith error
}

func (f *fakeNotifier) Notify(ctx context.Context, recipient notify.Recipient, template string, payload map[string]interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, recordedNotification{Recipient: recipient, Template: template, Payload: payload})
	if f.failWith != nil {
		return "", f.failWith
	}
	return "notification-001", nil
}

func (f *fakeNotifier) templates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, n := range f.sent {
		out = append(out, n.Template)
	}
	return out
}

// fakeESTransport answers every request with 200 so index upserts succeed.
type fakeESTransport struct {
	mu       sync.Mutex
	requests int
}

func (f *fakeESTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.requests++
	f.mu.Unlock()
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"X-Elastic-Product": []string{"Elasticsearch"}, "Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{}`)),
	}, nil
}

func orchestratorCatalog() *catalog.Catalog {
	return catalog.New(&registry.FormRegistry{
		Version: "test",
		Stages: []registry.StageDefinition{
			{
				Number:        1,
				FormCode:      "FRM32",
				AuthoringRole: catalog.RoleContractorAdmin,
				HasDraftPhase: true, CategoryScored: true,
				Categories: []registry.CategoryDefinition{{Code: "k2_self", Weight: 100}},
			},
			{
				Number:        2,
				FormCode:      "FRM33",
				AuthoringRole: catalog.RoleSupervisor,
				RequiresReview: true, CategoryScored: true,
				Categories: []registry.CategoryDefinition{{Code: "k2_docs", Weight: 100}},
			},
			{
				Number:        3,
				FormCode:      "FRM34",
				AuthoringRole: catalog.RoleSupervisor,
				RequiresReview: true,
				Questions:     []registry.QuestionDefinition{{Code: "q_observations", Required: true}},
			},
			{
				Number:        4,
				FormCode:      "FRM35",
				AuthoringRole: catalog.RoleSupervisor,
				RequiresReview: true, CategoryScored: true,
				Categories: []registry.CategoryDefinition{{Code: "k2_final", Weight: 100}},
			},
		},
	})
}

type orchestratorFixture struct {
	orchestrator *Orchestrator
	mock         sqlmock.Sqlmock
	mr           *miniredis.Miniredis
	notifier     *fakeNotifier
	transport    *fakeESTransport
	cleanup      func()
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	transport := &fakeESTransport{}
	esClient, err := elasticsearch.NewClient(elasticsearch.Config{Transport: transport})
	assert.NoError(t, err)

	cfg := config.EvaluationConfig{}
	cfg.Final.StageWeights = map[int]float64{1: 0.5, 4: 0.5}
	cfg.Risk.GreenMin = 75
	cfg.Risk.YellowMin = 50

	notifier := &fakeNotifier{}
	log := logger.NewNoOpLogger()

	orchestrator := NewOrchestrator(
		store.New(db, log),
		orchestratorCatalog(),
		scoring.NewEngine(cfg),
		notifier,
		search.NewIndex(esClient, "evaluations", log),
		rdb,
		config.ReminderConfig{DraftAgeHours: 72, DedupeHours: 24},
		log,
	)

	return &orchestratorFixture{
		orchestrator: orchestrator,
		mock:         mock,
		mr:           mr,
		notifier:     notifier,
		transport:    transport,
		cleanup: func() {
			rdb.Close()
			db.Close()
		},
	}
}

func expectContractorRow(mock sqlmock.Sqlmock, contractorID, tenantID string) {
	mock.ExpectQuery(`SELECT id, tenant_id, name`).
		WithArgs(contractorID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "email", "phone", "status"}).
			AddRow(contractorID, tenantID, "Acme Scaffolding", "safety@acme.example", "+46701234567", "active"))
}

func expectSessionRow(mock sqlmock.Sqlmock, sessionID, tenantID string, cycle int) {
	mock.ExpectQuery(`SELECT id, tenant_id, cycle`).
		WithArgs(sessionID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "cycle", "custom_message", "created_at"}).
			AddRow(sessionID, tenantID, cycle, "", time.Now().UTC()))
}

func expectSubmissionInsert(mock sqlmock.Sqlmock, categoryCode string) {
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO stage_submissions`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO category_scores`).
		WithArgs(sqlmock.AnyArg(), categoryCode, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

func expectStageSubmissionRow(mock sqlmock.Sqlmock, submissionID, sessionID, contractorID string, stage int, status string, categoryCode string, level interface{}) {
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, session_id, contractor_id`).
		WithArgs(sessionID, contractorID, stage).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "session_id", "contractor_id", "tenant_id", "stage", "status",
			"answers", "progress", "created_at", "updated_at", "submitted_at", "completed_at",
		}).AddRow(submissionID, sessionID, contractorID, "tenant-001", stage,
			status, []byte(`{}`), 100.0, now, now, now, now))

	mock.ExpectQuery(`SELECT document_id, filename`).
		WithArgs(submissionID).
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "filename", "url", "content_type", "size_bytes", "uploaded_at"}))

	mock.ExpectQuery(`SELECT category_code, scope`).
		WithArgs(submissionID).
		WillReturnRows(sqlmock.NewRows([]string{"category_code", "scope", "weight", "level", "ai_suggested_level", "ai_reasoning", "scored_by", "scored_at"}).
			AddRow(categoryCode, "", 100.0, level, nil, "", "supervisor-1", now))
}

func sessionErrorCode(err error) errors.ErrorCode {
	var stdErr *errors.StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// ==========================
// Session Start Tests
// ==========================

func TestOrchestrator_StartSession_MissingTenant(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.cleanup()

	_, err := f.orchestrator.StartSession(context.Background(), StartInput{
		ContractorIDs: []string{"contractor-001"},
	})

	assert.Error(t, err)
	assert.Equal(t, errors.ErrCodeMissingTenant, sessionErrorCode(err))
}

func TestOrchestrator_StartSession_EmptyContractorSet(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.cleanup()

	_, err := f.orchestrator.StartSession(context.Background(), StartInput{
		TenantID: "tenant-001",
	})

	assert.Error(t, err)
	assert.Equal(t, errors.ErrCodeEmptyContractorSet, sessionErrorCode(err))
}

func TestOrchestrator_StartSession_CreatesStageOneDraft(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.cleanup()

	// Cycle 0 asks the store for the next cycle number.
	f.mock.ExpectQuery(`SELECT COALESCE\(MAX\(cycle\), 0\) \+ 1`).
		WithArgs("tenant-001").
		WillReturnRows(sqlmock.NewRows([]string{"cycle"}).AddRow(2))

	f.mock.ExpectExec(`INSERT INTO evaluation_sessions`).
		WithArgs(sqlmock.AnyArg(), "tenant-001", 2, "Welcome", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	expectContractorRow(f.mock, "contractor-001", "tenant-001")

	f.mock.ExpectExec(`INSERT INTO session_contractors`).
		WithArgs(sqlmock.AnyArg(), "contractor-001").
		WillReturnResult(sqlmock.NewResult(1, 1))

	expectSubmissionInsert(f.mock, "k2_self")

	result, err := f.orchestrator.StartSession(context.Background(), StartInput{
		TenantID:      "tenant-001",
		ContractorIDs: []string{"contractor-001"},
		CustomMessage: "Welcome",
	})

	assert.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, 2, result.Cycle)
	assert.Len(t, result.Outcomes, 1)
	assert.Equal(t, "created", result.Outcomes[0].Status)
	assert.NotEmpty(t, result.Outcomes[0].SubmissionID)

	assert.Equal(t, []string{notify.TemplateInvitation}, f.notifier.templates())
	assert.Equal(t, 1, f.transport.requests)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrchestrator_StartSession_TenantMismatchIsolatedPerContractor(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.cleanup()

	f.mock.ExpectExec(`INSERT INTO evaluation_sessions`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	// First contractor belongs to another tenant, second one succeeds.
	expectContractorRow(f.mock, "contractor-foreign", "tenant-999")

	expectContractorRow(f.mock, "contractor-001", "tenant-001")
	f.mock.ExpectExec(`INSERT INTO session_contractors`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectSubmissionInsert(f.mock, "k2_self")

	result, err := f.orchestrator.StartSession(context.Background(), StartInput{
		TenantID:      "tenant-001",
		ContractorIDs: []string{"contractor-foreign", "contractor-001"},
		Cycle:         1,
	})

	assert.NoError(t, err)
	assert.Len(t, result.Outcomes, 2)
	assert.Equal(t, "failed", result.Outcomes[0].Status)
	assert.Contains(t, result.Outcomes[0].Error, "not bound to tenant")
	assert.Equal(t, "created", result.Outcomes[1].Status)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

// ==========================
// Stage Advancement Tests
// ==========================

func TestOrchestrator_OnStageCompleted_OpensNextStage(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.cleanup()

	expectSessionRow(f.mock, "session-001", "tenant-001", 1)
	expectContractorRow(f.mock, "contractor-001", "tenant-001")
	expectSubmissionInsert(f.mock, "k2_docs")

	err := f.orchestrator.OnStageCompleted(context.Background(), "session-001", "contractor-001", 1)

	assert.NoError(t, err)
	assert.Equal(t, []string{notify.TemplateNextStageReady}, f.notifier.templates())
	assert.Equal(t, 1, f.transport.requests)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrchestrator_OnStageCompleted_RedeliveryIsNoOp(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.cleanup()

	expectSessionRow(f.mock, "session-001", "tenant-001", 1)
	expectContractorRow(f.mock, "contractor-001", "tenant-001")

	// The open-submission index already holds a stage-2 record: insert is a
	// no-op and the existing record is returned without a new notification.
	f.mock.ExpectBegin()
	f.mock.ExpectExec(`INSERT INTO stage_submissions`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectRollback()
	expectStageSubmissionRow(f.mock, "sub-201", "session-001", "contractor-001", 2, "under_review", "k2_docs", nil)

	err := f.orchestrator.OnStageCompleted(context.Background(), "session-001", "contractor-001", 1)

	assert.NoError(t, err)
	assert.Empty(t, f.notifier.templates())
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

// ==========================
// Final Score Tests
// ==========================

func TestOrchestrator_OnStageCompleted_FinalStageComputesScore(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.cleanup()

	expectSessionRow(f.mock, "session-001", "tenant-001", 1)
	expectContractorRow(f.mock, "contractor-001", "tenant-001")

	// Contributing stages 1 and 4: levels 10 and 6 -> 100 and 60 -> final 80.
	expectStageSubmissionRow(f.mock, "sub-101", "session-001", "contractor-001", 1, "completed", "k2_self", 10)
	expectStageSubmissionRow(f.mock, "sub-401", "session-001", "contractor-001", 4, "completed", "k2_final", 6)

	f.mock.ExpectExec(`UPDATE session_contractors`).
		WithArgs("session-001", "contractor-001", 80.0, "green", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`UPDATE contractors`).
		WithArgs("contractor-001", 80.0, "green", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := f.orchestrator.OnStageCompleted(context.Background(), "session-001", "contractor-001", 4)

	assert.NoError(t, err)
	assert.Equal(t, []string{notify.TemplateEvaluationCompleted}, f.notifier.templates())
	assert.Equal(t, 1, f.transport.requests)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrchestrator_RecomputeFinal_BlockedByIncompleteStage(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.cleanup()

	expectSessionRow(f.mock, "session-001", "tenant-001", 1)
	expectContractorRow(f.mock, "contractor-001", "tenant-001")

	expectStageSubmissionRow(f.mock, "sub-101", "session-001", "contractor-001", 1, "under_review", "k2_self", 10)

	err := f.orchestrator.RecomputeFinal(context.Background(), "session-001", "contractor-001")

	assert.Error(t, err)
	assert.Equal(t, errors.ErrCodeScoreIncomplete, sessionErrorCode(err))
	assert.Empty(t, f.notifier.templates())
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrchestrator_RecomputeFinal_BlockedByUnscoredCategories(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.cleanup()

	expectSessionRow(f.mock, "session-001", "tenant-001", 1)
	expectContractorRow(f.mock, "contractor-001", "tenant-001")

	expectStageSubmissionRow(f.mock, "sub-101", "session-001", "contractor-001", 1, "completed", "k2_self", nil)

	err := f.orchestrator.RecomputeFinal(context.Background(), "session-001", "contractor-001")

	assert.Error(t, err)
	assert.Equal(t, errors.ErrCodeScoreIncomplete, sessionErrorCode(err))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

// ==========================
// Reminder Sweep Tests
// ==========================

func TestOrchestrator_SendReminders_DedupesWithinWindow(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.cleanup()

	createdAt := time.Now().UTC().Add(-100 * time.Hour)
	f.mock.ExpectQuery(`SELECT id, session_id, contractor_id, tenant_id, created_at`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "contractor_id", "tenant_id", "created_at"}).
			AddRow("sub-001", "session-001", "contractor-001", "tenant-001", createdAt).
			AddRow("sub-002", "session-001", "contractor-002", "tenant-001", createdAt))

	// sub-002 was already reminded inside the dedupe window.
	f.mr.Set("reminder:sent:sub-002", time.Now().UTC().Format(time.RFC3339))

	expectContractorRow(f.mock, "contractor-001", "tenant-001")

	result, err := f.orchestrator.SendReminders(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Failed)

	assert.Equal(t, []string{notify.TemplateReminder}, f.notifier.templates())
	assert.True(t, f.mr.Exists("reminder:sent:sub-001"))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrchestrator_SendReminders_NotificationFailureCounted(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.cleanup()

	f.notifier.failWith = stderrors.New("ses unavailable")

	createdAt := time.Now().UTC().Add(-100 * time.Hour)
	f.mock.ExpectQuery(`SELECT id, session_id, contractor_id, tenant_id, created_at`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "contractor_id", "tenant_id", "created_at"}).
			AddRow("sub-001", "session-001", "contractor-001", "tenant-001", createdAt))

	expectContractorRow(f.mock, "contractor-001", "tenant-001")

	result, err := f.orchestrator.SendReminders(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 0, result.Sent)
	assert.Equal(t, 1, result.Failed)
	// A failed send releases the dedupe marker so the next sweep retries.
	assert.False(t, f.mr.Exists("reminder:sent:sub-001"))

	f.notifier.failWith = nil
	f.mock.ExpectQuery(`SELECT id, session_id, contractor_id, tenant_id, created_at`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "contractor_id", "tenant_id", "created_at"}).
			AddRow("sub-001", "session-001", "contractor-001", "tenant-001", createdAt))
	expectContractorRow(f.mock, "contractor-001", "tenant-001")

	retry, err := f.orchestrator.SendReminders(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, retry.Sent)
	assert.True(t, f.mr.Exists("reminder:sent:sub-001"))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestOrchestrator_SendReminders_NothingStale(t *testing.T) {
	f := newOrchestratorFixture(t)
	defer f.cleanup()

	f.mock.ExpectQuery(`SELECT id, session_id, contractor_id, tenant_id, created_at`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "contractor_id", "tenant_id", "created_at"}))

	result, err := f.orchestrator.SendReminders(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
	assert.Equal(t, 0, result.Sent)
	assert.Empty(t, f.notifier.templates())
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
