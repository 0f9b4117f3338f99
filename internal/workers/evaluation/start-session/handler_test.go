// internal/workers/evaluation/start-session/handler_test.go
package startsession

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"compliance-workers/internal/common/config"
	"compliance-workers/internal/common/logger"
	"compliance-workers/internal/evaluation/catalog"
	"compliance-workers/internal/evaluation/notify"
	"compliance-workers/internal/evaluation/scoring"
	"compliance-workers/internal/evaluation/search"
	"compliance-workers/internal/evaluation/session"
	"compliance-workers/internal/evaluation/store"

	"compliance-workers/pkg/registry"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
)

// ==========================
// Test Helper Functions
// ==========================

// Create a test logger that implements your logger.Logger interface
type testLogger struct {
	t *testing.T
}

func (tl *testLogger) Debug(msg string, fields map[string]interface{}) {
	tl.t.Logf("DEBUG: %s %v", msg, fields)
}

func (tl *testLogger) Info(msg string, fields map[string]interface{}) {
	tl.t.Logf("INFO: %s %v", msg, fields)
}

func (tl *testLogger) Warn(msg string, fields map[string]interface{}) {
	tl.t.Logf("WARN: %s %v", msg, fields)
}

func (tl *testLogger) Error(msg string, fields map[string]interface{}) {
	tl.t.Logf("ERROR: %s %v", msg, fields)
}

func (tl *testLogger) WithFields(fields map[string]interface{}) logger.Logger {
	return tl // Simple implementation for testing
}

func (tl *testLogger) WithError(err error) logger.Logger {
	return tl.WithFields(map[string]interface{}{"error": err})
}

func (tl *testLogger) With(fields map[string]interface{}) logger.Logger {
	return tl
}

func newTestLogger(t *testing.T) logger.Logger {
	return &testLogger{t: t}
}

func createTestConfig() *Config {
	return &Config{
		Timeout: 10 * time.Second,
	}
}

func createTestInput() *Input {
	return &Input{
		TenantID:      "tenant-001",
		ContractorIDs: []string{"contractor-001"},
		Cycle:         1,
		CustomMessage: "Annual safety review",
	}
}

type fakeNotifier struct {
	templates []string
}

func (f *fakeNotifier) Notify(ctx context.Context, recipient notify.Recipient, template string, payload map[string]interface{}) (string, error) {
	f.templates = append(f.templates, template)
	return "notification-001", nil
}

type fakeESTransport struct{}

func (f *fakeESTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"X-Elastic-Product": []string{"Elasticsearch"}, "Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{}`)),
	}, nil
}

func sessionCatalog() *catalog.Catalog {
	return catalog.New(&registry.FormRegistry{
		Version: "test",
		Stages: []registry.StageDefinition{
			{
				Number:         1,
				FormCode:       "FRM32",
				AuthoringRole:  catalog.RoleContractorAdmin,
				HasDraftPhase:  true,
				CategoryScored: true,
				Categories:     []registry.CategoryDefinition{{Code: "k2_self", Weight: 100}},
			},
		},
	})
}

func newTestHandler(t *testing.T) (*Handler, sqlmock.Sqlmock, *fakeNotifier, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	esClient, err := elasticsearch.NewClient(elasticsearch.Config{Transport: &fakeESTransport{}})
	assert.NoError(t, err)

	log := logger.NewNoOpLogger()
	st := store.New(db, log)

	var evalCfg config.EvaluationConfig
	evalCfg.Final.StageWeights = map[int]float64{1: 1.0}
	evalCfg.Risk.GreenMin = 75
	evalCfg.Risk.YellowMin = 50

	notifier := &fakeNotifier{}
	orchestrator := session.NewOrchestrator(
		st, sessionCatalog(), scoring.NewEngine(evalCfg), notifier,
		search.NewIndex(esClient, "evaluations", log), nil,
		config.ReminderConfig{}, log,
	)

	handler := NewHandler(createTestConfig(), orchestrator, newTestLogger(t))
	return handler, mock, notifier, func() { db.Close() }
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_StartsSession(t *testing.T) {
	handler, mock, notifier, cleanup := newTestHandler(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO evaluation_sessions`).
		WithArgs(sqlmock.AnyArg(), "tenant-001", 1, "Annual safety review", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectQuery(`SELECT id, tenant_id, name`).
		WithArgs("contractor-001").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "email", "phone", "status"}).
			AddRow("contractor-001", "tenant-001", "Acme Scaffolding", "safety@acme.example", "", "active"))

	mock.ExpectExec(`INSERT INTO session_contractors`).
		WithArgs(sqlmock.AnyArg(), "contractor-001").
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO stage_submissions`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO category_scores`).
		WithArgs(sqlmock.AnyArg(), "k2_self", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	output, err := handler.Execute(context.Background(), createTestInput())

	assert.NoError(t, err)
	assert.NotEmpty(t, output.SessionID)
	assert.Equal(t, 1, output.Cycle)
	assert.NotEmpty(t, output.CreatedAt)
	assert.Len(t, output.Outcomes, 1)
	assert.Equal(t, "created", output.Outcomes[0].Status)
	assert.Equal(t, []string{notify.TemplateInvitation}, notifier.templates)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Edge Cases
// ==========================

func TestHandler_Execute_MissingTenant(t *testing.T) {
	handler, mock, _, cleanup := newTestHandler(t)
	defer cleanup()

	input := createTestInput()
	input.TenantID = ""

	output, err := handler.Execute(context.Background(), input)

	assert.Error(t, err)
	assert.Nil(t, output)

	code, retries := mapError(err)
	assert.Equal(t, "MISSING_TENANT", code)
	assert.Equal(t, int32(0), retries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_Execute_EmptyContractorSet(t *testing.T) {
	handler, mock, _, cleanup := newTestHandler(t)
	defer cleanup()

	input := createTestInput()
	input.ContractorIDs = nil

	_, err := handler.Execute(context.Background(), input)

	assert.Error(t, err)
	code, _ := mapError(err)
	assert.Equal(t, "EMPTY_CONTRACTOR_SET", code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_Execute_UnknownContractorIsolated(t *testing.T) {
	handler, mock, notifier, cleanup := newTestHandler(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO evaluation_sessions`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectQuery(`SELECT id, tenant_id, name`).
		WithArgs("contractor-missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "email", "phone", "status"}))

	input := createTestInput()
	input.ContractorIDs = []string{"contractor-missing"}

	output, err := handler.Execute(context.Background(), input)

	assert.NoError(t, err)
	assert.Len(t, output.Outcomes, 1)
	assert.Equal(t, "failed", output.Outcomes[0].Status)
	assert.Equal(t, "contractor not found", output.Outcomes[0].Error)
	assert.Empty(t, notifier.templates)
	assert.NoError(t, mock.ExpectationsWereMet())
}
