// internal/workers/evaluation/upload-attachment/handler_test.go
package uploadattachment

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"compliance-workers/internal/common/config"
	"compliance-workers/internal/common/logger"
	"compliance-workers/internal/evaluation/attachments"
	"compliance-workers/internal/evaluation/catalog"
	"compliance-workers/internal/evaluation/store"

	"compliance-workers/pkg/registry"

	"github.com/DATA-DOG/go-sqlmock"
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
		Timeout: 5 * time.Second,
	}
}

func createTestInput() *Input {
	return &Input{
		SubmissionID:  "sub-001",
		DocumentID:    "doc_policy",
		Filename:      "safety-policy.pdf",
		ContentType:   "application/pdf",
		ContentBase64: base64.StdEncoding.EncodeToString([]byte("%PDF-1.7 policy document")),
	}
}

type fakeBlobStore struct {
	puts []string
	url  string
	err  error
}

func (f *fakeBlobStore) PutAttachment(ctx context.Context, submissionID, documentID string, data []byte, contentType string) (string, error) {
	f.puts = append(f.puts, submissionID+"/"+documentID)
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

func (f *fakeBlobStore) GetAttachmentMeta(ctx context.Context, submissionID, documentID string) (*attachments.AttachmentMeta, error) {
	return nil, nil
}

func uploadCatalog() *catalog.Catalog {
	return catalog.New(&registry.FormRegistry{
		Version: "test",
		Stages: []registry.StageDefinition{
			{
				Number:        1,
				FormCode:      "FRM32",
				AuthoringRole: catalog.RoleContractorAdmin,
				HasDraftPhase: true,
				Documents: []registry.DocumentDefinition{
					{ID: "doc_policy", Required: true, AllowedContentTypes: []string{"application/pdf"}},
					{ID: "doc_photo", Required: false, MaxSizeBytes: 8},
				},
			},
		},
	})
}

func newTestHandler(t *testing.T, blob *fakeBlobStore) (*Handler, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	st := store.New(db, logger.NewNoOpLogger())
	validator := attachments.NewValidator(config.UploadConfig{
		MaxSizeBytes:        1024,
		AllowedContentTypes: []string{"application/pdf", "image/png"},
	})

	handler := NewHandler(createTestConfig(), st, uploadCatalog(), validator, blob, newTestLogger(t))
	return handler, mock, func() { db.Close() }
}

func expectSubmissionLookup(mock sqlmock.Sqlmock, submissionID, status string) {
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, session_id, contractor_id`).
		WithArgs(submissionID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "session_id", "contractor_id", "tenant_id", "stage", "status",
			"answers", "progress", "created_at", "updated_at", "submitted_at", "completed_at",
		}).AddRow(submissionID, "session-001", "contractor-001", "tenant-001", 1,
			status, []byte(`{}`), 0.0, now, now, nil, nil))

	mock.ExpectQuery(`SELECT document_id, filename`).
		WithArgs(submissionID).
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "filename", "url", "content_type", "size_bytes", "uploaded_at"}))

	mock.ExpectQuery(`SELECT category_code, scope`).
		WithArgs(submissionID).
		WillReturnRows(sqlmock.NewRows([]string{"category_code", "scope", "weight", "level", "ai_suggested_level", "ai_reasoning", "scored_by", "scored_at"}))
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_UploadsAttachment(t *testing.T) {
	blob := &fakeBlobStore{url: "https://files.compliance.example/sub-001/doc_policy"}
	handler, mock, cleanup := newTestHandler(t, blob)
	defer cleanup()

	expectSubmissionLookup(mock, "sub-001", "draft")

	mock.ExpectExec(`INSERT INTO submission_attachments`).
		WithArgs("sub-001", "doc_policy", "safety-policy.pdf", blob.url, "application/pdf", int64(24), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	output, err := handler.Execute(context.Background(), createTestInput())

	assert.NoError(t, err)
	assert.Equal(t, "sub-001", output.SubmissionID)
	assert.Equal(t, "doc_policy", output.DocumentID)
	assert.Equal(t, blob.url, output.URL)
	assert.Equal(t, int64(24), output.SizeBytes)
	assert.NotEmpty(t, output.UploadedAt)
	assert.Equal(t, []string{"sub-001/doc_policy"}, blob.puts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Edge Cases
// ==========================

func TestHandler_Execute_UnknownDocumentID(t *testing.T) {
	handler, mock, cleanup := newTestHandler(t, &fakeBlobStore{})
	defer cleanup()

	expectSubmissionLookup(mock, "sub-001", "draft")

	input := createTestInput()
	input.DocumentID = "doc_missing"

	_, err := handler.Execute(context.Background(), input)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "has no document")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_Execute_TerminalSubmission(t *testing.T) {
	blob := &fakeBlobStore{}
	handler, mock, cleanup := newTestHandler(t, blob)
	defer cleanup()

	expectSubmissionLookup(mock, "sub-001", "completed")

	_, err := handler.Execute(context.Background(), createTestInput())

	assert.Error(t, err)
	code, _ := mapError(err)
	assert.Equal(t, "SUBMISSION_NOT_EDITABLE", code)
	assert.Empty(t, blob.puts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_Execute_UnsupportedContentType(t *testing.T) {
	blob := &fakeBlobStore{}
	handler, mock, cleanup := newTestHandler(t, blob)
	defer cleanup()

	expectSubmissionLookup(mock, "sub-001", "draft")

	// The checklist entry restricts doc_policy to PDF.
	input := createTestInput()
	input.ContentType = "image/png"

	_, err := handler.Execute(context.Background(), input)

	assert.Error(t, err)
	code, _ := mapError(err)
	assert.Equal(t, "UNSUPPORTED_FILE_TYPE", code)
	assert.Empty(t, blob.puts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_Execute_FileTooLarge(t *testing.T) {
	blob := &fakeBlobStore{}
	handler, mock, cleanup := newTestHandler(t, blob)
	defer cleanup()

	expectSubmissionLookup(mock, "sub-001", "draft")

	// doc_photo caps uploads at 8 bytes.
	input := createTestInput()
	input.DocumentID = "doc_photo"
	input.ContentType = "image/png"
	input.ContentBase64 = base64.StdEncoding.EncodeToString([]byte("payload beyond the cap"))

	_, err := handler.Execute(context.Background(), input)

	assert.Error(t, err)
	code, _ := mapError(err)
	assert.Equal(t, "FILE_TOO_LARGE", code)
	assert.Empty(t, blob.puts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_Execute_BlobStoreFailure(t *testing.T) {
	blob := &fakeBlobStore{err: assert.AnError}
	handler, mock, cleanup := newTestHandler(t, blob)
	defer cleanup()

	expectSubmissionLookup(mock, "sub-001", "draft")

	_, err := handler.Execute(context.Background(), createTestInput())

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
