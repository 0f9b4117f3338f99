// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Evaluation pipeline error codes.
const (
	ErrCodeValidationFailed      ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidTransition     ErrorCode = "INVALID_TRANSITION"
	ErrCodeIncompleteScoring     ErrorCode = "INCOMPLETE_SCORING"
	ErrCodeScoreIncomplete       ErrorCode = "SCORE_INCOMPLETE"
	ErrCodeInvalidScoreLevel     ErrorCode = "INVALID_SCORE_LEVEL"
	ErrCodeFileTooLarge          ErrorCode = "FILE_TOO_LARGE"
	ErrCodeUnsupportedFileType   ErrorCode = "UNSUPPORTED_FILE_TYPE"
	ErrCodeSubmissionNotEditable ErrorCode = "SUBMISSION_NOT_EDITABLE"
	ErrCodeEmptyContractorSet    ErrorCode = "EMPTY_CONTRACTOR_SET"
	ErrCodeMissingTenant         ErrorCode = "MISSING_TENANT"
	ErrCodeRoleNotAllowed        ErrorCode = "ROLE_NOT_ALLOWED"
	ErrCodeSubmissionNotFound    ErrorCode = "SUBMISSION_NOT_FOUND"
	ErrCodeSessionNotFound       ErrorCode = "SESSION_NOT_FOUND"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeQueryTimeout             ErrorCode = "QUERY_TIMEOUT"

	ErrCodeSearchQueryFailed ErrorCode = "SEARCH_QUERY_FAILED"
	ErrCodeIndexNotFound     ErrorCode = "INDEX_NOT_FOUND"

	ErrCodeBlobStoreFailed        ErrorCode = "BLOB_STORE_FAILED"
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeSuggestionFetchFailed  ErrorCode = "SUGGESTION_FETCH_FAILED"
	ErrCodeSuggestionTimeout      ErrorCode = "SUGGESTION_TIMEOUT"

	ErrCodeExternalServiceError   ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeExternalServiceTimeout ErrorCode = "EXTERNAL_SERVICE_TIMEOUT"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	if e.ErrorVariables != nil {
		for k, v := range e.ErrorVariables {
			vars[k] = v
		}
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewValidationFailedError carries the missing question codes and document ids
// so the authoring user sees exactly what blocks the submit.
func NewValidationFailedError(missingQuestions, missingDocuments []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Submission does not satisfy required questions or documents",
		Details:   fmt.Sprintf("missingQuestions: %v, missingDocuments: %v", missingQuestions, missingDocuments),
		Retryable: false,
		Metadata: map[string]interface{}{
			"missingQuestions": missingQuestions,
			"missingDocuments": missingDocuments,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTransitionError creates a non-retryable lifecycle error.
func NewInvalidTransitionError(from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   "Submission state transition not allowed",
		Details:   fmt.Sprintf("from: %s, to: %s", from, to),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewIncompleteScoringError creates a non-retryable review gate error.
func NewIncompleteScoringError(unscored []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeIncompleteScoring,
		Message:   "Review cannot complete while categories remain unscored",
		Details:   fmt.Sprintf("unscoredCategories: %v", unscored),
		Retryable: false,
		Metadata:  map[string]interface{}{"unscoredCategories": unscored},
		Timestamp: time.Now().UTC(),
	}
}

// NewScoreIncompleteError signals that a contributing stage lacks scored categories.
func NewScoreIncompleteError(stage int, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeScoreIncomplete,
		Message:   "Final score requires every contributing stage to be fully scored",
		Details:   fmt.Sprintf("stage: %d, %s", stage, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidScoreLevelError rejects a level outside the discrete scale.
func NewInvalidScoreLevelError(level int) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidScoreLevel,
		Message:   "Score level must be one of 0, 3, 6, 10",
		Details:   fmt.Sprintf("level: %d", level),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewFileTooLargeError rejects an upload exceeding the policy ceiling.
func NewFileTooLargeError(documentID string, size, limit int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeFileTooLarge,
		Message:   "Attachment exceeds the configured size limit",
		Details:   fmt.Sprintf("documentId: %s, size: %d, limit: %d", documentID, size, limit),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnsupportedFileTypeError rejects an upload with a disallowed content type.
func NewUnsupportedFileTypeError(documentID, contentType string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnsupportedFileType,
		Message:   "Attachment content type is not allowed for this document",
		Details:   fmt.Sprintf("documentId: %s, contentType: %s", documentID, contentType),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSubmissionNotEditableError rejects edits to a non-draft submission.
func NewSubmissionNotEditableError(submissionID, status string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSubmissionNotEditable,
		Message:   "Submission is no longer editable",
		Details:   fmt.Sprintf("submissionId: %s, status: %s", submissionID, status),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewEmptyContractorSetError rejects session creation with no contractors.
func NewEmptyContractorSetError() *StandardError {
	return &StandardError{
		Code:      ErrCodeEmptyContractorSet,
		Message:   "Session requires at least one contractor",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMissingTenantError rejects session creation without a tenant binding.
func NewMissingTenantError() *StandardError {
	return &StandardError{
		Code:      ErrCodeMissingTenant,
		Message:   "Tenant identifier is required",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRoleNotAllowedError rejects an operation issued by the wrong role.
func NewRoleNotAllowedError(required, actual string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRoleNotAllowed,
		Message:   "Caller role is not allowed to perform this operation",
		Details:   fmt.Sprintf("required: %s, actual: %s", required, actual),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSubmissionNotFoundError creates a non-retryable lookup error.
func NewSubmissionNotFoundError(submissionID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSubmissionNotFound,
		Message:   "Stage submission not found",
		Details:   fmt.Sprintf("submissionId: %s", submissionID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionNotFoundError creates a non-retryable lookup error.
func NewSessionNotFoundError(sessionID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionNotFound,
		Message:   "Evaluation session not found",
		Details:   fmt.Sprintf("sessionId: %s", sessionID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryTimeoutError creates a retryable query timeout error.
func NewQueryTimeoutError(operation string) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryTimeout,
		Message:   "Database query timeout",
		Details:   fmt.Sprintf("operation: %s", operation),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSearchQueryFailedError creates a retryable search query error.
func NewSearchQueryFailedError(index string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchQueryFailed,
		Message:   "Evaluation index query error",
		Details:   fmt.Sprintf("index: %s, error: %s", index, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewBlobStoreFailedError creates a retryable blob store error.
func NewBlobStoreFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeBlobStoreFailed,
		Message:   "Blob store operation failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendFailedError creates a retryable notification send error.
func NewNotificationSendFailedError(notificationType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("type: %s, error: %s", notificationType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSuggestionFetchFailedError creates a retryable AI suggestion error.
func NewSuggestionFetchFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSuggestionFetchFailed,
		Message:   "AI suggestion service error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSuggestionTimeoutError creates a retryable AI suggestion timeout error.
func NewSuggestionTimeoutError() *StandardError {
	return &StandardError{
		Code:      ErrCodeSuggestionTimeout,
		Message:   "AI suggestion service timeout",
		Details:   "suggestion call exceeded timeout threshold",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewExternalServiceError creates a retryable error for a failing upstream service.
func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExternalServiceError,
		Message:   fmt.Sprintf("External service error: %s", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewTimeoutError creates a retryable timeout error for an upstream service.
func NewTimeoutError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExternalServiceTimeout,
		Message:   fmt.Sprintf("External service timeout: %s", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes (same as internal).
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeValidationFailed:         "VALIDATION_FAILED",
	ErrCodeInvalidTransition:        "INVALID_TRANSITION",
	ErrCodeIncompleteScoring:        "INCOMPLETE_SCORING",
	ErrCodeScoreIncomplete:          "SCORE_INCOMPLETE",
	ErrCodeInvalidScoreLevel:        "INVALID_SCORE_LEVEL",
	ErrCodeFileTooLarge:             "FILE_TOO_LARGE",
	ErrCodeUnsupportedFileType:      "UNSUPPORTED_FILE_TYPE",
	ErrCodeSubmissionNotEditable:    "SUBMISSION_NOT_EDITABLE",
	ErrCodeEmptyContractorSet:       "EMPTY_CONTRACTOR_SET",
	ErrCodeMissingTenant:            "MISSING_TENANT",
	ErrCodeRoleNotAllowed:           "ROLE_NOT_ALLOWED",
	ErrCodeSubmissionNotFound:       "SUBMISSION_NOT_FOUND",
	ErrCodeSessionNotFound:          "SESSION_NOT_FOUND",
	ErrCodeDatabaseConnectionFailed: "DATABASE_CONNECTION_FAILED",
	ErrCodeQueryExecutionFailed:     "QUERY_EXECUTION_FAILED",
	ErrCodeQueryTimeout:             "QUERY_TIMEOUT",
	ErrCodeSearchQueryFailed:        "SEARCH_QUERY_FAILED",
	ErrCodeIndexNotFound:            "INDEX_NOT_FOUND",
	ErrCodeBlobStoreFailed:          "BLOB_STORE_FAILED",
	ErrCodeNotificationSendFailed:   "NOTIFICATION_SEND_FAILED",
	ErrCodeSuggestionFetchFailed:    "SUGGESTION_FETCH_FAILED",
	ErrCodeSuggestionTimeout:        "SUGGESTION_TIMEOUT",
	ErrCodeExternalServiceError:     "EXTERNAL_SERVICE_ERROR",
	ErrCodeExternalServiceTimeout:   "EXTERNAL_SERVICE_TIMEOUT",
}

// GetRetryCount returns the recommended retry count per error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeSearchQueryFailed,
		ErrCodeBlobStoreFailed,
		ErrCodeNotificationSendFailed,
		ErrCodeSuggestionFetchFailed,
		ErrCodeExternalServiceError:
		return 3 // Retryable technical errors

	case ErrCodeQueryTimeout,
		ErrCodeSuggestionTimeout,
		ErrCodeExternalServiceTimeout:
		return 2 // Partial retry for timeouts

	default:
		return 0 // Business errors: no retry
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code) // Fallback
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "TRANSITION") || strings.Contains(codeStr, "SCORING") || strings.Contains(codeStr, "SCORE"):
		return "LIFECYCLE/SCORING"
	case strings.Contains(codeStr, "FILE") || strings.Contains(codeStr, "BLOB"):
		return "ATTACHMENT"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	case strings.Contains(codeStr, "SEARCH") || strings.Contains(codeStr, "INDEX"):
		return "SEARCH"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "SUGGESTION"):
		return "AI"
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "MISSING") || strings.Contains(codeStr, "EMPTY") || strings.Contains(codeStr, "ROLE"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
