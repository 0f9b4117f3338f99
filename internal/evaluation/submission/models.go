// Package submission holds the durable stage-submission record and its
// lifecycle state machine.
package submission

import "time"

// Status is the lifecycle state of a stage submission.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusSubmitted   Status = "submitted"
	StatusUnderReview Status = "under_review"
	StatusCompleted   Status = "completed"
)

// IsTerminal reports whether the status is terminal for the stage.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted
}

// Attachment is one uploaded document bound to a checklist entry.
// Re-uploading to the same document id replaces the prior record.
type Attachment struct {
	DocumentID  string    `json:"documentId"`
	Filename    string    `json:"filename"`
	URL         string    `json:"url"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// CategoryScore is one weighted K2 category on a scoring stage. Level is nil
// until a human selects one of the discrete values. AI fields are advisory.
type CategoryScore struct {
	CategoryCode     string     `json:"categoryCode"`
	Scope            string     `json:"scope"`
	Weight           float64    `json:"weight"`
	Level            *int       `json:"level,omitempty"`
	AISuggestedLevel *int       `json:"aiSuggestedLevel,omitempty"`
	AIReasoning      string     `json:"aiReasoning,omitempty"`
	ScoredBy         string     `json:"scoredBy,omitempty"`
	ScoredAt         *time.Time `json:"scoredAt,omitempty"`
}

// StageSubmission is one instance of one stage for one contractor within a
// session. It is never deleted, only advanced to completed or left abandoned.
type StageSubmission struct {
	ID             string                 `json:"id"`
	SessionID      string                 `json:"sessionId"`
	ContractorID   string                 `json:"contractorId"`
	TenantID       string                 `json:"tenantId"`
	Stage          int                    `json:"stage"`
	Status         Status                 `json:"status"`
	Answers        map[string]interface{} `json:"answers"`
	Attachments    []Attachment           `json:"attachments"`
	CategoryScores []CategoryScore        `json:"categoryScores"`
	Progress       float64                `json:"progress"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
	SubmittedAt    *time.Time             `json:"submittedAt,omitempty"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty"`
}

// AttachmentByDocumentID returns the attachment for a checklist entry, if any.
func (s *StageSubmission) AttachmentByDocumentID(documentID string) *Attachment {
	for i := range s.Attachments {
		if s.Attachments[i].DocumentID == documentID {
			return &s.Attachments[i]
		}
	}
	return nil
}

// UnscoredCategories returns the codes of categories without a human level.
func (s *StageSubmission) UnscoredCategories() []string {
	var unscored []string
	for _, cs := range s.CategoryScores {
		if cs.Level == nil {
			unscored = append(unscored, cs.CategoryCode)
		}
	}
	return unscored
}
