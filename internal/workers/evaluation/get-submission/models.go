// internal/workers/evaluation/get-submission/models.go
package getsubmission

import "compliance-workers/internal/evaluation/submission"

type Input struct {
	SubmissionID string `json:"submissionId"`
}

type Output struct {
	Submission   *submission.StageSubmission `json:"submission"`
	PendingEdits int64                       `json:"pendingEdits"`
}
