// internal/workers/evaluation/submit-stage/models.go
package submitstage

type Input struct {
	SubmissionID string `json:"submissionId"`
	CallerRole   string `json:"callerRole"`
}

type Output struct {
	SubmissionID string `json:"submissionId"`
	Stage        int    `json:"stage"`
	Status       string `json:"status"`
	SubmittedAt  string `json:"submittedAt,omitempty"`
	CompletedAt  string `json:"completedAt,omitempty"`
}
