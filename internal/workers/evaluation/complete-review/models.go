// internal/workers/evaluation/complete-review/models.go
package completereview

type Input struct {
	SubmissionID string `json:"submissionId"`
	CallerRole   string `json:"callerRole"`
}

type Output struct {
	SubmissionID string `json:"submissionId"`
	Stage        int    `json:"stage"`
	Status       string `json:"status"`
	CompletedAt  string `json:"completedAt"`
}
