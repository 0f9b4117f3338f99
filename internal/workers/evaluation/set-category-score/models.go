// internal/workers/evaluation/set-category-score/models.go
package setcategoryscore

type Input struct {
	SubmissionID string `json:"submissionId"`
	CategoryCode string `json:"categoryCode"`
	Level        int    `json:"level"`
	CallerRole   string `json:"callerRole"`
	UserID       string `json:"userId"`
}

type Output struct {
	SubmissionID string `json:"submissionId"`
	CategoryCode string `json:"categoryCode"`
	Level        int    `json:"level"`
	ScoredAt     string `json:"scoredAt"`
	Rescored     bool   `json:"rescored"`
}
