// internal/workers/evaluation/suggest-scores/models.go
package suggestscores

import "compliance-workers/internal/evaluation/scoring"

type Input struct {
	SubmissionID string `json:"submissionId"`
}

type Output struct {
	SubmissionID string               `json:"submissionId"`
	Suggestions  []scoring.Suggestion `json:"suggestions"`
	Summary      string               `json:"summary,omitempty"`
	Applied      int                  `json:"applied"`
}
