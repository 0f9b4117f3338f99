// internal/workers/evaluation/save-answers/models.go
package saveanswers

import "compliance-workers/internal/evaluation/autosave"

type Input struct {
	SubmissionID string          `json:"submissionId"`
	Edits        []autosave.Edit `json:"edits"`
}

type Output struct {
	SubmissionID string `json:"submissionId"`
	Buffered     int    `json:"buffered"`
	SaveStatus   string `json:"saveStatus"`
}
