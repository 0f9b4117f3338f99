// pkg/registry/schema.go
package registry

// FormRegistry is the versioned definition of the four assessment forms:
// their questions, weighted categories and document checklists.
type FormRegistry struct {
	Version     string            `json:"version"`
	LastUpdated string            `json:"lastUpdated"`
	Stages      []StageDefinition `json:"stages"`
}

type StageDefinition struct {
	Number         int                  `json:"number"`
	FormCode       string               `json:"formCode"`
	DisplayName    string               `json:"displayName"`
	Description    string               `json:"description"`
	AuthoringRole  string               `json:"authoringRole"`
	HasDraftPhase  bool                 `json:"hasDraftPhase"`
	RequiresReview bool                 `json:"requiresReview"`
	CategoryScored bool                 `json:"categoryScored"`
	Questions      []QuestionDefinition `json:"questions"`
	Documents      []DocumentDefinition `json:"documents"`
	Categories     []CategoryDefinition `json:"categories"`
}

type QuestionDefinition struct {
	Code         string                 `json:"code"`
	Category     string                 `json:"category"`
	Text         string                 `json:"text"`
	Type         string                 `json:"type"`
	Required     bool                   `json:"required"`
	AnswerSchema map[string]interface{} `json:"answerSchema,omitempty"`
}

type DocumentDefinition struct {
	ID                  string   `json:"id"`
	DisplayName         string   `json:"displayName"`
	Required            bool     `json:"required"`
	AllowedContentTypes []string `json:"allowedContentTypes,omitempty"`
	MaxSizeBytes        int64    `json:"maxSizeBytes,omitempty"`
}

// CategoryDefinition is one weighted capability grouping (K2 metric).
// Weights for a stage sum to 100.
type CategoryDefinition struct {
	Code   string  `json:"code"`
	Scope  string  `json:"scope"`
	Weight float64 `json:"weight"`
}
