// internal/workers/evaluation/list-evaluations/models.go
package listevaluations

import "compliance-workers/internal/evaluation/search"

type Input struct {
	TenantID     string `json:"tenantId"`
	Status       string `json:"status,omitempty"`
	ContractorID string `json:"contractorId,omitempty"`
	Stage        int    `json:"stage,omitempty"`
	From         int    `json:"from,omitempty"`
	Size         int    `json:"size,omitempty"`
}

type Output struct {
	Evaluations []search.EvaluationDoc `json:"evaluations"`
	TotalHits   int64                  `json:"totalHits"`
}
