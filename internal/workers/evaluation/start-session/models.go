// internal/workers/evaluation/start-session/models.go
package startsession

import "compliance-workers/internal/evaluation/session"

type Input struct {
	TenantID      string   `json:"tenantId"`
	ContractorIDs []string `json:"contractorIds"`
	Cycle         int      `json:"cycle,omitempty"`
	CustomMessage string   `json:"customMessage,omitempty"`
}

type Output struct {
	SessionID string                      `json:"sessionId"`
	Cycle     int                         `json:"cycle"`
	Outcomes  []session.ContractorOutcome `json:"outcomes"`
	CreatedAt string                      `json:"createdAt"` // ISO 8601
}
