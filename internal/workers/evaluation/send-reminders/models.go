// internal/workers/evaluation/send-reminders/models.go
package sendreminders

type Input struct {
	// TriggeredBy records what fired the sweep (timer, manual), for logging.
	TriggeredBy string `json:"triggeredBy,omitempty"`
}

type Output struct {
	Scanned int    `json:"scanned"`
	Sent    int    `json:"sent"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
	RanAt   string `json:"ranAt"`
}
