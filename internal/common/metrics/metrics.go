// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluation_stage_transitions_total",
			Help: "Total number of stage submission transitions",
		},
		[]string{"stage", "to_status"},
	)

	AutosaveFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluation_autosave_flushes_total",
			Help: "Total number of autosave buffer flushes",
		},
		[]string{"trigger"},
	)

	FinalScoresComputed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluation_final_scores_total",
			Help: "Total number of final compliance scores computed",
		},
		[]string{"risk"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluation_notifications_sent_total",
			Help: "Total number of notifications dispatched",
		},
		[]string{"template", "channel", "status"},
	)
)
