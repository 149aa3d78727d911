package decisionlog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bosun",
			Name:      "decisions_recorded_total",
			Help:      "Total decision actions appended to the audit trail",
		},
		[]string{"action_type"},
	)

	decisionsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bosun",
			Name:      "decisions_dropped_total",
			Help:      "Decision actions that could not be persisted",
		},
	)

	decisionPublishFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bosun",
			Name:      "decision_publish_failures_total",
			Help:      "Decision events that failed to publish to the firehose",
		},
	)
)
