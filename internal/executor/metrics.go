package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesCommittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bosun",
			Name:      "entries_committed_total",
			Help:      "Schedule entries moved to a commit outcome",
		},
		[]string{"status"},
	)

	channelFatigueGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bosun",
			Name:      "channel_fatigue",
			Help:      "Fatigue score per client channel after the latest commit",
		},
		[]string{"client_id", "channel"},
	)
)
