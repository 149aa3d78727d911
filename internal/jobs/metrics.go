package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bosun",
			Name:      "pass_duration_seconds",
			Help:      "Scheduler pass wall time",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	passClientFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bosun",
			Name:      "pass_client_failures_total",
			Help:      "Clients whose scheduler pass aborted with an error",
		},
		[]string{"mode"},
	)

	entriesPlannedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bosun",
			Name:      "entries_planned_total",
			Help:      "Draft schedule entries created by scheduler passes",
		},
		[]string{"channel"},
	)
)
