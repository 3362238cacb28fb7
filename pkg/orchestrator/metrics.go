package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bughunter_stage_duration_seconds",
			Help:    "Time spent in each controller state",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"state"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bughunter_runs_total",
			Help: "Hunt runs by outcome",
		},
		[]string{"outcome"},
	)
)
