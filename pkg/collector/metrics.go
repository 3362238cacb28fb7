package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	remoteCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bughunter_remote_commands_total",
			Help: "Remote commands run by the collector",
		},
		[]string{"op", "outcome"}, // op: truncate, version; outcome: ok, nonzero, error
	)

	filesCollectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bughunter_files_collected_total",
			Help: "Files fetched from remote hosts",
		},
		[]string{"outcome"},
	)

	hostCollectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bughunter_host_collection_duration_seconds",
			Help:    "Time taken by one host's truncate, collect and version sequence",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"status"},
	)
)
