package correlator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	filesScannedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bughunter_correlator_files_total",
			Help: "Log files considered by the correlator, by outcome",
		},
		[]string{"outcome"},
	)

	eventsExtractedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bughunter_correlator_events_total",
			Help: "Marker lines written to timelines",
		},
	)
)
