package capture

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ember",
			Subsystem: "capture",
			Name:      "submitted_total",
			Help:      "Captures accepted, by input method.",
		},
		[]string{"input_method"},
	)

	finishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ember",
			Subsystem: "capture",
			Name:      "finished_total",
			Help:      "Captures leaving processing, by resulting status.",
		},
		[]string{"status"},
	)

	memoriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ember",
			Subsystem: "capture",
			Name:      "memories_total",
			Help:      "Extracted candidates by dedup outcome.",
		},
		[]string{"outcome"},
	)
)
