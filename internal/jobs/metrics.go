package jobs

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// queueDepth is only updated in the worker goroutine, so each shard has a
// single writer.
var (
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ember",
			Subsystem: "jobs",
			Name:      "submissions_total",
			Help:      "Jobs accepted for execution.",
		},
		[]string{"shard"},
	)

	queueFullTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ember",
			Subsystem: "jobs",
			Name:      "queue_full_total",
			Help:      "Enqueue attempts that timed out because the shard queue was full.",
		},
		[]string{"shard"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ember",
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Job attempt latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"shard"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ember",
			Subsystem: "jobs",
			Name:      "queue_depth",
			Help:      "Current depth of each shard queue.",
		},
		[]string{"shard"},
	)

	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ember",
			Subsystem: "jobs",
			Name:      "outcomes_total",
			Help:      "Final job outcomes: succeeded, irrecoverable, exhausted, canceled.",
		},
		[]string{"outcome"},
	)

	retriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ember",
			Subsystem: "jobs",
			Name:      "retries_total",
			Help:      "Job attempts scheduled after a recoverable error.",
		},
	)

	admissionDeniedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ember",
			Subsystem: "jobs",
			Name:      "admission_denied_total",
			Help:      "Submissions refused by the admission check.",
		},
	)

	sweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ember",
			Subsystem: "jobs",
			Name:      "swept_total",
			Help:      "Dispatch rows leased and resubmitted by the sweep.",
		},
	)
)

func labelFor(i int) string { return strconv.Itoa(i) }
