package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	prepareTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diffstudio",
			Subsystem: "cache",
			Name:      "prepare_total",
			Help:      "Prepare calls by outcome (hit, miss, unsupported, error).",
		},
		[]string{"family", "result"},
	)
	buildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diffstudio",
			Subsystem: "cache",
			Name:      "build_duration_seconds",
			Help:      "Pipeline construction time per bucket.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"family", "bucket"},
	)
	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diffstudio",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Slot evictions by reason (switch, budget, flush, invalidate).",
		},
		[]string{"family", "bucket", "reason"},
	)
	queueWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diffstudio",
			Subsystem: "admission",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for the generation slot.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"family"},
	)
)

func init() {
	prometheus.MustRegister(prepareTotal, buildDuration, evictionsTotal, queueWait)
}
