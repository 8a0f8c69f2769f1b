package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	compilesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "microd",
			Subsystem: "pipeline",
			Name:      "compiles_total",
			Help:      "Total code generations performed",
		},
	)

	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "microd",
			Subsystem: "pipeline",
			Name:      "cache_hits_total",
			Help:      "Total artifact cache hits",
		},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "microd",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total device runs by outcome",
		},
		[]string{"outcome"},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "microd",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Device run duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(compilesTotal, cacheHitsTotal, runsTotal, runDuration)
}
