package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Research run metrics
	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_runs_completed_total",
			Help: "Total number of research runs by outcome",
		},
		[]string{"outcome"},
	)

	RunLoops = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_run_loops",
			Help:    "Number of follow-up research loops taken per run",
			Buckets: []float64{0, 1, 2, 3, 5, 8},
		},
	)

	RunConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_run_confidence",
			Help:    "Confidence score of completed research runs",
			Buckets: []float64{0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_run_duration_seconds",
			Help:    "Research run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Backend metrics
	BackendCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_backend_calls_total",
			Help: "Backend calls by backend and final outcome",
		},
		[]string{"backend", "outcome"},
	)

	FailedQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_failed_queries_total",
			Help: "Web research queries that returned no result because the backend failed",
		},
	)

	// Job metrics
	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "research_jobs_active",
			Help: "Research jobs currently running in the background",
		},
	)
)
