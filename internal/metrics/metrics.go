package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobmate_ingest_runs_total",
			Help: "Total number of ingestion runs by final status",
		},
		[]string{"source", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobmate_ingest_run_duration_seconds",
			Help:    "Duration of complete ingestion runs in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"source"},
	)

	// Record metrics
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobmate_ingest_records_total",
			Help: "Records seen by the pipeline, by outcome",
		},
		[]string{"source", "outcome"},
	)

	// Upstream metrics
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobmate_ingest_fetch_duration_seconds",
			Help:    "Duration of source adapter fetches in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobmate_ingest_fetch_errors_total",
			Help: "Total number of failed source adapter fetches",
		},
		[]string{"source"},
	)

	// Rate limiting metrics
	RateLimitDenied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobmate_ingest_rate_limit_denied_total",
			Help: "Total number of requests rejected by the token bucket",
		},
	)

	RateLimitStoreErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jobmate_ingest_rate_limit_store_errors_total",
			Help: "Bucket store failures (requests are admitted)",
		},
	)

	RateLimitBuckets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobmate_ingest_rate_limit_buckets",
			Help: "Number of token buckets held in process memory",
		},
	)
)

// Record outcomes used as the "outcome" label of RecordsTotal.
const (
	OutcomeFetched   = "fetched"
	OutcomeInvalid   = "invalid"
	OutcomeFiltered  = "filtered"
	OutcomeDuplicate = "duplicate"
	OutcomeCreated   = "created"
	OutcomeExisting  = "existing"
	OutcomeFailed    = "failed"
)
