// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the sync and ranking engine:
// - Upstream (speedrun.com) request latency and retry pressure
// - Job queue throughput per job type
// - Ranking, obsolescence and ledger activity
// - Streak sweep outcomes
// - Database query performance (DuckDB)

var (
	// Upstream API Metrics
	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Duration of speedrun.com API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	UpstreamRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_request_errors_total",
			Help: "Total number of failed speedrun.com API requests",
		},
		[]string{"endpoint", "status_code"},
	)

	UpstreamThrottleWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "upstream_throttle_waits_total",
			Help: "Total number of 420/503 backoff sleeps against the upstream API",
		},
	)

	UpstreamPagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "upstream_pages_fetched_total",
			Help: "Total number of paginated result pages fetched",
		},
	)

	// Job Queue Metrics
	JobsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_published_total",
			Help: "Total number of jobs published to the queue",
		},
		[]string{"job_type"},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Total number of jobs processed, by outcome",
		},
		[]string{"job_type", "outcome"}, // "ok", "error"
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Job handler duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
		},
		[]string{"job_type"},
	)

	// Ranking Engine Metrics
	RunsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runs_ingested_total",
			Help: "Total number of runs fetched and persisted",
		},
	)

	SlicesReranked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slices_reranked_total",
			Help: "Total number of leaderboard slices re-ranked",
		},
	)

	RunsObsoleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runs_obsoleted_total",
			Help: "Total number of runs flagged obsolete",
		},
	)

	HistoryEntriesOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "history_entries_opened_total",
			Help: "Total number of record-holder ledger periods opened",
		},
	)

	HistoryEntriesClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_entries_closed_total",
			Help: "Total number of ledger periods closed, by reason",
		},
		[]string{"reason"},
	)

	// Streak Sweep Metrics
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streak_sweep_duration_seconds",
			Help:    "Duration of streak anniversary sweeps in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	SweepRecordsChecked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streak_sweep_records_checked_total",
			Help: "Total number of current records examined by sweeps",
		},
	)

	SweepBonusesAwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streak_sweep_bonuses_awarded_total",
			Help: "Total number of streak bonuses awarded",
		},
	)

	SweepLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streak_sweep_last_success_timestamp",
			Help: "Unix timestamp of the last successful streak sweep",
		},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordUpstreamRequest records one completed upstream API call.
func RecordUpstreamRequest(endpoint string, statusCode string, duration time.Duration, err error) {
	UpstreamRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
	if err != nil {
		UpstreamRequestErrors.WithLabelValues(endpoint, statusCode).Inc()
	}
}

// RecordJob records one processed queue job.
func RecordJob(jobType string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	JobsProcessed.WithLabelValues(jobType, outcome).Inc()
	JobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// RecordDBQuery records one database operation.
func RecordDBQuery(operation string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation).Inc()
	}
}

// RecordSweep records one completed streak sweep.
func RecordSweep(duration time.Duration, checked, awarded int, err error) {
	SweepDuration.Observe(duration.Seconds())
	SweepRecordsChecked.Add(float64(checked))
	SweepBonusesAwarded.Add(float64(awarded))
	if err == nil {
		SweepLastSuccess.SetToCurrentTime()
	}
}
