// internal/common/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	ResolutionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_resolution_decisions_total",
			Help: "Resolved messages by decided action",
		},
		[]string{"action"},
	)

	ResolutionMatchTiers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_resolution_match_tier_total",
			Help: "Extracted products by catalog match tier",
		},
		[]string{"tier"},
	)

	OracleFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_resolution_oracle_fallback_total",
			Help: "Messages resolved without a usable oracle answer, by reason",
		},
		[]string{"reason"},
	)

	ResolutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "order_resolution_duration_seconds",
			Help:    "Time spent resolving one message, excluding lock wait and commit",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	LockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conversation_lock_wait_seconds",
			Help:    "Time spent waiting for the per-conversation lock",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10},
		},
	)

	OrderCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_commits_total",
			Help: "Order commits by action and outcome",
		},
		[]string{"action", "outcome"},
	)
)

// ObserveJob records the outcome of one job. An empty errorCode means success.
func ObserveJob(taskType, errorCode string, started time.Time) {
	WorkerJobDuration.WithLabelValues(taskType).Observe(time.Since(started).Seconds())
	if errorCode == "" {
		WorkerJobsCompleted.WithLabelValues(taskType).Inc()
		return
	}
	WorkerJobsFailed.WithLabelValues(taskType, errorCode).Inc()
}

// ObserveResolution records one resolved message.
func ObserveResolution(action, fallback string, tiers []string, d time.Duration) {
	ResolutionDecisions.WithLabelValues(action).Inc()
	for _, t := range tiers {
		ResolutionMatchTiers.WithLabelValues(t).Inc()
	}
	if fallback != "" {
		OracleFallbacks.WithLabelValues(fallback).Inc()
	}
	ResolutionDuration.Observe(d.Seconds())
}
