// Package metrics provides Prometheus metrics collection for the gateway.
package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Global metrics stored in atomic pointers for lock-free nil checks on
	// the hot path. Record functions are no-ops before Init runs.
	requestsTotal           atomic.Pointer[prometheus.CounterVec]
	requestDuration         atomic.Pointer[prometheus.HistogramVec]
	authFailuresTotal       atomic.Pointer[prometheus.CounterVec]
	generationAttemptsTotal atomic.Pointer[prometheus.CounterVec]
	workflowJobsTotal       atomic.Pointer[prometheus.CounterVec]
)

// Init registers all gateway metrics with the provided registry.
// This should be called once at application startup.
func Init(reg prometheus.Registerer) error {
	requestsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fictures",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the gateway",
		},
		[]string{"method", "path", "status"},
	)
	if err := reg.Register(requestsTotalVec); err != nil {
		return fmt.Errorf("failed to register requestsTotal: %w", err)
	}

	requestDurationVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fictures",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	if err := reg.Register(requestDurationVec); err != nil {
		return fmt.Errorf("failed to register requestDuration: %w", err)
	}

	authFailuresTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fictures",
			Subsystem: "gateway",
			Name:      "auth_failures_total",
			Help:      "Total number of authentication and authorization failures",
		},
		[]string{"reason"},
	)
	if err := reg.Register(authFailuresTotalVec); err != nil {
		return fmt.Errorf("failed to register authFailuresTotal: %w", err)
	}

	generationAttemptsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fictures",
			Subsystem: "gateway",
			Name:      "generation_attempts_total",
			Help:      "Engine calls made by the structured-output retry controller",
		},
		[]string{"constraint"},
	)
	if err := reg.Register(generationAttemptsTotalVec); err != nil {
		return fmt.Errorf("failed to register generationAttemptsTotal: %w", err)
	}

	workflowJobsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fictures",
			Subsystem: "gateway",
			Name:      "workflow_jobs_total",
			Help:      "Image workflow jobs by final outcome (completed, timeout, failed, no_artifact)",
		},
		[]string{"outcome"},
	)
	if err := reg.Register(workflowJobsTotalVec); err != nil {
		return fmt.Errorf("failed to register workflowJobsTotal: %w", err)
	}

	requestsTotal.Store(requestsTotalVec)
	requestDuration.Store(requestDurationVec)
	authFailuresTotal.Store(authFailuresTotalVec)
	generationAttemptsTotal.Store(generationAttemptsTotalVec)
	workflowJobsTotal.Store(workflowJobsTotalVec)

	return nil
}

// RecordRequest increments the requests counter.
// The path should be normalized to avoid label cardinality explosion.
func RecordRequest(method, path, statusCode string) {
	if counter := requestsTotal.Load(); counter != nil {
		counter.WithLabelValues(method, path, statusCode).Inc()
	}
}

// RecordRequestDuration records request latency in seconds.
func RecordRequestDuration(method, path, statusCode string, durationSeconds float64) {
	if histogram := requestDuration.Load(); histogram != nil {
		histogram.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
	}
}

// RecordAuthFailure increments the auth failures counter.
// Common reasons: "missing_key", "invalid_key", "insufficient_scope".
func RecordAuthFailure(reason string) {
	if counter := authFailuresTotal.Load(); counter != nil {
		counter.WithLabelValues(reason).Inc()
	}
}

// RecordGenerationAttempt counts one engine call made for the given
// constraint kind ("json", "regex", "choice", "grammar", "none").
func RecordGenerationAttempt(constraint string) {
	if counter := generationAttemptsTotal.Load(); counter != nil {
		counter.WithLabelValues(constraint).Inc()
	}
}

// RecordWorkflowJob counts an image workflow job by its final outcome.
func RecordWorkflowJob(outcome string) {
	if counter := workflowJobsTotal.Load(); counter != nil {
		counter.WithLabelValues(outcome).Inc()
	}
}

// Handler returns an HTTP handler for Prometheus metrics in text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
