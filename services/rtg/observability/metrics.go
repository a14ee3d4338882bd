// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the report
// pipeline: compile and submit counters, provider latency histograms,
// circuit breaker state and scheduler run counters.
//
// Metrics are exposed via the /metrics endpoint. All operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for report pipeline metrics
const rtgSubsystem = "rtg"

// RTGMetrics holds all Prometheus metrics for the report pipeline.
// Initialize once at startup via InitMetrics.
type RTGMetrics struct {
	// CompilesTotal counts compile operations by status.
	// Labels: status (success, error)
	CompilesTotal *prometheus.CounterVec

	// CompileWarningsTotal counts warnings attached to compiled
	// documents. Labels: code (UNKNOWN_TOKENS, PARTIAL_DATA)
	CompileWarningsTotal *prometheus.CounterVec

	// SubmitsTotal counts submit operations by provider and status.
	// Labels: provider (openai, ollama), status (success, error)
	SubmitsTotal *prometheus.CounterVec

	// SubmitDurationSeconds measures end-to-end submit latency.
	// Labels: provider
	SubmitDurationSeconds *prometheus.HistogramVec

	// CircuitState exposes the breaker state per provider.
	// 0=closed, 1=open, 2=half-open. Labels: provider
	CircuitState *prometheus.GaugeVec

	// ScheduledRunsTotal counts scheduler executions by outcome.
	// Labels: status (success, error, skipped)
	ScheduledRunsTotal *prometheus.CounterVec

	// ReportsPersistedTotal counts generated reports written to the
	// store.
	ReportsPersistedTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance, set by InitMetrics.
var DefaultMetrics *RTGMetrics

// InitMetrics creates and registers all pipeline metrics against the
// default Prometheus registry. Call once at startup; a second call
// panics on duplicate registration.
func InitMetrics() *RTGMetrics {
	DefaultMetrics = &RTGMetrics{
		CompilesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: rtgSubsystem,
				Name:      "compiles_total",
				Help:      "Total template compile operations by status",
			},
			[]string{"status"},
		),

		CompileWarningsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: rtgSubsystem,
				Name:      "compile_warnings_total",
				Help:      "Total compile warnings by code",
			},
			[]string{"code"},
		),

		SubmitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: rtgSubsystem,
				Name:      "submits_total",
				Help:      "Total report submissions by provider and status",
			},
			[]string{"provider", "status"},
		),

		SubmitDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: rtgSubsystem,
				Name:      "submit_duration_seconds",
				Help:      "End-to-end submit latency in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"provider"},
		),

		CircuitState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: rtgSubsystem,
				Name:      "circuit_state",
				Help:      "Circuit breaker state per provider (0=closed, 1=open, 2=half-open)",
			},
			[]string{"provider"},
		),

		ScheduledRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: rtgSubsystem,
				Name:      "scheduled_runs_total",
				Help:      "Total scheduler executions by outcome",
			},
			[]string{"status"},
		),

		ReportsPersistedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: rtgSubsystem,
				Name:      "reports_persisted_total",
				Help:      "Total generated reports persisted to the store",
			},
		),
	}
	return DefaultMetrics
}
