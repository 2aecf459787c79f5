// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the HRV engine.
//
// # Description
//
// Counters and histograms covering the ingestion path (submissions by tag
// and outcome, validation failures by code, allocation conflicts) and the
// analytics path (baseline requests and their latency). Metrics are
// exposed on /metrics; scrape with Prometheus.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace  = "hrvbrain"
	sessionsSubsystem = "sessions"
	baselineSubsystem = "baseline"
)

// Outcome labels a finished submission for the submissions_total counter.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeConflict  Outcome = "conflict"
	OutcomeError     Outcome = "error"
)

// Metrics holds all Prometheus metrics for the HRV service.
//
// # Fields
//
//   - SubmissionsTotal: submissions by tag and outcome
//   - ValidationFailuresTotal: rejected submissions by issue code
//   - AllocationConflictsTotal: event-group conflicts by reason
//   - ProcessingDurationSeconds: end-to-end submission latency by tag
//   - BaselineRequestsTotal: baseline reports by tag and status
//   - BaselineDurationSeconds: baseline computation latency
//   - SessionsInFlight: submissions currently being processed
type Metrics struct {
	SubmissionsTotal          *prometheus.CounterVec
	ValidationFailuresTotal   *prometheus.CounterVec
	AllocationConflictsTotal  *prometheus.CounterVec
	ProcessingDurationSeconds *prometheus.HistogramVec
	BaselineRequestsTotal     *prometheus.CounterVec
	BaselineDurationSeconds   prometheus.Histogram
	SessionsInFlight          prometheus.Gauge
}

// New creates and registers all metrics on reg. Pass
// prometheus.DefaultRegisterer in production; tests use their own
// registry so parallel packages never collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionsSubsystem,
				Name:      "submissions_total",
				Help:      "Session submissions by tag and outcome",
			},
			[]string{"tag", "outcome"},
		),

		ValidationFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionsSubsystem,
				Name:      "validation_failures_total",
				Help:      "Rejected submissions by validation issue code",
			},
			[]string{"code"},
		),

		AllocationConflictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionsSubsystem,
				Name:      "allocation_conflicts_total",
				Help:      "Event-group allocation conflicts by reason",
			},
			[]string{"reason"},
		),

		ProcessingDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionsSubsystem,
				Name:      "processing_duration_seconds",
				Help:      "End-to-end submission processing latency by tag",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"tag"},
		),

		BaselineRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: baselineSubsystem,
				Name:      "requests_total",
				Help:      "Baseline report requests by tag and status",
			},
			[]string{"tag", "status"},
		),

		BaselineDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: baselineSubsystem,
				Name:      "duration_seconds",
				Help:      "Baseline computation latency",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),

		SessionsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: sessionsSubsystem,
				Name:      "in_flight",
				Help:      "Submissions currently being processed",
			},
		),
	}
}

// Default is the instance registered on the global registry.
// Initialized by Init().
var Default *Metrics

// Init registers the default metrics instance. Call once at startup;
// a second call panics on duplicate registration.
func Init() *Metrics {
	Default = New(prometheus.DefaultRegisterer)
	return Default
}

// RecordSubmission records one finished submission.
func (m *Metrics) RecordSubmission(tag string, outcome Outcome, seconds float64) {
	m.SubmissionsTotal.WithLabelValues(tag, string(outcome)).Inc()
	m.ProcessingDurationSeconds.WithLabelValues(tag).Observe(seconds)
}

// RecordValidationFailure records each issue code on a rejected
// submission.
func (m *Metrics) RecordValidationFailure(codes ...string) {
	for _, code := range codes {
		m.ValidationFailuresTotal.WithLabelValues(code).Inc()
	}
}

// RecordAllocationConflict records a refused event-group continuation.
func (m *Metrics) RecordAllocationConflict(reason string) {
	m.AllocationConflictsTotal.WithLabelValues(reason).Inc()
}

// RecordBaseline records one baseline report request.
func (m *Metrics) RecordBaseline(tag string, success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	m.BaselineRequestsTotal.WithLabelValues(tag, status).Inc()
	m.BaselineDurationSeconds.Observe(seconds)
}

// SubmissionStarted increments the in-flight gauge.
func (m *Metrics) SubmissionStarted() { m.SessionsInFlight.Inc() }

// SubmissionEnded decrements the in-flight gauge.
func (m *Metrics) SubmissionEnded() { m.SessionsInFlight.Dec() }
