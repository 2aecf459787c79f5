// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine runs the HRV session pipeline: validation, metric
// computation, event-group allocation via the store, and baseline
// analytics.
//
// # Description
//
// Engine is the one place the pipeline stages are ordered. Handlers call
// it and translate its errors to HTTP; storage backends plug in behind
// the storage.Store interface.
//
// # Thread Safety
//
// Safe for concurrent use once constructed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hrvbrain/hrvbrain/services/hrv/analytics"
	"github.com/hrvbrain/hrvbrain/services/hrv/allocator"
	"github.com/hrvbrain/hrvbrain/services/hrv/datatypes"
	"github.com/hrvbrain/hrvbrain/services/hrv/hrvmath"
	"github.com/hrvbrain/hrvbrain/services/hrv/observability"
	"github.com/hrvbrain/hrvbrain/services/hrv/storage"
	"github.com/hrvbrain/hrvbrain/services/hrv/validation"
)

var tracer = otel.Tracer("hrvbrain.engine")

// ValidationError carries the full validation report for a rejected
// submission so the handler can return every finding at once.
type ValidationError struct {
	Report *validation.Report
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("submission rejected with %d validation errors", len(e.Report.Errors))
}

// SubmitResult is the outcome of one submission.
//
// Created and Duplicate are mutually exclusive. On a duplicate the
// Session is the originally stored record and Report is nil: resubmitted
// payloads are not re-validated.
type SubmitResult struct {
	Session   *datatypes.Session
	Created   bool
	Duplicate bool
	Report    *validation.Report
}

// Engine wires the pipeline stages together over one storage backend.
type Engine struct {
	store     storage.Store
	validator *validation.Validator
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// New builds an Engine. A nil logger falls back to slog.Default(); a nil
// metrics instance gets a private registry so tests need no global state.
func New(store storage.Store, v *validation.Validator, m *observability.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = observability.New(prometheus.NewRegistry())
	}
	return &Engine{
		store:     store,
		validator: v,
		metrics:   m,
		logger:    logger,
	}
}

// Submit runs one payload through the full pipeline.
//
// Order matters: the duplicate check runs before validation, so a
// resubmission of an already-stored session succeeds even if the rules
// have tightened since it was first accepted. Metric computation happens
// before the insert so the stored record is complete on commit.
func (e *Engine) Submit(ctx context.Context, userID string, payload datatypes.SubmitPayload) (*SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "engine.Submit",
		trace.WithAttributes(
			attribute.String("hrv.user_id", userID),
			attribute.String("hrv.tag", payload.Tag),
		),
	)
	defer span.End()

	e.metrics.SubmissionStarted()
	defer e.metrics.SubmissionEnded()
	start := time.Now()

	if payload.SessionID != "" {
		existing, err := e.store.GetSession(ctx, userID, payload.SessionID)
		if err == nil {
			e.metrics.RecordSubmission(payload.Tag, observability.OutcomeDuplicate, time.Since(start).Seconds())
			e.logger.Info("duplicate submission",
				slog.String("user_id", userID),
				slog.String("session_id", payload.SessionID),
			)
			return &SubmitResult{Session: existing, Duplicate: true}, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "duplicate lookup failed")
			e.metrics.RecordSubmission(payload.Tag, observability.OutcomeError, time.Since(start).Seconds())
			return nil, fmt.Errorf("duplicate lookup: %w", err)
		}
	}

	sess, report := e.validator.Validate(payload)
	if !report.Valid {
		e.recordRejection(payload.Tag, report, start)
		return nil, &ValidationError{Report: report}
	}

	sess.UserID = userID
	if sess.SessionID == "" {
		sess.SessionID = uuid.NewString()
	}

	sess.Metrics = hrvmath.Compute(sess.RRIntervals)
	if issues := validation.CheckMetricRanges(sess.Metrics); len(issues) > 0 {
		report.Errors = append(report.Errors, issues...)
		report.Valid = false
		e.recordRejection(payload.Tag, report, start)
		return nil, &ValidationError{Report: report}
	}

	now := time.Now().UTC()
	sess.Status = datatypes.StatusProcessed
	sess.CreatedAt = now
	sess.ProcessedAt = &now

	stored, created, err := e.store.InsertSession(ctx, sess)
	if err != nil {
		span.RecordError(err)
		if reason, conflict := conflictReason(err); conflict {
			span.SetStatus(codes.Error, "allocation conflict")
			e.metrics.RecordAllocationConflict(reason)
			e.metrics.RecordSubmission(payload.Tag, observability.OutcomeConflict, time.Since(start).Seconds())
			e.logger.Warn("allocation conflict",
				slog.String("user_id", userID),
				slog.String("subtag", payload.Subtag),
				slog.String("reason", reason),
			)
			return nil, err
		}
		span.SetStatus(codes.Error, "insert failed")
		e.metrics.RecordSubmission(payload.Tag, observability.OutcomeError, time.Since(start).Seconds())
		return nil, fmt.Errorf("insert session: %w", err)
	}
	if !created {
		// Lost a race with a concurrent identical submission.
		e.metrics.RecordSubmission(payload.Tag, observability.OutcomeDuplicate, time.Since(start).Seconds())
		return &SubmitResult{Session: stored, Duplicate: true}, nil
	}

	e.metrics.RecordSubmission(payload.Tag, observability.OutcomeCreated, time.Since(start).Seconds())
	e.logger.Info("session stored",
		slog.String("user_id", userID),
		slog.String("session_id", stored.SessionID),
		slog.String("subtag", stored.Subtag),
		slog.Int64("group_id", stored.GroupID),
		slog.Int("warnings", len(report.Warnings)),
	)
	return &SubmitResult{Session: stored, Created: true, Report: report}, nil
}

func (e *Engine) recordRejection(tag string, report *validation.Report, start time.Time) {
	issueCodes := make([]string, len(report.Errors))
	for i, issue := range report.Errors {
		issueCodes[i] = issue.Code
	}
	e.metrics.RecordValidationFailure(issueCodes...)
	e.metrics.RecordSubmission(tag, observability.OutcomeRejected, time.Since(start).Seconds())
}

// conflictReason maps allocator sentinels to a metrics label.
func conflictReason(err error) (string, bool) {
	switch {
	case errors.Is(err, allocator.ErrIntervalTaken):
		return "interval_taken", true
	case errors.Is(err, allocator.ErrOutOfOrderInterval):
		return "out_of_order_interval", true
	case errors.Is(err, allocator.ErrNoOpenGroup):
		return "no_open_group", true
	}
	return "", false
}

// Get returns one stored session.
func (e *Engine) Get(ctx context.Context, userID, sessionID string) (*datatypes.Session, error) {
	return e.store.GetSession(ctx, userID, sessionID)
}

// List returns the user's sessions, chronological, optionally filtered
// and paginated.
func (e *Engine) List(ctx context.Context, userID string, q storage.ListQuery) ([]datatypes.Session, error) {
	return e.store.ListSessions(ctx, userID, q)
}

// Delete removes a session. For C sessions the slot is freed but group
// numbering never rewinds.
func (e *Engine) Delete(ctx context.Context, userID, sessionID string) error {
	return e.store.DeleteSession(ctx, userID, sessionID)
}

// Stats returns per-tag counts for the user.
func (e *Engine) Stats(ctx context.Context, userID string) (*datatypes.UserStats, error) {
	return e.store.UserStats(ctx, userID)
}

// Baseline loads the user's processed history for the requested tag and
// computes the baseline report.
func (e *Engine) Baseline(ctx context.Context, userID string, p analytics.Params) (*analytics.Report, error) {
	ctx, span := tracer.Start(ctx, "engine.Baseline",
		trace.WithAttributes(
			attribute.String("hrv.user_id", userID),
			attribute.String("hrv.tag", string(p.Tag)),
		),
	)
	defer span.End()
	start := time.Now()

	p = p.Normalized()
	sessions, err := e.store.SessionsForAnalytics(ctx, userID, p.Tag)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history load failed")
		e.metrics.RecordBaseline(string(p.Tag), false, time.Since(start).Seconds())
		return nil, fmt.Errorf("load history: %w", err)
	}

	report, err := analytics.Compute(ctx, userID, sessions, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "baseline computation failed")
		e.metrics.RecordBaseline(string(p.Tag), false, time.Since(start).Seconds())
		return nil, err
	}

	span.SetAttributes(attribute.Int("hrv.sessions", report.TotalSessions))
	e.metrics.RecordBaseline(string(p.Tag), true, time.Since(start).Seconds())
	return report, nil
}

// Ready reports whether the storage backend is reachable.
func (e *Engine) Ready(ctx context.Context) error {
	return e.store.Ping(ctx)
}
