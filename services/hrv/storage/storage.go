// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage defines the session store contract shared by the
// embedded and relational backends.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/hrvbrain/hrvbrain/services/hrv/datatypes"
)

var (
	// ErrNotFound is returned for lookups of sessions that were never
	// stored (or were deleted).
	ErrNotFound = errors.New("session not found")

	// ErrInvariantViolation marks a record that failed the storage
	// boundary re-checks. This is an internal fault, not a user error:
	// validated input should never trip it.
	ErrInvariantViolation = errors.New("storage invariant violation")
)

// ListQuery narrows a ListSessions call. A nil Tag means all tags.
// Limit <= 0 means no cap; Offset skips from the chronological start.
type ListQuery struct {
	Tag    *datatypes.Tag
	Limit  int
	Offset int
}

// Store persists sessions and owns event-group allocation.
//
// # Description
//
// InsertSession is the one writing entry point for submissions: it runs
// the allocation decision and the row insert as a single atomic unit per
// user, serialized against other submissions for the same user. It is
// idempotent on (user, session): resubmitting an existing session id
// returns the stored record with created == false and changes nothing.
//
// All list/read methods return sessions in chronological order of
// RecordedAt.
//
// # Thread Safety
//
// Implementations are safe for concurrent use.
type Store interface {
	// InsertSession allocates (for C sessions) and persists sess.
	// The returned session is the stored record: on a duplicate it is
	// the original row, not the resubmission.
	InsertSession(ctx context.Context, sess *datatypes.Session) (stored *datatypes.Session, created bool, err error)

	GetSession(ctx context.Context, userID, sessionID string) (*datatypes.Session, error)

	ListSessions(ctx context.Context, userID string, q ListQuery) ([]datatypes.Session, error)

	// SessionsForAnalytics returns the user's processed sessions for
	// one tag, chronological, for baseline computation.
	SessionsForAnalytics(ctx context.Context, userID string, tag datatypes.Tag) ([]datatypes.Session, error)

	UserStats(ctx context.Context, userID string) (*datatypes.UserStats, error)

	DeleteSession(ctx context.Context, userID, sessionID string) error

	// Ping reports backend health for readiness probes.
	Ping(ctx context.Context) error

	Close() error
}

// CheckRecord re-validates the invariants a store must never persist a
// violation of. Both backends run it before commit; the validator should
// have caught all of this already, so a finding here is a programming
// error upstream and surfaces as ErrInvariantViolation.
func CheckRecord(sess *datatypes.Session) error {
	if sess.SessionID == "" || sess.UserID == "" {
		return fmt.Errorf("%w: missing identity", ErrInvariantViolation)
	}
	if !sess.Tag.Valid() || !datatypes.ValidSubtag(sess.Tag, sess.Subtag) {
		return fmt.Errorf("%w: tag %q subtag %q", ErrInvariantViolation, sess.Tag, sess.Subtag)
	}
	if sess.Tag == datatypes.TagC {
		if sess.GroupID < 1 || sess.IntervalNumber < 1 {
			return fmt.Errorf("%w: C session without allocation (group %d interval %d)",
				ErrInvariantViolation, sess.GroupID, sess.IntervalNumber)
		}
	} else if sess.GroupID != 0 || sess.IntervalNumber != 0 {
		return fmt.Errorf("%w: %s session carries group %d interval %d",
			ErrInvariantViolation, sess.Tag, sess.GroupID, sess.IntervalNumber)
	}
	if len(sess.RRIntervals) == 0 || sess.RRCount != len(sess.RRIntervals) {
		return fmt.Errorf("%w: rr_count %d vs %d intervals",
			ErrInvariantViolation, sess.RRCount, len(sess.RRIntervals))
	}
	if sess.RecordedAt.IsZero() {
		return fmt.Errorf("%w: zero recorded_at", ErrInvariantViolation)
	}
	return nil
}
