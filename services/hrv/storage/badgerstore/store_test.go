// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrvbrain/hrvbrain/services/hrv/allocator"
	"github.com/hrvbrain/hrvbrain/services/hrv/datatypes"
	"github.com/hrvbrain/hrvbrain/services/hrv/storage"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSession(userID, sessionID string, tag datatypes.Tag, subtag string, at time.Time) *datatypes.Session {
	interval := 0
	if tag == datatypes.TagC {
		interval, _ = datatypes.IntervalFromSubtag(subtag)
	}
	return &datatypes.Session{
		SessionID:       sessionID,
		UserID:          userID,
		Tag:             tag,
		Subtag:          subtag,
		IntervalNumber:  interval,
		RecordedAt:      at.UTC(),
		DurationMinutes: 5,
		RRIntervals:     []float64{800, 810, 790, 805},
		RRCount:         4,
		Status:          datatypes.StatusProcessed,
		CreatedAt:       time.Now().UTC(),
	}
}

func TestInsertAndGetRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	sess := testSession("u1", "s1", datatypes.TagA, "A_single", time.Now())
	stored, created, err := s.InsertSession(ctx, sess)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "s1", stored.SessionID)

	got, err := s.GetSession(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, sess.Subtag, got.Subtag)
	assert.Equal(t, sess.RRCount, got.RRCount)
}

func TestGetMissingSession(t *testing.T) {
	s := newStore(t)
	_, err := s.GetSession(context.Background(), "u1", "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInsertIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first := testSession("u1", "c1", datatypes.TagC, "C_interval_1", time.Now())
	stored, created, err := s.InsertSession(ctx, first)
	require.NoError(t, err)
	require.True(t, created)
	require.EqualValues(t, 1, stored.GroupID)

	// A byte-identical resubmission returns the stored row and must not
	// burn a second group id.
	resubmit := testSession("u1", "c1", datatypes.TagC, "C_interval_1", time.Now())
	stored2, created2, err := s.InsertSession(ctx, resubmit)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.EqualValues(t, 1, stored2.GroupID)

	next := testSession("u1", "c2", datatypes.TagC, "C_interval_1", time.Now())
	stored3, _, err := s.InsertSession(ctx, next)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stored3.GroupID, "duplicate must not have advanced the counter")
}

func TestSequentialIntervalsShareAGroup(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 23, 0, 0, 0, time.UTC)

	for k := 1; k <= 3; k++ {
		sess := testSession("u1", fmt.Sprintf("night-%d", k), datatypes.TagC,
			fmt.Sprintf("C_interval_%d", k), base.Add(time.Duration(k)*time.Hour))
		stored, created, err := s.InsertSession(ctx, sess)
		require.NoError(t, err, "interval %d", k)
		require.True(t, created)
		assert.EqualValues(t, 1, stored.GroupID, "interval %d", k)
		assert.Equal(t, k, stored.IntervalNumber)
	}
}

func TestOutOfOrderIntervalRejected(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// interval 2 with no group at all
	_, _, err := s.InsertSession(ctx, testSession("u1", "x1", datatypes.TagC, "C_interval_2", time.Now()))
	assert.ErrorIs(t, err, allocator.ErrNoOpenGroup)

	// open a group, then skip an interval
	_, _, err = s.InsertSession(ctx, testSession("u1", "x2", datatypes.TagC, "C_interval_1", time.Now()))
	require.NoError(t, err)
	_, _, err = s.InsertSession(ctx, testSession("u1", "x3", datatypes.TagC, "C_interval_3", time.Now()))
	assert.ErrorIs(t, err, allocator.ErrOutOfOrderInterval)

	// the failed attempt wrote nothing
	_, err = s.GetSession(ctx, "u1", "x3")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNewIntervalOneOpensFreshGroup(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for k := 1; k <= 2; k++ {
		_, _, err := s.InsertSession(ctx, testSession("u1", fmt.Sprintf("a-%d", k),
			datatypes.TagC, fmt.Sprintf("C_interval_%d", k), time.Now()))
		require.NoError(t, err)
	}

	stored, _, err := s.InsertSession(ctx, testSession("u1", "b-1", datatypes.TagC, "C_interval_1", time.Now()))
	require.NoError(t, err)
	assert.EqualValues(t, 2, stored.GroupID)

	// the old group is closed now
	_, _, err = s.InsertSession(ctx, testSession("u1", "a-3", datatypes.TagC, "C_interval_3", time.Now()))
	assert.ErrorIs(t, err, allocator.ErrOutOfOrderInterval)
}

func TestExplicitGroupSlotCollision(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	sess := testSession("u1", "e1", datatypes.TagC, "C_interval_1", time.Now())
	sess.GroupID = 10
	_, _, err := s.InsertSession(ctx, sess)
	require.NoError(t, err)

	dup := testSession("u1", "e2", datatypes.TagC, "C_interval_1", time.Now())
	dup.GroupID = 10
	_, _, err = s.InsertSession(ctx, dup)
	assert.ErrorIs(t, err, allocator.ErrIntervalTaken)

	// auto-assignment continues past the pinned group
	auto := testSession("u1", "e3", datatypes.TagC, "C_interval_1", time.Now())
	stored, _, err := s.InsertSession(ctx, auto)
	require.NoError(t, err)
	assert.EqualValues(t, 11, stored.GroupID)
}

func TestConcurrentFirstIntervalsGetDistinctGroups(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	const workers = 8
	groups := make([]int64, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess := testSession("u1", fmt.Sprintf("conc-%d", i), datatypes.TagC, "C_interval_1", time.Now())
			stored, _, err := s.InsertSession(ctx, sess)
			if err != nil {
				errs[i] = err
				return
			}
			groups[i] = stored.GroupID
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[groups[i]], "group %d allocated twice", groups[i])
		seen[groups[i]] = true
	}
}

func TestUsersAreIsolated(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a, _, err := s.InsertSession(ctx, testSession("alice", "s1", datatypes.TagC, "C_interval_1", time.Now()))
	require.NoError(t, err)
	b, _, err := s.InsertSession(ctx, testSession("bob", "s1", datatypes.TagC, "C_interval_1", time.Now()))
	require.NoError(t, err)

	assert.EqualValues(t, 1, a.GroupID)
	assert.EqualValues(t, 1, b.GroupID)

	_, err = s.GetSession(ctx, "alice", "s1")
	require.NoError(t, err)
	sessions, err := s.ListSessions(ctx, "bob", storage.ListQuery{})
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestListSessionsFilterAndPagination(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 7, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, _, err := s.InsertSession(ctx, testSession("u1", fmt.Sprintf("a-%d", i),
			datatypes.TagA, "A_single", base.AddDate(0, 0, i)))
		require.NoError(t, err)
	}
	_, _, err := s.InsertSession(ctx, testSession("u1", "d-0", datatypes.TagD, "D_single", base))
	require.NoError(t, err)

	tagA := datatypes.TagA
	sessions, err := s.ListSessions(ctx, "u1", storage.ListQuery{Tag: &tagA})
	require.NoError(t, err)
	assert.Len(t, sessions, 5)

	page, err := s.ListSessions(ctx, "u1", storage.ListQuery{Tag: &tagA, Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a-2", page[0].SessionID, "pagination must stay chronological")
	assert.Equal(t, "a-3", page[1].SessionID)
}

func TestSessionsForAnalyticsSkipsUnprocessed(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ok := testSession("u1", "p1", datatypes.TagA, "A_single", time.Now())
	_, _, err := s.InsertSession(ctx, ok)
	require.NoError(t, err)

	pending := testSession("u1", "p2", datatypes.TagA, "A_single", time.Now())
	pending.Status = datatypes.StatusReceived
	_, _, err = s.InsertSession(ctx, pending)
	require.NoError(t, err)

	sessions, err := s.SessionsForAnalytics(ctx, "u1", datatypes.TagA)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "p1", sessions[0].SessionID)
}

func TestUserStats(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, _, err := s.InsertSession(ctx, testSession("u1", "s1", datatypes.TagA, "A_single", time.Now()))
	require.NoError(t, err)
	for k := 1; k <= 2; k++ {
		_, _, err := s.InsertSession(ctx, testSession("u1", fmt.Sprintf("c-%d", k),
			datatypes.TagC, fmt.Sprintf("C_interval_%d", k), time.Now()))
		require.NoError(t, err)
	}

	stats, err := s.UserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalSessions)
	assert.Equal(t, 1, stats.ByTag[datatypes.TagA])
	assert.Equal(t, 2, stats.ByTag[datatypes.TagC])
	assert.Equal(t, 1, stats.EventGroups)
}

func TestDeleteSessionFreesSlotButNotCounter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, _, err := s.InsertSession(ctx, testSession("u1", "c1", datatypes.TagC, "C_interval_1", time.Now()))
	require.NoError(t, err)

	require.NoError(t, s.DeleteSession(ctx, "u1", "c1"))
	_, err = s.GetSession(ctx, "u1", "c1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// counter stays monotonic: a fresh interval 1 opens group 2
	stored, _, err := s.InsertSession(ctx, testSession("u1", "c2", datatypes.TagC, "C_interval_1", time.Now()))
	require.NoError(t, err)
	assert.EqualValues(t, 2, stored.GroupID)
}

func TestInsertRejectsInvariantViolations(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	sess := testSession("u1", "bad", datatypes.TagA, "A_single", time.Now())
	sess.GroupID = 4 // A sessions never carry a group
	_, _, err := s.InsertSession(ctx, sess)
	assert.ErrorIs(t, err, storage.ErrInvariantViolation)
}

func TestPingAndClose(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())

	err = s.Ping(context.Background())
	assert.Error(t, err)
}

func TestContextCancellationIsHonored(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.InsertSession(ctx, testSession("u1", "s1", datatypes.TagA, "A_single", time.Now()))
	assert.ErrorIs(t, err, context.Canceled)
}
