// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package allocator decides which event group a C session interval lands
// in.
//
// # Description
//
// Multi-part recordings (tag C) arrive one interval at a time. Interval 1
// opens a new event group; interval k > 1 may only continue the user's
// most recent group, and only when that group's highest interval is
// exactly k-1. Gaps and rewinds are permanent, user-correctable errors:
// no row is written, and retrying the identical submission fails the
// identical way.
//
// Resolve is a pure decision over a state snapshot. The store backends
// read the snapshot, call Resolve, and apply the decision inside the same
// per-user critical section (keyed mutex or row lock), which is what
// makes the counter safe under concurrency.
package allocator

import (
	"errors"
	"fmt"

	"github.com/hrvbrain/hrvbrain/services/hrv/datatypes"
)

var (
	// ErrNoOpenGroup: interval k > 1 arrived but the user has no event
	// group at all.
	ErrNoOpenGroup = errors.New("no open event group to continue")

	// ErrOutOfOrderInterval: interval k > 1 arrived but the latest
	// group's highest interval is not k-1.
	ErrOutOfOrderInterval = errors.New("interval out of order for latest event group")

	// ErrIntervalTaken: the (user, group, interval) slot is already
	// occupied by a different session.
	ErrIntervalTaken = errors.New("interval already allocated in event group")

	// ErrNotCSession guards against misuse: only C sessions are
	// allocated into groups.
	ErrNotCSession = errors.New("session tag does not use event groups")
)

// State is the per-user allocation snapshot a store backend reads under
// its lock.
type State struct {
	// LastGroupID is the highest group id ever allocated for the user,
	// 0 when none. The next auto-assigned group is LastGroupID + 1.
	LastGroupID int64

	// LatestGroup is the most recently opened group, 0 when none.
	LatestGroup int64

	// LatestMaxInterval is the highest interval stored in LatestGroup.
	LatestMaxInterval int
}

// Decision is the allocation outcome to apply atomically with the insert.
type Decision struct {
	GroupID  int64
	Interval int

	// NewGroup is true when the decision opens a fresh group and the
	// user's counter state must advance.
	NewGroup bool
}

// Resolve decides the group for one C session. requested is the client's
// group_id field: 0 asks for automatic assignment, anything greater pins
// an explicit group (slot uniqueness is still enforced by the store).
func Resolve(tag datatypes.Tag, interval int, requested int64, st State) (Decision, error) {
	if tag != datatypes.TagC {
		return Decision{}, ErrNotCSession
	}
	if interval < 1 {
		return Decision{}, fmt.Errorf("interval %d: %w", interval, ErrNotCSession)
	}

	if requested > 0 {
		return Decision{
			GroupID:  requested,
			Interval: interval,
			NewGroup: requested > st.LastGroupID,
		}, nil
	}

	if interval == 1 {
		return Decision{
			GroupID:  st.LastGroupID + 1,
			Interval: 1,
			NewGroup: true,
		}, nil
	}

	if st.LatestGroup == 0 {
		return Decision{}, fmt.Errorf("interval %d: %w", interval, ErrNoOpenGroup)
	}
	if interval <= st.LatestMaxInterval {
		return Decision{}, fmt.Errorf("interval %d already present in group %d: %w",
			interval, st.LatestGroup, ErrIntervalTaken)
	}
	if interval != st.LatestMaxInterval+1 {
		return Decision{}, fmt.Errorf("interval %d after max %d in group %d: %w",
			interval, st.LatestMaxInterval, st.LatestGroup, ErrOutOfOrderInterval)
	}

	return Decision{
		GroupID:  st.LatestGroup,
		Interval: interval,
	}, nil
}

// Apply folds an applied decision back into the state snapshot. Store
// backends persist the result as the user's new counter row.
func Apply(st State, d Decision) State {
	if d.NewGroup {
		if d.GroupID > st.LastGroupID {
			st.LastGroupID = d.GroupID
		}
		st.LatestGroup = d.GroupID
		st.LatestMaxInterval = d.Interval
		return st
	}
	if d.GroupID == st.LatestGroup && d.Interval > st.LatestMaxInterval {
		st.LatestMaxInterval = d.Interval
	}
	return st
}
