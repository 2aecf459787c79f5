// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package allocator

import (
	"errors"
	"sync"
	"testing"

	"github.com/hrvbrain/hrvbrain/services/hrv/datatypes"
)

func TestResolveFirstIntervalOpensGroup(t *testing.T) {
	d, err := Resolve(datatypes.TagC, 1, 0, State{})
	if err != nil {
		t.Fatal(err)
	}
	if d.GroupID != 1 || d.Interval != 1 || !d.NewGroup {
		t.Errorf("unexpected decision: %+v", d)
	}

	// With history, the counter keeps climbing.
	d, err = Resolve(datatypes.TagC, 1, 0, State{LastGroupID: 7, LatestGroup: 7, LatestMaxInterval: 3})
	if err != nil {
		t.Fatal(err)
	}
	if d.GroupID != 8 || !d.NewGroup {
		t.Errorf("unexpected decision: %+v", d)
	}
}

func TestResolveSequentialAttach(t *testing.T) {
	st := State{}
	for k := 1; k <= 3; k++ {
		d, err := Resolve(datatypes.TagC, k, 0, st)
		if err != nil {
			t.Fatalf("interval %d: %v", k, err)
		}
		if d.GroupID != 1 {
			t.Fatalf("interval %d landed in group %d, want 1", k, d.GroupID)
		}
		st = Apply(st, d)
	}
	if st.LatestMaxInterval != 3 || st.LastGroupID != 1 {
		t.Errorf("state after 1..3: %+v", st)
	}
}

func TestResolveRejectsBadContinuations(t *testing.T) {
	tests := []struct {
		name    string
		k       int
		st      State
		wantErr error
	}{
		{"no history", 2, State{}, ErrNoOpenGroup},
		{"gap", 4, State{LastGroupID: 1, LatestGroup: 1, LatestMaxInterval: 2}, ErrOutOfOrderInterval},
		{"rewind", 2, State{LastGroupID: 1, LatestGroup: 1, LatestMaxInterval: 3}, ErrIntervalTaken},
		{"after completed run restart needed", 2, State{LastGroupID: 2, LatestGroup: 2, LatestMaxInterval: 4}, ErrIntervalTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(datatypes.TagC, tt.k, 0, tt.st)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolveExplicitGroup(t *testing.T) {
	st := State{LastGroupID: 5, LatestGroup: 5, LatestMaxInterval: 2}

	// Pinning an existing group does not advance the counter.
	d, err := Resolve(datatypes.TagC, 9, 3, st)
	if err != nil {
		t.Fatal(err)
	}
	if d.GroupID != 3 || d.NewGroup {
		t.Errorf("unexpected decision: %+v", d)
	}

	// Pinning past the counter advances it so auto-assignment can
	// never collide later.
	d, err = Resolve(datatypes.TagC, 1, 12, st)
	if err != nil {
		t.Fatal(err)
	}
	if d.GroupID != 12 || !d.NewGroup {
		t.Errorf("unexpected decision: %+v", d)
	}
	st = Apply(st, d)
	if st.LastGroupID != 12 {
		t.Errorf("counter should advance to 12: %+v", st)
	}
}

func TestResolveRejectsNonC(t *testing.T) {
	if _, err := Resolve(datatypes.TagA, 1, 0, State{}); !errors.Is(err, ErrNotCSession) {
		t.Errorf("got %v, want ErrNotCSession", err)
	}
	if _, err := Resolve(datatypes.TagC, 0, 0, State{}); !errors.Is(err, ErrNotCSession) {
		t.Errorf("interval 0: got %v, want ErrNotCSession", err)
	}
}

func TestApplyIgnoresStaleGroupUpdates(t *testing.T) {
	st := State{LastGroupID: 6, LatestGroup: 6, LatestMaxInterval: 1}
	st = Apply(st, Decision{GroupID: 3, Interval: 9}) // older explicit group
	if st.LatestGroup != 6 || st.LatestMaxInterval != 1 {
		t.Errorf("stale group must not disturb latest-group tracking: %+v", st)
	}
}

func TestLockTableSerializesPerUser(t *testing.T) {
	table := NewLockTable()
	const workers = 16
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := table.Acquire("user-1")
			defer release()
			counter++
		}()
	}
	wg.Wait()
	if counter != workers {
		t.Errorf("lost updates under the user lock: %d", counter)
	}
}

func TestLockTableDistinctUsersDoNotBlock(t *testing.T) {
	table := NewLockTable()
	releaseA := table.Acquire("user-a")
	defer releaseA()

	done := make(chan struct{})
	go func() {
		release := table.Acquire("user-b")
		release()
		close(done)
	}()
	<-done // would deadlock if user-b waited on user-a's lock
}
