// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package allocator

import "sync"

// LockTable serializes allocation per user for store backends without
// row-level locking. Entries are created lazily and never removed; the
// table grows with the number of distinct users seen by one process,
// which is bounded and small compared to session data.
//
// # Thread Safety
//
// Safe for concurrent use.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockTable returns an empty table.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*sync.Mutex)}
}

// Acquire blocks until the user's lock is held and returns the release
// function. Distinct users never contend.
func (t *LockTable) Acquire(userID string) func() {
	t.mu.Lock()
	l, ok := t.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[userID] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}
