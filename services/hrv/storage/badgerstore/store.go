// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/hrvbrain/hrvbrain/services/hrv/allocator"
	"github.com/hrvbrain/hrvbrain/services/hrv/datatypes"
	"github.com/hrvbrain/hrvbrain/services/hrv/storage"
)

// Store implements storage.Store on BadgerDB.
//
// # Thread Safety
//
// Safe for concurrent use. Submissions for the same user serialize on the
// lock table; everything else rides badger's snapshot isolation.
type Store struct {
	db     *badger.DB
	locks  *allocator.LockTable
	logger *slog.Logger

	gcStop chan struct{}
	gcDone chan struct{}
}

var _ storage.Store = (*Store)(nil)

// Open opens the store with the given configuration. Callers must Close
// it when done.
func Open(cfg Config) (*Store, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:     db,
		locks:  allocator.NewLockTable(),
		logger: cfg.Logger,
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go gcLoop(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger, s.gcStop, s.gcDone)
	}
	return s, nil
}

// OpenInMemory opens a throwaway in-memory store for tests.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

func sessKey(userID, sessionID string) []byte {
	return []byte(fmt.Sprintf("sess/%s/%s", userID, sessionID))
}

func sessPrefix(userID string) []byte {
	return []byte(fmt.Sprintf("sess/%s/", userID))
}

func allocKey(userID string) []byte {
	return []byte(fmt.Sprintf("alloc/%s", userID))
}

func slotKey(userID string, groupID int64, interval int) []byte {
	return []byte(fmt.Sprintf("slot/%s/%d/%d", userID, groupID, interval))
}

// InsertSession persists sess, allocating an event group first for C
// sessions. Idempotent on (user, session): an existing id returns the
// stored record untouched.
//
// The duplicate check, the allocation decision, the slot reservation,
// and the row write all happen inside one badger transaction under the
// user's lock, so a crash can never leave a counter advanced without its
// row or the other way round.
func (s *Store) InsertSession(ctx context.Context, sess *datatypes.Session) (*datatypes.Session, bool, error) {
	release := s.locks.Acquire(sess.UserID)
	defer release()

	var stored *datatypes.Session
	created := false

	err := s.withTxn(ctx, func(txn *badger.Txn) error {
		existing, err := getSession(txn, sess.UserID, sess.SessionID)
		if err == nil {
			stored = existing
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		if sess.Tag == datatypes.TagC {
			if err := s.allocate(txn, sess); err != nil {
				return err
			}
		}

		if err := storage.CheckRecord(sess); err != nil {
			return err
		}

		buf, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		if err := txn.Set(sessKey(sess.UserID, sess.SessionID), buf); err != nil {
			return fmt.Errorf("write session: %w", err)
		}
		stored = sess
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// allocate resolves the event group for a C session and reserves its
// interval slot within the same transaction.
func (s *Store) allocate(txn *badger.Txn, sess *datatypes.Session) error {
	st, err := getAllocState(txn, sess.UserID)
	if err != nil {
		return err
	}

	d, err := allocator.Resolve(sess.Tag, sess.IntervalNumber, sess.GroupID, st)
	if err != nil {
		return err
	}

	slot := slotKey(sess.UserID, d.GroupID, d.Interval)
	if _, err := txn.Get(slot); err == nil {
		return fmt.Errorf("group %d interval %d: %w", d.GroupID, d.Interval, allocator.ErrIntervalTaken)
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("read slot: %w", err)
	}
	if err := txn.Set(slot, []byte(sess.SessionID)); err != nil {
		return fmt.Errorf("reserve slot: %w", err)
	}

	next := allocator.Apply(st, d)
	buf, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode allocation state: %w", err)
	}
	if err := txn.Set(allocKey(sess.UserID), buf); err != nil {
		return fmt.Errorf("write allocation state: %w", err)
	}

	sess.GroupID = d.GroupID
	sess.IntervalNumber = d.Interval
	return nil
}

func getAllocState(txn *badger.Txn, userID string) (allocator.State, error) {
	var st allocator.State
	item, err := txn.Get(allocKey(userID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read allocation state: %w", err)
	}
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &st) }); err != nil {
		return st, fmt.Errorf("decode allocation state: %w", err)
	}
	return st, nil
}

func getSession(txn *badger.Txn, userID, sessionID string) (*datatypes.Session, error) {
	item, err := txn.Get(sessKey(userID, sessionID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var sess datatypes.Session
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &sess) }); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *Store) GetSession(ctx context.Context, userID, sessionID string) (*datatypes.Session, error) {
	var sess *datatypes.Session
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		sess, err = getSession(txn, userID, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// userSessions loads all of a user's sessions, chronological by
// RecordedAt with SessionID as tie-breaker.
func (s *Store) userSessions(ctx context.Context, userID string, keep func(*datatypes.Session) bool) ([]datatypes.Session, error) {
	var out []datatypes.Session
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := sessPrefix(userID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var sess datatypes.Session
			err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &sess) })
			if err != nil {
				return fmt.Errorf("decode session: %w", err)
			}
			if keep == nil || keep(&sess) {
				out = append(out, sess)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.Before(out[j].RecordedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out, nil
}

func (s *Store) ListSessions(ctx context.Context, userID string, q storage.ListQuery) ([]datatypes.Session, error) {
	sessions, err := s.userSessions(ctx, userID, func(sess *datatypes.Session) bool {
		return q.Tag == nil || sess.Tag == *q.Tag
	})
	if err != nil {
		return nil, err
	}
	if q.Offset > 0 {
		if q.Offset >= len(sessions) {
			return nil, nil
		}
		sessions = sessions[q.Offset:]
	}
	if q.Limit > 0 && len(sessions) > q.Limit {
		sessions = sessions[:q.Limit]
	}
	return sessions, nil
}

func (s *Store) SessionsForAnalytics(ctx context.Context, userID string, tag datatypes.Tag) ([]datatypes.Session, error) {
	return s.userSessions(ctx, userID, func(sess *datatypes.Session) bool {
		return sess.Tag == tag && sess.Status == datatypes.StatusProcessed
	})
}

func (s *Store) UserStats(ctx context.Context, userID string) (*datatypes.UserStats, error) {
	stats := &datatypes.UserStats{ByTag: make(map[datatypes.Tag]int)}
	groups := make(map[int64]bool)

	sessions, err := s.userSessions(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		stats.TotalSessions++
		stats.ByTag[sessions[i].Tag]++
		if sessions[i].Tag == datatypes.TagC {
			groups[sessions[i].GroupID] = true
		}
	}
	stats.EventGroups = len(groups)
	return stats, nil
}

func (s *Store) DeleteSession(ctx context.Context, userID, sessionID string) error {
	release := s.locks.Acquire(userID)
	defer release()

	return s.withTxn(ctx, func(txn *badger.Txn) error {
		sess, err := getSession(txn, userID, sessionID)
		if err != nil {
			return err
		}
		if sess.Tag == datatypes.TagC {
			if err := txn.Delete(slotKey(userID, sess.GroupID, sess.IntervalNumber)); err != nil {
				return fmt.Errorf("free slot: %w", err)
			}
		}
		if err := txn.Delete(sessKey(userID, sessionID)); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

func (s *Store) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("store is closed")
	}
	return ctx.Err()
}

// Close stops the GC loop and closes the database. Safe to call once.
func (s *Store) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
	}
	return s.db.Close()
}

func (s *Store) withTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := s.db.NewTransaction(true)
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

func (s *Store) withReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := s.db.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}
