// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package postgres implements the session store on PostgreSQL via GORM.
//
// This is the shared-database backend: per-user allocation serializes on
// a row lock over the user's counter row, so any number of processes can
// ingest concurrently. Migrations carry the same invariants the code
// enforces as CHECK constraints and unique indexes, so a bug upstream
// cannot quietly corrupt the table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/hrvbrain/hrvbrain/services/hrv/allocator"
	"github.com/hrvbrain/hrvbrain/services/hrv/datatypes"
	"github.com/hrvbrain/hrvbrain/services/hrv/storage"
)

// Config holds the connection settings.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN renders the config as a libpq connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// Store implements storage.Store on PostgreSQL.
type Store struct {
	db *gorm.DB
}

var _ storage.Store = (*Store)(nil)

// Open connects and tunes the pool. It does not migrate; call Migrate
// explicitly (the server does on boot, hrvctl does on demand).
func Open(cfg Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &Store{db: db}, nil
}

// InsertSession allocates (for C sessions) and inserts inside one
// database transaction. See storage.Store for the contract.
func (s *Store) InsertSession(ctx context.Context, sess *datatypes.Session) (*datatypes.Session, bool, error) {
	var stored *datatypes.Session
	created := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing sessionRow
		err := tx.Where("user_id = ? AND session_id = ?", sess.UserID, sess.SessionID).
			First(&existing).Error
		if err == nil {
			stored = existing.toSession()
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("duplicate check: %w", err)
		}

		if sess.Tag == datatypes.TagC {
			if err := allocate(tx, sess); err != nil {
				return err
			}
		}

		if err := storage.CheckRecord(sess); err != nil {
			return err
		}

		row := fromSession(sess)
		if err := tx.Create(row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Lost a race on (user, session): surface the winner.
				var winner sessionRow
				ferr := tx.Where("user_id = ? AND session_id = ?", sess.UserID, sess.SessionID).
					First(&winner).Error
				if ferr == nil {
					stored = winner.toSession()
					return nil
				}
				// Not the session index, so the interval slot: the
				// pre-check under the counter lock makes this a true
				// conflict, not a retryable race.
				return fmt.Errorf("group %d interval %d: %w",
					sess.GroupID, sess.IntervalNumber, allocator.ErrIntervalTaken)
			}
			return fmt.Errorf("insert session: %w", err)
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

// allocate locks the user's counter row and resolves the event group.
// The row lock is what serializes allocation for one user across
// processes.
func allocate(tx *gorm.DB, sess *datatypes.Session) error {
	// Make sure there is a row to lock, then lock it.
	seed := groupCounterRow{UserID: sess.UserID}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return fmt.Errorf("seed counter row: %w", err)
	}
	var counter groupCounterRow
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", sess.UserID).First(&counter).Error; err != nil {
		return fmt.Errorf("lock counter row: %w", err)
	}

	st := allocator.State{
		LastGroupID:       counter.LastGroupID,
		LatestGroup:       counter.LatestGroup,
		LatestMaxInterval: counter.LatestMaxInterval,
	}
	d, err := allocator.Resolve(sess.Tag, sess.IntervalNumber, sess.GroupID, st)
	if err != nil {
		return err
	}

	var occupied int64
	err = tx.Model(&sessionRow{}).
		Where("user_id = ? AND tag = ? AND group_id = ? AND interval_number = ?",
			sess.UserID, string(datatypes.TagC), d.GroupID, d.Interval).
		Count(&occupied).Error
	if err != nil {
		return fmt.Errorf("check interval slot: %w", err)
	}
	if occupied > 0 {
		return fmt.Errorf("group %d interval %d: %w", d.GroupID, d.Interval, allocator.ErrIntervalTaken)
	}

	next := allocator.Apply(st, d)
	counter.LastGroupID = next.LastGroupID
	counter.LatestGroup = next.LatestGroup
	counter.LatestMaxInterval = next.LatestMaxInterval
	if err := tx.Save(&counter).Error; err != nil {
		return fmt.Errorf("advance counter: %w", err)
	}

	sess.GroupID = d.GroupID
	sess.IntervalNumber = d.Interval
	return nil
}

func (s *Store) GetSession(ctx context.Context, userID, sessionID string) (*datatypes.Session, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return row.toSession(), nil
}

func (s *Store) ListSessions(ctx context.Context, userID string, q storage.ListQuery) ([]datatypes.Session, error) {
	query := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("recorded_at ASC, session_id ASC")
	if q.Tag != nil {
		query = query.Where("tag = ?", string(*q.Tag))
	}
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var rows []sessionRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]datatypes.Session, len(rows))
	for i := range rows {
		out[i] = *rows[i].toSession()
	}
	return out, nil
}

func (s *Store) SessionsForAnalytics(ctx context.Context, userID string, tag datatypes.Tag) ([]datatypes.Session, error) {
	var rows []sessionRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND tag = ? AND status = ?", userID, string(tag), string(datatypes.StatusProcessed)).
		Order("recorded_at ASC, session_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load analytics sessions: %w", err)
	}
	out := make([]datatypes.Session, len(rows))
	for i := range rows {
		out[i] = *rows[i].toSession()
	}
	return out, nil
}

func (s *Store) UserStats(ctx context.Context, userID string) (*datatypes.UserStats, error) {
	stats := &datatypes.UserStats{ByTag: make(map[datatypes.Tag]int)}

	type tagCount struct {
		Tag   string
		Count int
	}
	var counts []tagCount
	err := s.db.WithContext(ctx).Model(&sessionRow{}).
		Select("tag, count(*) as count").
		Where("user_id = ?", userID).
		Group("tag").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("count by tag: %w", err)
	}
	for _, c := range counts {
		stats.ByTag[datatypes.Tag(c.Tag)] = c.Count
		stats.TotalSessions += c.Count
	}

	var groups int64
	err = s.db.WithContext(ctx).Model(&sessionRow{}).
		Where("user_id = ? AND tag = ?", userID, string(datatypes.TagC)).
		Distinct("group_id").
		Count(&groups).Error
	if err != nil {
		return nil, fmt.Errorf("count event groups: %w", err)
	}
	stats.EventGroups = int(groups)
	return stats, nil
}

func (s *Store) DeleteSession(ctx context.Context, userID, sessionID string) error {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Delete(&sessionRow{})
	if res.Error != nil {
		return fmt.Errorf("delete session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
