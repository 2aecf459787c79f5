// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hrvbrain/hrvbrain/services/hrv/datatypes"
)

// jsonFloats stores an RR series as a jsonb column.
type jsonFloats []float64

func (j jsonFloats) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *jsonFloats) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	case nil:
		*j = nil
		return nil
	}
	return fmt.Errorf("cannot scan %T into jsonFloats", src)
}

func (jsonFloats) GormDataType() string { return "jsonb" }

// jsonMetrics stores the computed metric set as a jsonb column.
type jsonMetrics datatypes.MetricSet

func (j jsonMetrics) Value() (driver.Value, error) {
	return json.Marshal(datatypes.MetricSet(j))
}

func (j *jsonMetrics) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, (*datatypes.MetricSet)(j))
	case string:
		return json.Unmarshal([]byte(v), (*datatypes.MetricSet)(j))
	case nil:
		*j = jsonMetrics{}
		return nil
	}
	return fmt.Errorf("cannot scan %T into jsonMetrics", src)
}

func (jsonMetrics) GormDataType() string { return "jsonb" }

// sessionRow is the relational shape of a stored session.
type sessionRow struct {
	ID              uint64    `gorm:"primaryKey;autoIncrement"`
	UserID          string    `gorm:"size:128;not null;uniqueIndex:ux_user_session,priority:1;index:ix_user_tag_time,priority:1"`
	SessionID       string    `gorm:"size:64;not null;uniqueIndex:ux_user_session,priority:2"`
	Tag             string    `gorm:"size:1;not null;index:ix_user_tag_time,priority:2"`
	Subtag          string    `gorm:"size:64;not null"`
	GroupID         int64     `gorm:"not null;default:0"`
	IntervalNumber  int       `gorm:"not null;default:0"`
	RecordedAt      time.Time `gorm:"not null;index:ix_user_tag_time,priority:3"`
	DurationMinutes float64   `gorm:"not null"`
	RRIntervals     jsonFloats
	RRCount         int `gorm:"not null"`
	Metrics         jsonMetrics
	Status          string `gorm:"size:16;not null;default:received"`
	CreatedAt       time.Time
	ProcessedAt     *time.Time
}

func (sessionRow) TableName() string { return "hrv_sessions" }

func (r *sessionRow) toSession() *datatypes.Session {
	return &datatypes.Session{
		SessionID:       r.SessionID,
		UserID:          r.UserID,
		Tag:             datatypes.Tag(r.Tag),
		Subtag:          r.Subtag,
		GroupID:         r.GroupID,
		IntervalNumber:  r.IntervalNumber,
		RecordedAt:      r.RecordedAt.UTC(),
		DurationMinutes: r.DurationMinutes,
		RRIntervals:     []float64(r.RRIntervals),
		RRCount:         r.RRCount,
		Metrics:         datatypes.MetricSet(r.Metrics),
		Status:          datatypes.Status(r.Status),
		CreatedAt:       r.CreatedAt.UTC(),
		ProcessedAt:     r.ProcessedAt,
	}
}

func fromSession(sess *datatypes.Session) *sessionRow {
	return &sessionRow{
		UserID:          sess.UserID,
		SessionID:       sess.SessionID,
		Tag:             string(sess.Tag),
		Subtag:          sess.Subtag,
		GroupID:         sess.GroupID,
		IntervalNumber:  sess.IntervalNumber,
		RecordedAt:      sess.RecordedAt.UTC(),
		DurationMinutes: sess.DurationMinutes,
		RRIntervals:     jsonFloats(sess.RRIntervals),
		RRCount:         sess.RRCount,
		Metrics:         jsonMetrics(sess.Metrics),
		Status:          string(sess.Status),
		CreatedAt:       sess.CreatedAt,
		ProcessedAt:     sess.ProcessedAt,
	}
}

// groupCounterRow is the durable per-user allocation state. One row per
// user, locked FOR UPDATE while a C session is being allocated.
type groupCounterRow struct {
	UserID            string `gorm:"primaryKey;size:128"`
	LastGroupID       int64  `gorm:"not null;default:0"`
	LatestGroup       int64  `gorm:"not null;default:0"`
	LatestMaxInterval int    `gorm:"not null;default:0"`
	UpdatedAt         time.Time
}

func (groupCounterRow) TableName() string { return "hrv_group_counters" }
