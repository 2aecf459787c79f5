// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// Status tracks a session record through its lifecycle. Sessions enter as
// StatusReceived and end as StatusProcessed once metrics are computed and
// the record is committed, or StatusFailed when processing cannot finish.
type Status string

const (
	StatusReceived  Status = "received"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// Session is the canonical stored record for one HRV recording.
//
// # Description
//
// A session is submitted once by a client, validated, enriched with
// computed metrics, and persisted. (UserID, SessionID) is the idempotency
// key: resubmitting the same pair returns the stored record unchanged.
// For TagC sessions, (UserID, GroupID, IntervalNumber) is additionally
// unique so an event group can never hold the same interval twice.
//
// # Thread Safety
//
// Session is a plain value; instances are never shared mutably across
// goroutines after construction.
type Session struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Tag       Tag    `json:"tag"`
	Subtag    string `json:"subtag"`

	// GroupID is 0 for A/B/D sessions. For C sessions it is the event
	// group the interval was allocated into, always > 0 once stored.
	GroupID int64 `json:"group_id"`

	// IntervalNumber is derived from the subtag for C sessions
	// (C_interval_3 -> 3) and 0 otherwise. Materialized so stores can
	// enforce (user, group, interval) uniqueness without re-parsing.
	IntervalNumber int `json:"interval_number"`

	RecordedAt      time.Time `json:"recorded_at"`
	DurationMinutes float64   `json:"duration_minutes"`

	// RRIntervals holds the raw beat-to-beat intervals in milliseconds.
	RRIntervals []float64 `json:"rr_intervals"`
	RRCount     int       `json:"rr_count"`

	Metrics MetricSet `json:"metrics"`

	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// MetricSet carries the nine derived HRV metrics. Every field except
// CountRR is nullable: a metric that is undefined for the given interval
// series stays nil and is skipped by downstream analytics.
type MetricSet struct {
	CountRR   int      `json:"count_rr"`
	MeanRR    *float64 `json:"mean_rr"`
	MeanHR    *float64 `json:"mean_hr"`
	SDNN      *float64 `json:"sdnn"`
	RMSSD     *float64 `json:"rmssd"`
	PNN50     *float64 `json:"pnn50"`
	CVRR      *float64 `json:"cv_rr"`
	DFAAlpha1 *float64 `json:"dfa_alpha1"`
	SD2SD1    *float64 `json:"sd2_sd1"`
}

// UserStats summarizes a user's stored sessions for the statistics
// endpoint: total rows, per-tag counts, and the number of distinct C
// event groups.
type UserStats struct {
	TotalSessions int         `json:"total_sessions"`
	ByTag         map[Tag]int `json:"by_tag"`
	EventGroups   int         `json:"event_groups"`
}
