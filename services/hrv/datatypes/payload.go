// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// SubmitPayload is the wire shape of a session submission. RecordedAt
// stays a raw string here: the validator insists on an explicit UTC
// offset, which the default time.Time JSON decoding would paper over for
// some malformed inputs.
//
// SessionID may be empty, in which case the server mints one. GroupID 0
// requests automatic allocation for C sessions and is the only accepted
// value for A/B/D.
type SubmitPayload struct {
	SessionID       string    `json:"session_id" binding:"omitempty,uuid"`
	Tag             string    `json:"tag" binding:"required"`
	Subtag          string    `json:"subtag" binding:"required"`
	GroupID         int64     `json:"group_id" binding:"omitempty,min=0"`
	RecordedAt      string    `json:"recorded_at" binding:"required"`
	DurationMinutes float64   `json:"duration_minutes" binding:"required,gt=0"`
	RRIntervals     []float64 `json:"rr_intervals" binding:"required,min=1"`

	// RRCount is optional; when present it must match len(RRIntervals).
	RRCount *int `json:"rr_count,omitempty"`
}
