// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analytics computes fixed and rolling baselines with per-session
// trend annotations over a user's stored sessions.
package analytics

import (
	"github.com/hrvbrain/hrvbrain/services/hrv/datatypes"
)

// APIVersion identifies the report envelope shape.
const APIVersion = "1.0"

// Parameter defaults and clamps. Requests outside the clamp window are
// pulled to the nearest bound rather than rejected.
const (
	DefaultFixedPoints   = 14
	MinFixedPoints       = 1
	MaxFixedPoints       = 30
	DefaultRollingWindow = 7
	MinRollingWindow     = 3
	MaxRollingWindow     = 14
	DefaultMaxSessions   = 300
	MinMaxSessions       = 10
	MaxMaxSessions       = 500

	// minBaselinePoints is the floor under which fixed-baseline bands
	// are suppressed entirely.
	minBaselinePoints = 5
)

// DefaultMetrics is the metric set used when a request names none.
func DefaultMetrics() []datatypes.Metric {
	return []datatypes.Metric{
		datatypes.MetricRMSSD,
		datatypes.MetricSDNN,
		datatypes.MetricSD2SD1,
		datatypes.MetricMeanHR,
	}
}

// Params selects what a baseline report covers. Zero values mean
// defaults.
type Params struct {
	Tag     datatypes.Tag
	Metrics []datatypes.Metric

	// FixedPoints (m) is how many recent valid points feed the fixed
	// baseline per metric.
	FixedPoints int

	// RollingWindow (n) is the trailing window length for the dynamic
	// series.
	RollingWindow int

	// MaxSessions caps how many rows the dynamic series returns.
	// Statistics always cover full history; only the returned rows are
	// truncated.
	MaxSessions int
}

// Normalized applies defaults and clamps. Compute calls it itself;
// callers that need the resolved tag before loading history call it
// directly.
func (p Params) Normalized() Params {
	if p.Tag == "" {
		p.Tag = datatypes.TagC
	}
	if len(p.Metrics) == 0 {
		p.Metrics = DefaultMetrics()
	}
	p.FixedPoints = clamp(p.FixedPoints, DefaultFixedPoints, MinFixedPoints, MaxFixedPoints)
	p.RollingWindow = clamp(p.RollingWindow, DefaultRollingWindow, MinRollingWindow, MaxRollingWindow)
	p.MaxSessions = clamp(p.MaxSessions, DefaultMaxSessions, MinMaxSessions, MaxMaxSessions)
	return p
}

func clamp(v, def, lo, hi int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FixedMetric is the fixed baseline for one metric. When Count is under
// the suppression floor every other field stays nil.
type FixedMetric struct {
	Count          int      `json:"count"`
	Mean           *float64 `json:"mean"`
	SD             *float64 `json:"sd"`
	Median         *float64 `json:"median"`
	SDMedian       *float64 `json:"sd_median"`
	MeanMinus1SD   *float64 `json:"mean_minus_1sd"`
	MeanPlus1SD    *float64 `json:"mean_plus_1sd"`
	MeanMinus2SD   *float64 `json:"mean_minus_2sd"`
	MeanPlus2SD    *float64 `json:"mean_plus_2sd"`
	MedianMinus1SD *float64 `json:"median_minus_1sd"`
	MedianPlus1SD  *float64 `json:"median_plus_1sd"`
	MedianMinus2SD *float64 `json:"median_minus_2sd"`
	MedianPlus2SD  *float64 `json:"median_plus_2sd"`
	Min            *float64 `json:"min"`
	Max            *float64 `json:"max"`
	Range          *float64 `json:"range"`
}

// RollingMetric is the trailing-window statistics attached to one session
// for one metric.
type RollingMetric struct {
	WindowSize   int     `json:"window_size"`
	Mean         float64 `json:"mean"`
	SD           float64 `json:"sd"`
	MeanMinus1SD float64 `json:"mean_minus_1sd"`
	MeanPlus1SD  float64 `json:"mean_plus_1sd"`
	MeanMinus2SD float64 `json:"mean_minus_2sd"`
	MeanPlus2SD  float64 `json:"mean_plus_2sd"`
}

// TrendMetric relates one session's value to the fixed and rolling
// references.
type TrendMetric struct {
	DeltaVsFixed   *float64 `json:"delta_vs_fixed"`
	PctVsFixed     *float64 `json:"pct_vs_fixed"`
	DeltaVsRolling *float64 `json:"delta_vs_rolling"`
	PctVsRolling   *float64 `json:"pct_vs_rolling"`
	ZFixed         *float64 `json:"z_fixed"`
	ZRolling       *float64 `json:"z_rolling"`
	Direction      string   `json:"direction"`
	Significance   string   `json:"significance"`
}

// Direction and significance labels.
const (
	DirectionAbove   = "above_baseline"
	DirectionBelow   = "below_baseline"
	DirectionStable  = "stable"
	DirectionUnknown = "unknown"

	SignificanceHigh     = "highly_significant"
	SignificanceStandard = "significant"
	SignificanceMarginal = "marginally_significant"
	SignificanceNone     = "not_significant"
	SignificanceUnknown  = "unknown"
)

// DynamicSession is one row of the dynamic baseline series.
type DynamicSession struct {
	SessionID       string                    `json:"session_id"`
	Timestamp       string                    `json:"timestamp"`
	DurationMinutes float64                   `json:"duration_minutes"`
	SessionIndex    int                       `json:"session_index"`
	Metrics         map[string]*float64       `json:"metrics"`
	RollingStats    map[string]*RollingMetric `json:"rolling_stats"`
	Trends          map[string]*TrendMetric   `json:"trends"`
	Flags           []string                  `json:"flags"`
	Tags            []string                  `json:"tags"`
}

// Notes documents the methods behind a report for the consuming client.
type Notes struct {
	Method               string `json:"method"`
	Bands                string `json:"bands"`
	InsufficientBandRule string `json:"insufficient_band_rule"`
	NoReferenceRule      string `json:"no_reference_rule"`
}

// Report is the full baseline response envelope.
type Report struct {
	Status             string                  `json:"status"`
	APIVersion         string                  `json:"api_version"`
	UserID             string                  `json:"user_id"`
	Tag                string                  `json:"tag"`
	Metrics            []string                `json:"metrics"`
	MPointsRequested   int                     `json:"m_points_requested"`
	MPointsActual      int                     `json:"m_points_actual"`
	NPointsRequested   int                     `json:"n_points_requested"`
	NPointsActual      int                     `json:"n_points_actual"`
	TotalSessions      int                     `json:"total_sessions"`
	MaxSessionsApplied *int                    `json:"max_sessions_applied"`
	UpdatedAt          string                  `json:"updated_at"`
	FixedBaseline      map[string]*FixedMetric `json:"fixed_baseline"`
	DynamicBaseline    []DynamicSession        `json:"dynamic_baseline"`
	Warnings           []string                `json:"warnings"`
	Notes              Notes                   `json:"notes"`
}
