// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrvbrain/hrvbrain/services/hrv/datatypes"
)

// Compute builds the baseline report for one user's sessions of one tag.
//
// # Description
//
// sessions must be chronological (the stores guarantee this). Statistics
// are computed over the full history; the MaxSessions cap truncates only
// the returned dynamic rows, whose SessionIndex keeps the true
// chronological position. Metrics that are nil on a given session are
// skipped, never zero-filled.
//
// Fixed baselines for the requested metrics are independent of each
// other and computed concurrently.
func Compute(ctx context.Context, userID string, sessions []datatypes.Session, p Params) (*Report, error) {
	p = p.Normalized()

	for _, m := range p.Metrics {
		if !m.Valid() {
			return nil, fmt.Errorf("unknown metric %q", m)
		}
	}

	// Dynamic rows and the fixed window both assume chronological order.
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].RecordedAt.Before(sessions[j].RecordedAt)
	})

	report := &Report{
		Status:           "ok",
		APIVersion:       APIVersion,
		UserID:           userID,
		Tag:              string(p.Tag),
		Metrics:          metricNames(p.Metrics),
		MPointsRequested: p.FixedPoints,
		NPointsRequested: p.RollingWindow,
		TotalSessions:    len(sessions),
		UpdatedAt:        time.Now().UTC().Format(time.RFC3339),
		FixedBaseline:    make(map[string]*FixedMetric, len(p.Metrics)),
		DynamicBaseline:  []DynamicSession{},
		Warnings:         []string{},
		Notes: Notes{
			Method:               "fixed baseline over the most recent m valid points per metric; rolling mean over a trailing n-point window",
			Bands:                "mean +/- 1 and 2 SD; median bands use MAD x 1.4826",
			InsufficientBandRule: fmt.Sprintf("bands suppressed when fewer than %d baseline points are available", minBaselinePoints),
			NoReferenceRule:      "direction and significance read unknown when the session has no usable fixed or rolling reference",
		},
	}

	// Actual window sizes reflect non-nil samples, not raw session count:
	// a metric missing on half the history cannot feed a full window.
	available := 0
	for _, m := range p.Metrics {
		n := 0
		for i := range sessions {
			if _, ok := sessions[i].Metrics.Value(m); ok {
				n++
			}
		}
		if n > available {
			available = n
		}
	}
	report.MPointsActual = min(p.FixedPoints, available)
	report.NPointsActual = min(p.RollingWindow, available)

	// Fixed baselines, one goroutine per metric.
	fixed := make([]*FixedMetric, len(p.Metrics))
	g, _ := errgroup.WithContext(ctx)
	for i, m := range p.Metrics {
		g.Go(func() error {
			fixed[i] = fixedBaseline(sessions, m, p.FixedPoints)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, m := range p.Metrics {
		report.FixedBaseline[string(m)] = fixed[i]
		if fixed[i].Count > 0 && fixed[i].Count < minBaselinePoints {
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"%s: only %d baseline points, bands suppressed", m, fixed[i].Count))
		}
	}

	rows := dynamicSeries(sessions, p, fixed)

	// Truncate returned rows only.
	if len(rows) > p.MaxSessions {
		rows = rows[len(rows)-p.MaxSessions:]
		applied := p.MaxSessions
		report.MaxSessionsApplied = &applied
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"dynamic series truncated to the most recent %d of %d sessions", applied, len(sessions)))
	}
	report.DynamicBaseline = rows

	return report, nil
}

// fixedBaseline computes the reference statistics for one metric over the
// most recent m non-nil samples.
func fixedBaseline(sessions []datatypes.Session, m datatypes.Metric, points int) *FixedMetric {
	var values []float64
	for i := range sessions {
		if v, ok := sessions[i].Metrics.Value(m); ok {
			values = append(values, v)
		}
	}
	if len(values) > points {
		values = values[len(values)-points:]
	}

	out := &FixedMetric{Count: len(values)}
	if len(values) < minBaselinePoints {
		return out
	}

	mn := mean(values)
	sd := popSD(values)
	med := median(values)
	sdMed := madSD(values, med)
	lo, hi := minMax(values)

	out.Mean = ptr(round2(mn))
	out.SD = ptr(round2(sd))
	out.Median = ptr(round2(med))
	out.SDMedian = ptr(round2(sdMed))
	out.MeanMinus1SD = ptr(round2(mn - sd))
	out.MeanPlus1SD = ptr(round2(mn + sd))
	out.MeanMinus2SD = ptr(round2(mn - 2*sd))
	out.MeanPlus2SD = ptr(round2(mn + 2*sd))
	out.MedianMinus1SD = ptr(round2(med - sdMed))
	out.MedianPlus1SD = ptr(round2(med + sdMed))
	out.MedianMinus2SD = ptr(round2(med - 2*sdMed))
	out.MedianPlus2SD = ptr(round2(med + 2*sdMed))
	out.Min = ptr(round2(lo))
	out.Max = ptr(round2(hi))
	out.Range = ptr(round2(hi - lo))
	return out
}

// dynamicSeries walks the full history once, maintaining a trailing
// window per metric, and emits one annotated row per session.
func dynamicSeries(sessions []datatypes.Session, p Params, fixed []*FixedMetric) []DynamicSession {
	windows := make([][]float64, len(p.Metrics))

	rows := make([]DynamicSession, 0, len(sessions))
	for idx := range sessions {
		sess := &sessions[idx]
		row := DynamicSession{
			SessionID:       sess.SessionID,
			Timestamp:       sess.RecordedAt.Format(time.RFC3339),
			DurationMinutes: sess.DurationMinutes,
			SessionIndex:    idx + 1,
			Metrics:         make(map[string]*float64, len(p.Metrics)),
			RollingStats:    make(map[string]*RollingMetric, len(p.Metrics)),
			Trends:          make(map[string]*TrendMetric, len(p.Metrics)),
			Flags:           []string{},
			Tags:            sessionTags(sess),
		}

		for i, m := range p.Metrics {
			v, ok := sess.Metrics.Value(m)
			if !ok {
				row.Metrics[string(m)] = nil
				continue
			}
			row.Metrics[string(m)] = ptr(round2(v))

			windows[i] = append(windows[i], v)
			window := windows[i]
			if len(window) > p.RollingWindow {
				window = window[len(window)-p.RollingWindow:]
			}

			rolling := rollingStats(window)
			row.RollingStats[string(m)] = rolling

			trend := trendFor(v, fixed[i], rolling)
			row.Trends[string(m)] = trend

			if trend.ZFixed != nil {
				if *trend.ZFixed >= 2 {
					row.Flags = append(row.Flags, fmt.Sprintf("%s_above_2sd", m))
				} else if *trend.ZFixed <= -2 {
					row.Flags = append(row.Flags, fmt.Sprintf("%s_below_2sd", m))
				}
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func rollingStats(window []float64) *RollingMetric {
	mn := mean(window)
	sd := popSD(window)
	return &RollingMetric{
		WindowSize:   len(window),
		Mean:         round2(mn),
		SD:           round2(sd),
		MeanMinus1SD: round2(mn - sd),
		MeanPlus1SD:  round2(mn + sd),
		MeanMinus2SD: round2(mn - 2*sd),
		MeanPlus2SD:  round2(mn + 2*sd),
	}
}

// directionBandPct is the percentage band around the reference mean
// outside which a session reads as above or below baseline. The bound
// itself is an excursion.
const directionBandPct = 5.0

// trendFor relates one session value to its references. The fixed
// baseline is preferred for direction and significance; the rolling
// window stands in when the fixed baseline is suppressed.
func trendFor(v float64, fixed *FixedMetric, rolling *RollingMetric) *TrendMetric {
	t := &TrendMetric{
		Direction:    DirectionUnknown,
		Significance: SignificanceUnknown,
	}

	var rawPct *float64

	if fixed != nil && fixed.Mean != nil {
		delta := v - *fixed.Mean
		t.DeltaVsFixed = ptr(round2(delta))
		if *fixed.Mean != 0 {
			rawPct = ptr(delta / *fixed.Mean * 100)
			t.PctVsFixed = ptr(round2(*rawPct))
		}
		if fixed.SD != nil && *fixed.SD > 0 {
			t.ZFixed = ptr(round2(delta / *fixed.SD))
		}
	}

	if rolling != nil {
		delta := v - rolling.Mean
		t.DeltaVsRolling = ptr(round2(delta))
		if rolling.Mean != 0 {
			pct := delta / rolling.Mean * 100
			if rawPct == nil {
				rawPct = ptr(pct)
			}
			t.PctVsRolling = ptr(round2(pct))
		}
		if rolling.SD > 0 {
			t.ZRolling = ptr(round2(delta / rolling.SD))
		}
	}

	// Direction classifies on the unrounded ratio so an exact 5%
	// excursion is not flattened into the stable band by rounding.
	if rawPct != nil {
		switch {
		case *rawPct >= directionBandPct:
			t.Direction = DirectionAbove
		case *rawPct <= -directionBandPct:
			t.Direction = DirectionBelow
		default:
			t.Direction = DirectionStable
		}
	}

	z := t.ZFixed
	if z == nil {
		z = t.ZRolling
	}
	if z != nil {
		switch abs := math.Abs(*z); {
		case abs >= 2.58:
			t.Significance = SignificanceHigh
		case abs >= 1.96:
			t.Significance = SignificanceStandard
		case abs >= 1.64:
			t.Significance = SignificanceMarginal
		default:
			t.Significance = SignificanceNone
		}
	}
	return t
}

func sessionTags(sess *datatypes.Session) []string {
	tags := []string{string(sess.Tag), sess.Subtag}
	if sess.Tag == datatypes.TagC {
		tags = append(tags, fmt.Sprintf("group_%d", sess.GroupID))
	}
	return tags
}

func metricNames(ms []datatypes.Metric) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = string(m)
	}
	return out
}
