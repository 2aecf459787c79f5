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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrvbrain/hrvbrain/services/hrv/datatypes"
)

func rmssdSession(idx int, rmssd *float64) datatypes.Session {
	return datatypes.Session{
		SessionID:       fmt.Sprintf("s-%02d", idx),
		UserID:          "u1",
		Tag:             datatypes.TagA,
		Subtag:          "A_single",
		RecordedAt:      time.Date(2026, 8, 1, 7, 0, 0, 0, time.UTC).AddDate(0, 0, idx),
		DurationMinutes: 5,
		Status:          datatypes.StatusProcessed,
		Metrics:         datatypes.MetricSet{CountRR: 375, RMSSD: rmssd},
	}
}

func rmssdSeries(values ...float64) []datatypes.Session {
	out := make([]datatypes.Session, len(values))
	for i, v := range values {
		val := v
		out[i] = rmssdSession(i, &val)
	}
	return out
}

func rmssdParams() Params {
	return Params{
		Tag:     datatypes.TagA,
		Metrics: []datatypes.Metric{datatypes.MetricRMSSD},
	}
}

func TestParamsNormalization(t *testing.T) {
	p := Params{}.Normalized()
	assert.Equal(t, datatypes.TagC, p.Tag)
	assert.Len(t, p.Metrics, 4)
	assert.Equal(t, DefaultFixedPoints, p.FixedPoints)
	assert.Equal(t, DefaultRollingWindow, p.RollingWindow)
	assert.Equal(t, DefaultMaxSessions, p.MaxSessions)

	p = Params{FixedPoints: 99, RollingWindow: 1, MaxSessions: 2}.Normalized()
	assert.Equal(t, MaxFixedPoints, p.FixedPoints)
	assert.Equal(t, MinRollingWindow, p.RollingWindow)
	assert.Equal(t, MinMaxSessions, p.MaxSessions)
}

func TestComputeEmptyHistory(t *testing.T) {
	report, err := Compute(context.Background(), "u1", nil, rmssdParams())
	require.NoError(t, err)
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, 0, report.TotalSessions)
	assert.Empty(t, report.DynamicBaseline)
	require.Contains(t, report.FixedBaseline, "rmssd")
	assert.Equal(t, 0, report.FixedBaseline["rmssd"].Count)
	assert.Nil(t, report.MaxSessionsApplied)
}

func TestComputeRejectsUnknownMetric(t *testing.T) {
	p := rmssdParams()
	p.Metrics = []datatypes.Metric{"heartiness"}
	_, err := Compute(context.Background(), "u1", nil, p)
	assert.Error(t, err)
}

func TestFixedBaselineSuppressedUnderFivePoints(t *testing.T) {
	report, err := Compute(context.Background(), "u1", rmssdSeries(40, 42, 44, 46), rmssdParams())
	require.NoError(t, err)

	fb := report.FixedBaseline["rmssd"]
	require.NotNil(t, fb)
	assert.Equal(t, 4, fb.Count)
	assert.Nil(t, fb.Mean)
	assert.Nil(t, fb.SD)
	assert.Nil(t, fb.Median)
	assert.Nil(t, fb.MeanPlus2SD)
	assert.NotEmpty(t, report.Warnings)
}

func TestFixedBaselineKnownValues(t *testing.T) {
	report, err := Compute(context.Background(), "u1", rmssdSeries(40, 42, 44, 46, 48), rmssdParams())
	require.NoError(t, err)

	fb := report.FixedBaseline["rmssd"]
	require.NotNil(t, fb)
	assert.Equal(t, 5, fb.Count)
	require.NotNil(t, fb.Mean)
	assert.InDelta(t, 44, *fb.Mean, 1e-9)
	// population SD of {40,42,44,46,48} = sqrt(8) = 2.83
	assert.InDelta(t, 2.83, *fb.SD, 1e-9)
	assert.InDelta(t, 44, *fb.Median, 1e-9)
	// MAD = 2, scaled by 1.4826
	assert.InDelta(t, 2.97, *fb.SDMedian, 1e-9)
	assert.InDelta(t, 40, *fb.Min, 1e-9)
	assert.InDelta(t, 48, *fb.Max, 1e-9)
	assert.InDelta(t, 8, *fb.Range, 1e-9)
	assert.InDelta(t, 44-2*2.83, *fb.MeanMinus2SD, 1e-9)
	assert.Empty(t, report.Warnings)
}

func TestFixedBaselineUsesMostRecentPoints(t *testing.T) {
	// 20 sessions at 40, then 5 at 60: with m=5 only the recent block
	// counts.
	values := make([]float64, 0, 25)
	for i := 0; i < 20; i++ {
		values = append(values, 40)
	}
	for i := 0; i < 5; i++ {
		values = append(values, 60)
	}
	p := rmssdParams()
	p.FixedPoints = 5

	report, err := Compute(context.Background(), "u1", rmssdSeries(values...), p)
	require.NoError(t, err)
	fb := report.FixedBaseline["rmssd"]
	require.NotNil(t, fb.Mean)
	assert.InDelta(t, 60, *fb.Mean, 1e-9)
	assert.Equal(t, 5, fb.Count)
}

func TestRollingWindowShrinksAtSeriesStart(t *testing.T) {
	p := rmssdParams()
	p.RollingWindow = 3

	report, err := Compute(context.Background(), "u1", rmssdSeries(40, 44, 48, 52), p)
	require.NoError(t, err)
	require.Len(t, report.DynamicBaseline, 4)

	wantSizes := []int{1, 2, 3, 3}
	for i, row := range report.DynamicBaseline {
		rs := row.RollingStats["rmssd"]
		require.NotNil(t, rs, "row %d", i)
		assert.Equal(t, wantSizes[i], rs.WindowSize, "row %d", i)
	}

	// Last window is {44, 48, 52}.
	last := report.DynamicBaseline[3].RollingStats["rmssd"]
	assert.InDelta(t, 48, last.Mean, 1e-9)
	assert.Equal(t, 4, report.DynamicBaseline[3].SessionIndex)
}

func TestNilMetricsAreSkippedNotZeroFilled(t *testing.T) {
	v1, v3 := 40.0, 44.0
	sessions := []datatypes.Session{
		rmssdSession(0, &v1),
		rmssdSession(1, nil),
		rmssdSession(2, &v3),
	}

	report, err := Compute(context.Background(), "u1", sessions, rmssdParams())
	require.NoError(t, err)
	require.Len(t, report.DynamicBaseline, 3)

	gap := report.DynamicBaseline[1]
	assert.Nil(t, gap.Metrics["rmssd"])
	assert.NotContains(t, gap.RollingStats, "rmssd")
	assert.NotContains(t, gap.Trends, "rmssd")

	// The gap does not pollute the next window: it holds {40, 44}.
	after := report.DynamicBaseline[2].RollingStats["rmssd"]
	require.NotNil(t, after)
	assert.Equal(t, 2, after.WindowSize)
	assert.InDelta(t, 42, after.Mean, 1e-9)

	assert.Equal(t, 2, report.FixedBaseline["rmssd"].Count)
}

func TestActualPointCountsFollowNonNilSamples(t *testing.T) {
	// Eight sessions, only three carrying the metric: the actual window
	// sizes must not claim more points than can ever feed a window.
	v := 42.0
	sessions := make([]datatypes.Session, 8)
	for i := range sessions {
		if i%3 == 0 {
			sessions[i] = rmssdSession(i, &v)
		} else {
			sessions[i] = rmssdSession(i, nil)
		}
	}

	report, err := Compute(context.Background(), "u1", sessions, rmssdParams())
	require.NoError(t, err)
	assert.Equal(t, DefaultFixedPoints, report.MPointsRequested)
	assert.Equal(t, 3, report.MPointsActual)
	assert.Equal(t, 3, report.NPointsActual)
	assert.Equal(t, 8, report.TotalSessions)
	assert.NotEmpty(t, report.Notes.NoReferenceRule)
}

func TestTrendsFlagExcursions(t *testing.T) {
	// Ten steady sessions then a spike well past two baseline SDs.
	values := []float64{44, 44, 44, 44, 44, 44, 44, 44, 44, 44, 60}
	report, err := Compute(context.Background(), "u1", rmssdSeries(values...), rmssdParams())
	require.NoError(t, err)

	last := report.DynamicBaseline[len(report.DynamicBaseline)-1]
	trend := last.Trends["rmssd"]
	require.NotNil(t, trend)
	assert.Equal(t, "above_baseline", trend.Direction)
	assert.Equal(t, SignificanceHigh, trend.Significance)
	require.NotNil(t, trend.ZFixed)
	assert.Greater(t, *trend.ZFixed, 2.58)
	assert.Contains(t, last.Flags, "rmssd_above_2sd")
}

func TestTrendDirectionBoundaryIsInclusive(t *testing.T) {
	fixed := &FixedMetric{Count: 10, Mean: ptr(40), SD: ptr(2)}

	cases := []struct {
		name  string
		value float64
		want  string
	}{
		{"exactly five percent above", 42, DirectionAbove},
		{"exactly five percent below", 38, DirectionBelow},
		{"inside the band", 41, DirectionStable},
		{"just under the band", 38.1, DirectionStable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trend := trendFor(tc.value, fixed, nil)
			assert.Equal(t, tc.want, trend.Direction)
		})
	}
}

func TestTrendsOnFlatSeries(t *testing.T) {
	report, err := Compute(context.Background(), "u1", rmssdSeries(44, 44, 44, 44, 44, 44), rmssdParams())
	require.NoError(t, err)

	last := report.DynamicBaseline[5]
	trend := last.Trends["rmssd"]
	require.NotNil(t, trend)
	assert.Equal(t, DirectionStable, trend.Direction)
	// Zero spread means no z-score on either reference.
	assert.Nil(t, trend.ZFixed)
	assert.Nil(t, trend.ZRolling)
	assert.Equal(t, SignificanceUnknown, trend.Significance)
	assert.Empty(t, last.Flags)
}

func TestMaxSessionsTruncatesRowsOnly(t *testing.T) {
	values := make([]float64, 25)
	for i := range values {
		values[i] = 40 + float64(i)
	}
	p := rmssdParams()
	p.MaxSessions = 10

	report, err := Compute(context.Background(), "u1", rmssdSeries(values...), p)
	require.NoError(t, err)

	require.Len(t, report.DynamicBaseline, 10)
	require.NotNil(t, report.MaxSessionsApplied)
	assert.Equal(t, 10, *report.MaxSessionsApplied)
	assert.Equal(t, 25, report.TotalSessions)

	// Indices keep their true chronological positions.
	assert.Equal(t, 16, report.DynamicBaseline[0].SessionIndex)
	assert.Equal(t, 25, report.DynamicBaseline[9].SessionIndex)

	// Statistics still cover full history: the fixed baseline is over
	// the last m=14 points, not the last 10 rows.
	assert.Equal(t, 14, report.FixedBaseline["rmssd"].Count)
}

func TestDynamicRowCarriesSessionTags(t *testing.T) {
	v := 40.0
	sess := rmssdSession(0, &v)
	sess.Tag = datatypes.TagC
	sess.Subtag = "C_interval_2"
	sess.GroupID = 7
	p := rmssdParams()
	p.Tag = datatypes.TagC

	report, err := Compute(context.Background(), "u1", []datatypes.Session{sess}, p)
	require.NoError(t, err)
	require.Len(t, report.DynamicBaseline, 1)
	assert.Equal(t, []string{"C", "C_interval_2", "group_7"}, report.DynamicBaseline[0].Tags)
}
