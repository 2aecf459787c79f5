// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation checks submitted sessions against the tag grammar,
// physiological ranges, and the duration consistency policy before
// anything touches storage.
package validation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hrvbrain/hrvbrain/services/hrv/datatypes"
)

// Issue codes. Errors block the submission; warnings are recorded on the
// report and do not.
const (
	CodeInvalidField     = "invalid_field"
	CodeInvalidTag       = "invalid_tag"
	CodeInvalidSubtag    = "invalid_subtag"
	CodeGroupNotAllowed  = "group_id_not_allowed"
	CodeTimestampInvalid = "timestamp_invalid"
	CodeTimestampFuture  = "timestamp_future"
	CodeRROutOfRange     = "rr_out_of_range"
	CodeRRCountMismatch  = "rr_count_mismatch"
	CodeShortSeries      = "short_series"
	CodeDurationMismatch = "duration_mismatch"
	CodeDurationDrift    = "duration_drift"
	CodeMetricOutOfRange = "metric_out_of_range"
)

// RR intervals outside this window are physiologically implausible and
// rejected, never clamped.
const (
	rrMinMS = 200.0
	rrMaxMS = 2000.0
)

// Series shorter than this still validate but are flagged: most derived
// metrics are statistically weak under ten beats.
const shortSeriesBeats = 10

// Mean heart rate outside this open interval marks a corrupted series.
const (
	meanHRFloorBPM = 30.0
	meanHRCeilBPM  = 250.0
)

// futureSkew is how far ahead of server time a recorded_at may sit before
// it is flagged (clock drift allowance).
const futureSkew = 5 * time.Minute

// Issue is one finding against a submitted session.
type Issue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DurationAnalysis compares the declared session length against the one
// implied by the RR series.
type DurationAnalysis struct {
	DeclaredSeconds  float64 `json:"declared_seconds"`
	ComputedSeconds  float64 `json:"computed_seconds"`
	DeltaSeconds     float64 `json:"delta_seconds"`
	ToleranceSeconds float64 `json:"tolerance_seconds"`
	Match            bool    `json:"match"`
}

// RRAnalysis summarizes the raw series.
type RRAnalysis struct {
	Count   int     `json:"count"`
	TotalMS float64 `json:"total_ms"`
	AvgMS   float64 `json:"avg_ms"`
}

// Report is the full validation outcome for one submission. It is
// returned to the caller verbatim on rejection so the client can see
// every finding at once rather than fixing fields one round trip at a
// time.
type Report struct {
	Valid    bool              `json:"is_valid"`
	Errors   []Issue           `json:"errors"`
	Warnings []Issue           `json:"warnings"`
	Duration *DurationAnalysis `json:"duration_analysis,omitempty"`
	RR       *RRAnalysis       `json:"rr_analysis,omitempty"`
}

func (r *Report) addError(field, code, msg string) {
	r.Errors = append(r.Errors, Issue{Field: field, Code: code, Message: msg})
}

func (r *Report) addWarning(field, code, msg string) {
	r.Warnings = append(r.Warnings, Issue{Field: field, Code: code, Message: msg})
}

// DurationPolicy sets the windows of the duration consistency check.
// Within ToleranceSeconds the declared duration matches. Past that, up to
// max(SlackSeconds, SlackFraction x declared), the mismatch is a warning.
// Beyond it the submission is rejected.
type DurationPolicy struct {
	ToleranceSeconds float64
	SlackSeconds     float64
	SlackFraction    float64
}

// DefaultDurationPolicy returns the stock policy: 5 s hard match, warning
// out to max(30 s, 20% of declared).
func DefaultDurationPolicy() DurationPolicy {
	return DurationPolicy{
		ToleranceSeconds: 5,
		SlackSeconds:     30,
		SlackFraction:    0.20,
	}
}

// Validator runs the full rule set against submissions.
//
// # Thread Safety
//
// Safe for concurrent use once constructed.
type Validator struct {
	policy DurationPolicy
	check  *validator.Validate
	now    func() time.Time
}

// New builds a Validator with the given duration policy.
func New(policy DurationPolicy) *Validator {
	v := validator.New()
	// The payload carries its constraints in gin binding tags; reuse
	// them here so the rules exist in exactly one place.
	v.SetTagName("binding")
	return &Validator{
		policy: policy,
		check:  v,
		now:    time.Now,
	}
}

// Validate checks p and, when it passes, returns the cleaned Session
// skeleton (identity, tag, timing, raw series; no metrics yet). The
// report is always returned. A session is only non-nil when
// report.Valid is true.
func (v *Validator) Validate(p datatypes.SubmitPayload) (*datatypes.Session, *Report) {
	report := &Report{}

	if err := v.check.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				report.addError(fe.Field(), CodeInvalidField,
					fmt.Sprintf("field %s fails %q constraint", fe.Field(), fe.Tag()))
			}
		} else {
			report.addError("", CodeInvalidField, err.Error())
		}
	}

	tag, tagErr := datatypes.ParseTag(p.Tag)
	if tagErr != nil {
		report.addError("tag", CodeInvalidTag,
			fmt.Sprintf("tag must be one of A, B, C, D; got %q", p.Tag))
	}

	interval := 0
	if tagErr == nil {
		if !datatypes.ValidSubtag(tag, p.Subtag) {
			report.addError("subtag", CodeInvalidSubtag,
				fmt.Sprintf("subtag %q does not match the %s grammar", p.Subtag, tag))
		} else if tag == datatypes.TagC {
			interval, _ = datatypes.IntervalFromSubtag(p.Subtag)
		}
	}

	if tagErr == nil && tag != datatypes.TagC && p.GroupID != 0 {
		report.addError("group_id", CodeGroupNotAllowed,
			fmt.Sprintf("group_id must be 0 for tag %s sessions", tag))
	}

	recordedAt, tsErr := time.Parse(time.RFC3339, p.RecordedAt)
	if tsErr != nil {
		report.addError("recorded_at", CodeTimestampInvalid,
			"recorded_at must be RFC3339 with an explicit UTC offset")
	} else if recordedAt.After(v.now().Add(futureSkew)) {
		report.addWarning("recorded_at", CodeTimestampFuture,
			"recorded_at is ahead of server time")
	}

	var totalMS float64
	for i, rr := range p.RRIntervals {
		totalMS += rr
		if rr < rrMinMS || rr > rrMaxMS {
			report.addError(fmt.Sprintf("rr_intervals[%d]", i), CodeRROutOfRange,
				fmt.Sprintf("interval %.1f ms outside [%d, %d]", rr, int(rrMinMS), int(rrMaxMS)))
		}
	}
	if n := len(p.RRIntervals); n > 0 {
		report.RR = &RRAnalysis{
			Count:   n,
			TotalMS: totalMS,
			AvgMS:   totalMS / float64(n),
		}
		if n < shortSeriesBeats {
			report.addWarning("rr_intervals", CodeShortSeries,
				fmt.Sprintf("only %d intervals; derived metrics will be weak", n))
		}
	}

	if p.RRCount != nil && *p.RRCount != len(p.RRIntervals) {
		report.addError("rr_count", CodeRRCountMismatch,
			fmt.Sprintf("rr_count %d does not match %d intervals", *p.RRCount, len(p.RRIntervals)))
	}

	if p.DurationMinutes > 0 && len(p.RRIntervals) > 0 {
		v.checkDuration(p.DurationMinutes, totalMS, report)
	}

	report.Valid = len(report.Errors) == 0
	if !report.Valid {
		return nil, report
	}

	return &datatypes.Session{
		SessionID:       p.SessionID,
		Tag:             tag,
		Subtag:          p.Subtag,
		GroupID:         p.GroupID,
		IntervalNumber:  interval,
		RecordedAt:      recordedAt.UTC(),
		DurationMinutes: p.DurationMinutes,
		RRIntervals:     p.RRIntervals,
		RRCount:         len(p.RRIntervals),
		Status:          datatypes.StatusReceived,
	}, report
}

// checkDuration applies the three-band policy and records the analysis.
func (v *Validator) checkDuration(declaredMin, totalMS float64, report *Report) {
	declared := declaredMin * 60
	computed := totalMS / 1000
	delta := math.Abs(declared - computed)

	report.Duration = &DurationAnalysis{
		DeclaredSeconds:  declared,
		ComputedSeconds:  computed,
		DeltaSeconds:     delta,
		ToleranceSeconds: v.policy.ToleranceSeconds,
		Match:            delta <= v.policy.ToleranceSeconds,
	}
	if report.Duration.Match {
		return
	}

	slack := v.policy.SlackSeconds
	if frac := v.policy.SlackFraction * declared; frac > slack {
		slack = frac
	}
	msg := fmt.Sprintf("declared %.0f s but RR series sums to %.1f s", declared, computed)
	if delta <= slack {
		report.addWarning("duration_minutes", CodeDurationDrift, msg)
	} else {
		report.addError("duration_minutes", CodeDurationMismatch, msg)
	}
}

// CheckMetricRanges flags computed metrics that fall outside plausible
// physiological bounds. Run after metric computation, before commit.
func CheckMetricRanges(ms datatypes.MetricSet) []Issue {
	var issues []Issue
	if ms.MeanHR != nil && (*ms.MeanHR <= meanHRFloorBPM || *ms.MeanHR >= meanHRCeilBPM) {
		issues = append(issues, Issue{
			Field:   "mean_hr",
			Code:    CodeMetricOutOfRange,
			Message: fmt.Sprintf("mean heart rate %.1f bpm outside (%.0f, %.0f)", *ms.MeanHR, meanHRFloorBPM, meanHRCeilBPM),
		})
	}
	return issues
}
