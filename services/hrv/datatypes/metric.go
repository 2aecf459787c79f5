// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "fmt"

// Metric names one of the nine computed HRV metrics. The set is closed:
// analytics requests naming anything else are rejected up front instead of
// silently producing empty columns.
type Metric string

const (
	MetricCountRR   Metric = "count_rr"
	MetricMeanRR    Metric = "mean_rr"
	MetricMeanHR    Metric = "mean_hr"
	MetricSDNN      Metric = "sdnn"
	MetricRMSSD     Metric = "rmssd"
	MetricPNN50     Metric = "pnn50"
	MetricCVRR      Metric = "cv_rr"
	MetricDFAAlpha1 Metric = "dfa_alpha1"
	MetricSD2SD1    Metric = "sd2_sd1"
)

// AllMetrics lists every metric in a stable order.
func AllMetrics() []Metric {
	return []Metric{
		MetricCountRR, MetricMeanRR, MetricMeanHR, MetricSDNN,
		MetricRMSSD, MetricPNN50, MetricCVRR, MetricDFAAlpha1,
		MetricSD2SD1,
	}
}

// Valid reports whether m names a known metric.
func (m Metric) Valid() bool {
	switch m {
	case MetricCountRR, MetricMeanRR, MetricMeanHR, MetricSDNN,
		MetricRMSSD, MetricPNN50, MetricCVRR, MetricDFAAlpha1,
		MetricSD2SD1:
		return true
	}
	return false
}

// ParseMetric converts a raw string into a Metric.
func ParseMetric(s string) (Metric, error) {
	m := Metric(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown metric %q", s)
	}
	return m, nil
}

// Value extracts the named metric from the set. The second return is
// false when the metric is nil (undefined for the session's interval
// series).
func (ms MetricSet) Value(m Metric) (float64, bool) {
	var p *float64
	switch m {
	case MetricCountRR:
		return float64(ms.CountRR), true
	case MetricMeanRR:
		p = ms.MeanRR
	case MetricMeanHR:
		p = ms.MeanHR
	case MetricSDNN:
		p = ms.SDNN
	case MetricRMSSD:
		p = ms.RMSSD
	case MetricPNN50:
		p = ms.PNN50
	case MetricCVRR:
		p = ms.CVRR
	case MetricDFAAlpha1:
		p = ms.DFAAlpha1
	case MetricSD2SD1:
		p = ms.SD2SD1
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}
