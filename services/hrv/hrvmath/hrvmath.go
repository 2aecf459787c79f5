// Copyright (C) 2025 HRVBrain Project (dev@hrvbrain.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package hrvmath computes the derived heart-rate-variability metrics for
// one RR interval series.
//
// # Description
//
// All functions are pure and deterministic. A metric that is undefined
// for the given series (too few beats, zero variability) comes back nil
// rather than as a placeholder value; nothing in this package panics on
// user data. Standard deviations are population standard deviations
// throughout.
//
// # Thread Safety
//
// Stateless; safe for concurrent use.
package hrvmath

import (
	"math"

	"github.com/hrvbrain/hrvbrain/services/hrv/datatypes"
)

const (
	// dfaMinIntervals is the minimum series length for a meaningful
	// detrended fluctuation slope.
	dfaMinIntervals = 50

	dfaMinScale  = 4
	dfaMaxScale  = 64
	dfaNumScales = 10

	dfaFloor = 0.3
	dfaCeil  = 2.0

	// pNN50 counts successive differences strictly greater than 50 ms.
	pnn50ThresholdMS = 50.0
)

// Compute derives the full metric set for rr, an RR interval series in
// milliseconds. Undefined metrics are left nil.
func Compute(rr []float64) datatypes.MetricSet {
	return datatypes.MetricSet{
		CountRR:   len(rr),
		MeanRR:    MeanRR(rr),
		MeanHR:    MeanHR(rr),
		SDNN:      SDNN(rr),
		RMSSD:     RMSSD(rr),
		PNN50:     PNN50(rr),
		CVRR:      CVRR(rr),
		DFAAlpha1: DFAAlpha1(rr),
		SD2SD1:    SD2SD1(rr),
	}
}

// MeanRR returns the mean RR interval in milliseconds, 2 dp.
func MeanRR(rr []float64) *float64 {
	if len(rr) == 0 {
		return nil
	}
	return ptr(round2(mean(rr)))
}

// MeanHR returns the mean heart rate in beats per minute, 2 dp.
// Defined as 60000 / mean RR.
func MeanHR(rr []float64) *float64 {
	if len(rr) == 0 {
		return nil
	}
	m := mean(rr)
	if m <= 0 {
		return nil
	}
	return ptr(round2(60000.0 / m))
}

// SDNN returns the population standard deviation of the RR series in
// milliseconds, 2 dp. Needs at least two beats.
func SDNN(rr []float64) *float64 {
	if len(rr) < 2 {
		return nil
	}
	return ptr(round2(popSD(rr)))
}

// RMSSD returns the root mean square of successive differences in
// milliseconds, 2 dp. Needs at least two beats.
func RMSSD(rr []float64) *float64 {
	if len(rr) < 2 {
		return nil
	}
	var sum float64
	for i := 1; i < len(rr); i++ {
		d := rr[i] - rr[i-1]
		sum += d * d
	}
	return ptr(round2(math.Sqrt(sum / float64(len(rr)-1))))
}

// PNN50 returns the percentage of successive differences strictly greater
// than 50 ms, 2 dp. Needs at least two beats.
func PNN50(rr []float64) *float64 {
	if len(rr) < 2 {
		return nil
	}
	var over int
	for i := 1; i < len(rr); i++ {
		if math.Abs(rr[i]-rr[i-1]) > pnn50ThresholdMS {
			over++
		}
	}
	return ptr(round2(100.0 * float64(over) / float64(len(rr)-1)))
}

// CVRR returns the coefficient of variation, SDNN over mean RR as a
// percentage, 2 dp.
func CVRR(rr []float64) *float64 {
	if len(rr) < 2 {
		return nil
	}
	m := mean(rr)
	if m <= 0 {
		return nil
	}
	return ptr(round2(popSD(rr) / m * 100.0))
}

// SD2SD1 returns the Poincare plot axis ratio SD2/SD1, 2 dp.
//
// SD1 is the population SD of successive differences over sqrt(2), SD2
// the population SD of successive sums over sqrt(2). A series with zero
// short-term variability has SD1 == 0 and no defined ratio, so the result
// is nil, not an arbitrary constant.
func SD2SD1(rr []float64) *float64 {
	if len(rr) < 2 {
		return nil
	}
	n := len(rr) - 1
	diffs := make([]float64, n)
	sums := make([]float64, n)
	for i := 0; i < n; i++ {
		diffs[i] = rr[i+1] - rr[i]
		sums[i] = rr[i+1] + rr[i]
	}
	sd1 := popSD(diffs) / math.Sqrt2
	if sd1 == 0 {
		return nil
	}
	sd2 := popSD(sums) / math.Sqrt2
	return ptr(round2(sd2 / sd1))
}

// DFAAlpha1 returns the short-term detrended fluctuation scaling exponent,
// 4 dp, clamped to [0.3, 2.0].
//
// The series is centered and integrated, split into boxes at ten
// log-spaced scales between 4 and min(n/4, 64) beats, linearly detrended
// per box, and the RMS fluctuation is regressed against scale in log-log
// space. The slope is alpha1. Series under 50 beats, or series yielding
// fewer than three usable scales, have no defined exponent and return nil.
func DFAAlpha1(rr []float64) *float64 {
	n := len(rr)
	if n < dfaMinIntervals {
		return nil
	}
	maxScale := n / 4
	if maxScale > dfaMaxScale {
		maxScale = dfaMaxScale
	}
	if maxScale < dfaMinScale {
		return nil
	}

	// Integrated, mean-centered profile.
	m := mean(rr)
	y := make([]float64, n)
	var acc float64
	for i, v := range rr {
		acc += v - m
		y[i] = acc
	}

	scales := logScales(dfaMinScale, maxScale, dfaNumScales)
	if len(scales) < 3 {
		return nil
	}

	var logS, logF []float64
	for _, s := range scales {
		f := fluctuation(y, s)
		if f <= 0 {
			continue
		}
		logS = append(logS, math.Log10(float64(s)))
		logF = append(logF, math.Log10(f))
	}
	if len(logS) < 3 {
		return nil
	}

	slope, _ := linearFit(logS, logF)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return nil
	}
	if slope < dfaFloor {
		slope = dfaFloor
	} else if slope > dfaCeil {
		slope = dfaCeil
	}
	return ptr(round4(slope))
}

// fluctuation is the RMS residual of per-box linear detrending of the
// profile y at box size s.
func fluctuation(y []float64, s int) float64 {
	boxes := len(y) / s
	if boxes == 0 {
		return 0
	}
	xs := make([]float64, s)
	for i := range xs {
		xs[i] = float64(i)
	}
	var sumSq float64
	var count int
	for b := 0; b < boxes; b++ {
		seg := y[b*s : (b+1)*s]
		slope, intercept := linearFit(xs, seg)
		for i, v := range seg {
			r := v - (slope*xs[i] + intercept)
			sumSq += r * r
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sumSq / float64(count))
}

// logScales returns up to num distinct integer box sizes log-spaced over
// [lo, hi], ascending.
func logScales(lo, hi, num int) []int {
	if hi <= lo {
		return []int{lo}
	}
	logLo := math.Log10(float64(lo))
	logHi := math.Log10(float64(hi))
	out := make([]int, 0, num)
	seen := make(map[int]bool, num)
	for i := 0; i < num; i++ {
		t := logLo + (logHi-logLo)*float64(i)/float64(num-1)
		s := int(math.Round(math.Pow(10, t)))
		if s < lo {
			s = lo
		}
		if s > hi {
			s = hi
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// linearFit returns the least-squares slope and intercept of y on x.
// Degenerate inputs yield NaN slope.
func linearFit(x, y []float64) (slope, intercept float64) {
	n := float64(len(x))
	if len(x) != len(y) || len(x) < 2 {
		return math.NaN(), math.NaN()
	}
	var sx, sy, sxx, sxy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
		sxx += x[i] * x[i]
		sxy += x[i] * y[i]
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return math.NaN(), math.NaN()
	}
	slope = (n*sxy - sx*sy) / den
	intercept = (sy - slope*sx) / n
	return slope, intercept
}

func mean(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func popSD(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	m := mean(v)
	var sum float64
	for _, x := range v {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(v)))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

func ptr(v float64) *float64 { return &v }
