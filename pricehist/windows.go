// Copyright 2025-2026
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pricehist

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// LowSnapshot captures the moving-low window as of a date.
type LowSnapshot struct {
	Date          time.Time
	Low           *Point
	MovingAverage decimal.Decimal
	HasNewLow     bool
}

// VolatilitySnapshot captures the daily standard deviation of returns over
// the volatility window as of a date.
type VolatilitySnapshot struct {
	Date            time.Time
	DailyVolatility decimal.Decimal
	Mean            decimal.Decimal
	SampleSize      int
}

// GainLossSnapshot captures the summed absolute up-moves and down-moves over
// the gain/loss window as of a date.
type GainLossSnapshot struct {
	Date           time.Time
	AbsoluteGains  decimal.Decimal
	AbsoluteLosses decimal.Decimal
}

// TryGetLowMetaInfo returns the most recent moving-low snapshot with
// snapshot date <= date. The second return value is false when the window
// has not accumulated enough history yet.
func (s *Series) TryGetLowMetaInfo(date time.Time) (*LowSnapshot, bool) {
	idx := sort.Search(len(s.lows), func(i int) bool {
		return s.lows[i].Date.After(date)
	}) - 1
	if idx < 0 {
		return nil, false
	}
	return s.lows[idx], true
}

// TryGetVolatilityInfo returns the most recent volatility snapshot with
// snapshot date <= date.
func (s *Series) TryGetVolatilityInfo(date time.Time) (*VolatilitySnapshot, bool) {
	idx := sort.Search(len(s.vols), func(i int) bool {
		return s.vols[i].Date.After(date)
	}) - 1
	if idx < 0 {
		return nil, false
	}
	return s.vols[idx], true
}

// TryGetAbsoluteLossesAndGains returns the most recent gain/loss snapshot
// with snapshot date <= date.
func (s *Series) TryGetAbsoluteLossesAndGains(date time.Time) (*GainLossSnapshot, bool) {
	idx := sort.Search(len(s.gains), func(i int) bool {
		return s.gains[i].Date.After(date)
	}) - 1
	if idx < 0 {
		return nil, false
	}
	return s.gains[idx], true
}

// updateWindows appends new window snapshots for the just-added point. Each
// window only activates once the series spans enough calendar days, and only
// ever consumes points with date <= the current point's date.
func (s *Series) updateWindows(point *Point) {
	first := s.points[0]
	elapsed := int(point.Date.Sub(first.Date).Hours() / 24)

	if elapsed >= s.settings.LowWindowDays {
		s.updateLowWindow(point)
	}
	if elapsed >= s.settings.VolatilityWindowDays {
		s.updateVolatilityWindow(point)
	}
	if elapsed >= s.settings.GainLossWindowDays {
		s.updateGainLossWindow(point)
	}
}

func (s *Series) updateLowWindow(point *Point) {
	cutoff := point.Date.AddDate(0, 0, -s.settings.LowWindowDays)
	for s.lowStart < len(s.points) && !s.points[s.lowStart].Date.After(cutoff) {
		s.lowStart++
	}

	low := s.points[s.lowStart]
	sum := decimal.Zero
	for _, p := range s.points[s.lowStart:] {
		if p.AdjustedPrice.LessThan(low.AdjustedPrice) {
			low = p
		}
		sum = sum.Add(p.AdjustedPrice)
	}
	count := decimal.NewFromInt(int64(len(s.points) - s.lowStart))

	s.lows = append(s.lows, &LowSnapshot{
		Date:          point.Date,
		Low:           low,
		MovingAverage: sum.Div(count),
		HasNewLow:     low == point,
	})
}

func (s *Series) updateVolatilityWindow(point *Point) {
	cutoff := point.Date.AddDate(0, 0, -s.settings.VolatilityWindowDays)
	for s.volStart < len(s.returns) && !s.returns[s.volStart].Date.After(cutoff) {
		expired := s.returns[s.volStart].Value
		s.volSum = s.volSum.Sub(expired)
		s.volSumSq = s.volSumSq.Sub(expired.Mul(expired))
		s.volStart++
	}

	n := len(s.returns) - s.volStart
	if n < 2 {
		return
	}

	count := decimal.NewFromInt(int64(n))
	mean := s.volSum.Div(count)
	variance := s.volSumSq.Sub(s.volSum.Mul(s.volSum).Div(count)).Div(count.Sub(decimal.NewFromInt(1)))

	s.vols = append(s.vols, &VolatilitySnapshot{
		Date:            point.Date,
		DailyVolatility: decimalSqrt(variance),
		Mean:            mean,
		SampleSize:      n,
	})
}

func (s *Series) updateGainLossWindow(point *Point) {
	cutoff := point.Date.AddDate(0, 0, -s.settings.GainLossWindowDays)
	for s.glStart < len(s.returns) && !s.returns[s.glStart].Date.After(cutoff) {
		expired := s.returns[s.glStart].Value
		if expired.IsPositive() {
			s.gainSum = s.gainSum.Sub(expired)
		} else {
			s.lossSum = s.lossSum.Sub(expired.Abs())
		}
		s.glStart++
	}

	if len(s.returns)-s.glStart < 1 {
		return
	}

	s.gains = append(s.gains, &GainLossSnapshot{
		Date:           point.Date,
		AbsoluteGains:  s.gainSum,
		AbsoluteLosses: s.lossSum,
	})
}

// decimalSqrt computes the square root of a non-negative decimal. A float64
// estimate seeds Newton's method which is then refined in fixed-point so the
// result does not inherit binary floating point drift.
func decimalSqrt(d decimal.Decimal) decimal.Decimal {
	if d.Sign() <= 0 {
		return decimal.Zero
	}

	f, _ := d.Float64()
	x := decimal.NewFromFloat(math.Sqrt(f))
	if x.IsZero() {
		x = d
	}

	two := decimal.NewFromInt(2)
	for i := 0; i < 4; i++ {
		x = x.Add(d.Div(x)).Div(two)
	}
	return x
}
