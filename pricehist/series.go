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
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Settings control the calendar-day lengths of the derived metric windows.
type Settings struct {
	LowWindowDays        int
	VolatilityWindowDays int
	GainLossWindowDays   int
}

// DefaultSettings returns the window lengths used when the caller does not
// supply its own.
func DefaultSettings() *Settings {
	return &Settings{
		LowWindowDays:        150,
		VolatilityWindowDays: 250,
		GainLossWindowDays:   90,
	}
}

type dailyReturn struct {
	Date  time.Time
	Value decimal.Decimal
}

// Series is a date-ordered price history for a single security with
// incrementally maintained rolling statistics.
//
// Precondition: points must be appended in chronological order. The rolling
// window accumulators assume append order equals date order and do not
// re-validate it.
type Series struct {
	SecurityID int

	settings *Settings
	points   []*Point

	high *Point
	low  *Point

	returns    []dailyReturn
	meanReturn decimal.Decimal

	lows  []*LowSnapshot
	vols  []*VolatilitySnapshot
	gains []*GainLossSnapshot

	lowStart  int
	volStart  int
	volSum    decimal.Decimal
	volSumSq  decimal.Decimal
	glStart   int
	gainSum   decimal.Decimal
	lossSum   decimal.Decimal
}

// NewSeries creates an empty series for the given security. A nil settings
// argument selects DefaultSettings.
func NewSeries(securityID int, settings *Settings) *Series {
	if settings == nil {
		settings = DefaultSettings()
	}
	return &Series{
		SecurityID: securityID,
		settings:   settings,
		points:     make([]*Point, 0, 256),
	}
}

// Len returns the number of stored points.
func (s *Series) Len() int {
	return len(s.points)
}

// First returns the earliest stored point or nil when the series is empty.
func (s *Series) First() *Point {
	if len(s.points) == 0 {
		return nil
	}
	return s.points[0]
}

// Last returns the most recent stored point or nil when the series is empty.
func (s *Series) Last() *Point {
	if len(s.points) == 0 {
		return nil
	}
	return s.points[len(s.points)-1]
}

// High returns the running all-time high by adjusted price.
func (s *Series) High() *Point {
	return s.high
}

// Low returns the running all-time low by adjusted price.
func (s *Series) Low() *Point {
	return s.low
}

// MeanReturn returns the running arithmetic mean of all daily returns.
func (s *Series) MeanReturn() decimal.Decimal {
	return s.meanReturn
}

// Add appends a point to the series. Malformed points (zero price, zero
// date) are dropped silently; Add never fails. Derived statistics only ever
// consume points with date <= the appended point's date.
func (s *Series) Add(point *Point) {
	if !point.Valid() {
		log.Debug().Int("SecurityID", s.SecurityID).Msg("dropping malformed price point")
		return
	}

	s.points = append(s.points, point)

	if s.high == nil || point.AdjustedPrice.GreaterThan(s.high.AdjustedPrice) {
		s.high = point
	}
	if s.low == nil || point.AdjustedPrice.LessThan(s.low.AdjustedPrice) {
		s.low = point
	}

	if len(s.points) > 1 {
		prev := s.points[len(s.points)-2]
		r := point.AdjustedPrice.Sub(prev.AdjustedPrice).Div(prev.AdjustedPrice)
		s.returns = append(s.returns, dailyReturn{Date: point.Date, Value: r})

		n := decimal.NewFromInt(int64(len(s.returns)))
		s.meanReturn = s.meanReturn.Add(r.Sub(s.meanReturn).Div(n))

		s.volSum = s.volSum.Add(r)
		s.volSumSq = s.volSumSq.Add(r.Mul(r))
		if r.IsPositive() {
			s.gainSum = s.gainSum.Add(r)
		} else {
			s.lossSum = s.lossSum.Add(r.Abs())
		}
	}

	s.updateWindows(point)
}

// Get resolves the point nearest to date under the given lookup option.
// Returns nil when the series is empty or no point satisfies the option.
func (s *Series) Get(date time.Time, option LookupOption) *Point {
	if len(s.points) == 0 {
		return nil
	}

	switch option {
	case NextItem:
		idx := sort.Search(len(s.points), func(i int) bool {
			return !s.points[i].Date.Before(date)
		})
		if idx == len(s.points) {
			return nil
		}
		return s.points[idx]
	case PreviousDayPrice:
		idx := s.searchPrev(date)
		if idx < 0 {
			return nil
		}
		if !s.points[idx].Date.Before(date) {
			idx--
		}
		if idx < 0 {
			return nil
		}
		return s.points[idx]
	default: // PreviousItem
		idx := s.searchPrev(date)
		if idx < 0 {
			return nil
		}
		return s.points[idx]
	}
}

// Range returns all points with from <= date <= to, in chronological order.
func (s *Series) Range(from, to time.Time) []*Point {
	start := sort.Search(len(s.points), func(i int) bool {
		return !s.points[i].Date.Before(from)
	})
	end := sort.Search(len(s.points), func(i int) bool {
		return s.points[i].Date.After(to)
	})
	if start >= end {
		return nil
	}
	return s.points[start:end]
}

// GetDailyReturn computes the return of the point at (or preceding) date
// relative to its predecessor. The second return value is false when fewer
// than two points precede the date.
func (s *Series) GetDailyReturn(date time.Time) (decimal.Decimal, bool) {
	idx := s.searchPrev(date)
	if idx < 1 {
		return decimal.Zero, false
	}
	prev := s.points[idx-1]
	curr := s.points[idx]
	return curr.AdjustedPrice.Sub(prev.AdjustedPrice).Div(prev.AdjustedPrice), true
}

// searchPrev returns the index of the last point with date <= the query
// date, or -1 when every point is newer.
func (s *Series) searchPrev(date time.Time) int {
	idx := sort.Search(len(s.points), func(i int) bool {
		return s.points[i].Date.After(date)
	})
	return idx - 1
}
