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

// Package tradecal provides the business-day calendar used by the backtest
// day stepper. Daily bars only; weekends are the only non-business days the
// simulation skips, holidays simply produce no new price data.
package tradecal

import "time"

// IsBusinessDay reports whether the date falls on a weekday.
func IsBusinessDay(date time.Time) bool {
	wd := date.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// NextBusinessDay returns the next weekday after date.
func NextBusinessDay(date time.Time) time.Time {
	next := date.AddDate(0, 0, 1)
	for !IsBusinessDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// IsTradingDay reports whether the date is the configured weekly trading
// day.
func IsTradingDay(date time.Time, tradingDay time.Weekday) bool {
	return date.Weekday() == tradingDay
}

// DaysBetween returns the whole calendar days from one date to another.
func DaysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
