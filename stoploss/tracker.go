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

// Package stoploss maintains per-position price trails (opening, running
// high, local low, previous low) and signals a forced close when a
// volatility-scaled drawdown threshold is breached.
package stoploss

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

var (
	one             = decimal.NewFromInt(1)
	sqrtTradingDays = decimal.NewFromFloat(math.Sqrt(250))
)

// Settings configure stop-loss sensitivity.
type Settings struct {
	// SigmaMultiple scales the 1-day volatility into the exit threshold.
	SigmaMultiple decimal.Decimal

	// MinimumStopHoldingPeriodDays suppresses a stop when the position's
	// last sell happened within this many days, and throttles repeated
	// stops for the same security.
	MinimumStopHoldingPeriodDays int
}

// DefaultSettings returns the 4-sigma threshold with a 30 day anti-chatter
// period.
func DefaultSettings() *Settings {
	return &Settings{
		SigmaMultiple:                decimal.NewFromInt(4),
		MinimumStopHoldingPeriodDays: 30,
	}
}

// SettingsFromConfig returns DefaultSettings with any stoploss.* key set
// through viper applied on top.
func SettingsFromConfig() *Settings {
	s := DefaultSettings()
	if viper.IsSet("stoploss.sigma_multiple") {
		s.SigmaMultiple = decimal.NewFromFloat(viper.GetFloat64("stoploss.sigma_multiple"))
	}
	if viper.IsSet("stoploss.min_stop_holding_period_days") {
		s.MinimumStopHoldingPeriodDays = viper.GetInt("stoploss.min_stop_holding_period_days")
	}
	return s
}

// PricePair is a price observed on a date.
type PricePair struct {
	Price decimal.Decimal
	Date  time.Time
}

// Meta is the stop-loss trail of one position.
type Meta struct {
	Opening     PricePair
	PreviousLow PricePair
	LocalLow    PricePair
	High        PricePair
}

// Evaluation carries the inputs for one stop-loss decision.
type Evaluation struct {
	SecurityID           int
	CurrentPrice         decimal.Decimal
	AveragePrice         decimal.Decimal
	AnnualizedVolatility decimal.Decimal
	Date                 time.Time
	LastSellDate         time.Time
	HasLastSell          bool
}

// Tracker owns the trails of all open positions within one backtest run.
type Tracker struct {
	settings *Settings
	metas    map[int]*Meta
	lastStop map[int]time.Time
}

// NewTracker creates a tracker. A nil settings argument selects
// DefaultSettings.
func NewTracker(settings *Settings) *Tracker {
	if settings == nil {
		settings = DefaultSettings()
	}
	return &Tracker{
		settings: settings,
		metas:    make(map[int]*Meta),
		lastStop: make(map[int]time.Time),
	}
}

// Meta returns the trail for a security or nil.
func (t *Tracker) Meta(securityID int) *Meta {
	return t.metas[securityID]
}

// ClosePosition drops the trail when the position is closed.
func (t *Tracker) ClosePosition(securityID int) {
	delete(t.metas, securityID)
}

// UpdateDailyLimits advances the trail with a new price tick. The first tick
// for a security establishes the opening. PreviousLow only rolls forward the
// first time a new high is set after a low phase: when the local low still
// carries the date of the current high, the trail is mid up-move and must
// not roll twice.
func (t *Tracker) UpdateDailyLimits(securityID int, price decimal.Decimal, date time.Time) {
	meta, ok := t.metas[securityID]
	if !ok {
		pair := PricePair{Price: price, Date: date}
		t.metas[securityID] = &Meta{
			Opening:     pair,
			PreviousLow: pair,
			LocalLow:    pair,
			High:        pair,
		}
		return
	}

	switch {
	case price.GreaterThan(meta.High.Price):
		if !meta.LocalLow.Date.Equal(meta.High.Date) {
			meta.PreviousLow = meta.LocalLow
		}
		meta.High = PricePair{Price: price, Date: date}
		meta.LocalLow = PricePair{Price: price, Date: date}
	case price.LessThan(meta.LocalLow.Price):
		meta.LocalLow = PricePair{Price: price, Date: date}
	}
}

// HasStopLoss evaluates the exit condition for one position. Triggering
// records the stop timestamp for the security so subsequent evaluations can
// be throttled through IsBelowMinimumStopHoldingPeriod.
func (t *Tracker) HasStopLoss(e *Evaluation) bool {
	meta, ok := t.metas[e.SecurityID]
	if !ok {
		return false
	}

	// still at or above the running high, no stop possible
	if meta.High.Price.LessThanOrEqual(e.CurrentPrice) {
		return false
	}

	if e.HasLastSell && daysBetween(e.LastSellDate, e.Date) <= t.settings.MinimumStopHoldingPeriodDays {
		return false
	}

	sigma := e.AnnualizedVolatility.Div(sqrtTradingDays)
	drop := one.Sub(t.settings.SigmaMultiple.Mul(sigma))
	rise := one.Add(t.settings.SigmaMultiple.Mul(sigma))
	belowAverage := e.CurrentPrice.LessThan(e.AveragePrice)

	triggered := false
	switch {
	case belowAverage && e.CurrentPrice.LessThan(meta.Opening.Price.Mul(drop)):
		triggered = true
	case belowAverage && e.CurrentPrice.LessThanOrEqual(meta.High.Price.Mul(drop)):
		triggered = true
	case e.CurrentPrice.Mul(rise).LessThan(meta.PreviousLow.Price) && !meta.Opening.Date.Equal(meta.PreviousLow.Date):
		triggered = true
	}

	if triggered {
		log.Debug().Int("SecurityID", e.SecurityID).Time("Date", e.Date).Str("Price", e.CurrentPrice.String()).Msg("stop loss triggered")
		t.lastStop[e.SecurityID] = e.Date
	}

	return triggered
}

// IsBelowMinimumStopHoldingPeriod reports whether the security triggered a
// stop within the anti-chatter window before date.
func (t *Tracker) IsBelowMinimumStopHoldingPeriod(securityID int, date time.Time) bool {
	last, ok := t.lastStop[securityID]
	if !ok {
		return false
	}
	return daysBetween(last, date) <= t.settings.MinimumStopHoldingPeriodDays
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
