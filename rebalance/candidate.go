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

package rebalance

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sigmavault/sv-engine/portfolio"
	"github.com/sigmavault/sv-engine/pricehist"
	"github.com/sigmavault/sv-engine/scoring"
	"github.com/spf13/viper"
)

// Settings is the externally supplied configuration surface of the
// rebalancing engine. All ratios are fractions of total portfolio value.
type Settings struct {
	MaximumInitialPositionSize decimal.Decimal
	MaximumPositionSize        decimal.Decimal
	CashBufferSizePercent      decimal.Decimal
	TradingDay                 time.Weekday
	Interval                   int
	MinimumHoldingPeriodDays   int
	ReplaceBufferPct           decimal.Decimal
	MaximumAllocationToRisk    decimal.Decimal
	MinimumAllocationToRisk    decimal.Decimal
}

// DefaultSettings returns a conservative weekly-trading configuration.
func DefaultSettings() *Settings {
	return &Settings{
		MaximumInitialPositionSize: decimal.NewFromFloat(0.10),
		MaximumPositionSize:        decimal.NewFromFloat(0.33),
		CashBufferSizePercent:      decimal.NewFromFloat(0.02),
		TradingDay:                 time.Wednesday,
		Interval:                   1,
		MinimumHoldingPeriodDays:   14,
		ReplaceBufferPct:           decimal.NewFromFloat(0.02),
		MaximumAllocationToRisk:    decimal.NewFromInt(1),
		MinimumAllocationToRisk:    decimal.NewFromFloat(0.5),
	}
}

// SettingsFromConfig returns DefaultSettings with every rebalance.* and
// portfolio.* key set through viper applied on top. This is what the cobra
// commands hand to the driver.
func SettingsFromConfig() *Settings {
	s := DefaultSettings()

	if viper.IsSet("rebalance.max_initial_position_size") {
		s.MaximumInitialPositionSize = decimal.NewFromFloat(viper.GetFloat64("rebalance.max_initial_position_size"))
	}
	if viper.IsSet("rebalance.max_position_size") {
		s.MaximumPositionSize = decimal.NewFromFloat(viper.GetFloat64("rebalance.max_position_size"))
	}
	if viper.IsSet("rebalance.cash_buffer_pct") {
		s.CashBufferSizePercent = decimal.NewFromFloat(viper.GetFloat64("rebalance.cash_buffer_pct"))
	}
	if viper.IsSet("rebalance.trading_day") {
		name := viper.GetString("rebalance.trading_day")
		if wd, ok := parseWeekday(name); ok {
			s.TradingDay = wd
		} else {
			log.Warn().Str("TradingDay", name).Msg("unknown trading day; keeping default")
		}
	}
	if viper.IsSet("rebalance.interval") {
		s.Interval = viper.GetInt("rebalance.interval")
	}
	if viper.IsSet("rebalance.min_holding_period_days") {
		s.MinimumHoldingPeriodDays = viper.GetInt("rebalance.min_holding_period_days")
	}
	if viper.IsSet("rebalance.replace_buffer_pct") {
		s.ReplaceBufferPct = decimal.NewFromFloat(viper.GetFloat64("rebalance.replace_buffer_pct"))
	}
	if viper.IsSet("portfolio.max_allocation_to_risk") {
		s.MaximumAllocationToRisk = decimal.NewFromFloat(viper.GetFloat64("portfolio.max_allocation_to_risk"))
	}
	if viper.IsSet("portfolio.min_allocation_to_risk") {
		s.MinimumAllocationToRisk = decimal.NewFromFloat(viper.GetFloat64("portfolio.min_allocation_to_risk"))
	}

	return s
}

func parseWeekday(name string) (time.Weekday, bool) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.EqualFold(name, wd.String()) {
			return wd, true
		}
	}
	return time.Sunday, false
}

// TradingCandidate is the decision-bearing view of a ranked candidate for a
// single simulated day. It pairs the read-only scoring candidate with the
// portfolio state needed to decide the day's transaction, and is discarded
// once the day's transactions are materialized.
type TradingCandidate struct {
	Record        *pricehist.Point
	ScoringResult *scoring.Result

	IsInvested    bool
	Shares        int64
	AveragePrice  decimal.Decimal
	CurrentWeight decimal.Decimal
	TargetWeight  decimal.Decimal

	// TransactionType starts Unknown (or Open for the best new
	// candidates) and is terminal once a transaction is materialized.
	// Unchanged is a no-op outcome, not a transition.
	TransactionType string

	RebalanceScore  *Score
	IsBelowStop     bool
	LastTransaction *portfolio.Transaction

	LastScore    decimal.Decimal
	HasLastScore bool
}

// NewTradingCandidate derives a trading candidate from a ranked scoring
// candidate. Portfolio state is attached by the caller.
func NewTradingCandidate(c *scoring.Candidate) *TradingCandidate {
	return &TradingCandidate{
		Record:          c.Record,
		ScoringResult:   c.ScoringResult,
		TransactionType: portfolio.UnknownTransaction,
		RebalanceScore:  NewScore(c.ScoringResult.Score),
	}
}

// SecurityID returns the candidate's security id.
func (c *TradingCandidate) SecurityID() int {
	return c.Record.SecurityID
}

// MarketValue returns the current monetary exposure of the candidate's open
// position at the candidate's price.
func (c *TradingCandidate) MarketValue() decimal.Decimal {
	if !c.IsInvested {
		return decimal.Zero
	}
	return c.Record.AdjustedPrice.Mul(decimal.NewFromInt(c.Shares))
}
