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
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sigmavault/sv-engine/portfolio"
)

var (
	ErrInvalidTargetWeight    = errors.New("target weight must be in [0, 1]")
	ErrMissingClosePosition   = errors.New("zero target weight requires a close of an open position")
	ErrUnknownTransactionType = errors.New("transaction type must be decided before amounts are calculated")
)

// Calculator converts target weights into monetary amounts, share counts
// and effective weights against a fixed portfolio value.
type Calculator struct {
	PortfolioValue decimal.Decimal
}

// NewCalculator creates a calculator for the given total portfolio value.
func NewCalculator(portfolioValue decimal.Decimal) *Calculator {
	return &Calculator{PortfolioValue: portfolioValue}
}

// CalculateTargetAmount validates the candidate and converts its target
// weight into a monetary amount. For an invested candidate the result is the
// delta between target and current exposure; for a new position it is the
// absolute target amount. Validation failures abort only this candidate.
func (calc *Calculator) CalculateTargetAmount(c *TradingCandidate) (decimal.Decimal, error) {
	if c.TargetWeight.IsNegative() || c.TargetWeight.GreaterThan(one) {
		return decimal.Zero, ErrInvalidTargetWeight
	}
	if c.TargetWeight.IsZero() && (c.TransactionType != portfolio.CloseTransaction || !c.IsInvested) {
		return decimal.Zero, ErrMissingClosePosition
	}
	if c.TransactionType == portfolio.UnknownTransaction {
		return decimal.Zero, ErrUnknownTransactionType
	}

	target := c.TargetWeight.Mul(calc.PortfolioValue)
	if c.IsInvested {
		return target.Sub(c.MarketValue()), nil
	}
	return target, nil
}

// CalculateTargetShares floor-divides the (possibly delta) amount by the
// current adjusted price. For invested candidates the already-held shares
// are subtracted so the result is the share delta to execute.
func (calc *Calculator) CalculateTargetShares(c *TradingCandidate, amount decimal.Decimal) int64 {
	price := c.Record.AdjustedPrice
	if price.IsZero() {
		return 0
	}

	if c.IsInvested {
		total := c.MarketValue().Add(amount)
		return total.Div(price).Floor().IntPart() - c.Shares
	}
	return amount.Div(price).Floor().IntPart()
}

// CalculateEffectiveAmount prices a share delta, rounded to 4 decimal
// places. The sign follows the share delta.
func (calc *Calculator) CalculateEffectiveAmount(c *TradingCandidate, shares int64) decimal.Decimal {
	return c.Record.AdjustedPrice.Mul(decimal.NewFromInt(shares)).Round(4)
}

// CalculateEffectiveWeight relates an effective amount to the portfolio
// value, rounded to 4 decimal places.
func (calc *Calculator) CalculateEffectiveWeight(effectiveAmount decimal.Decimal) decimal.Decimal {
	if calc.PortfolioValue.IsZero() {
		return decimal.Zero
	}
	return effectiveAmount.Div(calc.PortfolioValue).Round(4)
}
