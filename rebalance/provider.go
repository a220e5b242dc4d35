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
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sigmavault/sv-engine/observability/opentelemetry"
	"github.com/sigmavault/sv-engine/portfolio"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// AllocationWarning reports that cash remained negative after every
// liquidation candidate was exhausted. It is a structured result, never a
// blocking failure.
type AllocationWarning struct {
	Date      time.Time       `json:"date"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

// Result is the outcome of one simulated rebalancing date.
type Result struct {
	Date             time.Time
	NeedsRebalancing bool
	Collection       *Collection
	Transactions     []*portfolio.Transaction
	Warnings         []*AllocationWarning
}

// Provider orchestrates a single day's rebalancing: stop closes, the rule
// pass, greedy allocation and boundary enforcement.
type Provider struct {
	settings *Settings
	engine   *RuleEngine
	cash     *portfolio.CashLedger
	boundary *CashBoundaryManager
}

// NewProvider wires the orchestration against the shared cash ledger.
func NewProvider(settings *Settings, engine *RuleEngine, cash *portfolio.CashLedger) *Provider {
	if settings == nil {
		settings = DefaultSettings()
	}
	if engine == nil {
		engine = NewRuleEngine(nil, nil)
	}
	return &Provider{
		settings: settings,
		engine:   engine,
		cash:     cash,
		boundary: NewCashBoundaryManager(cash),
	}
}

// Rebalance executes one simulated rebalancing date. The candidate slice
// must contain every currently invested security (the driver guarantees
// this); allowNew is false on non-trading days, where only stops are
// evaluated and no new positions open.
func (p *Provider) Rebalance(ctx context.Context, date time.Time, candidates []*TradingCandidate, minBoundary, maxBoundary decimal.Decimal, allowNew bool) *Result {
	_, span := otel.Tracer(opentelemetry.Name).Start(ctx, "Rebalance")
	defer span.End()
	span.SetAttributes(attribute.String("date", date.Format("2006-01-02")))

	result := &Result{Date: date}

	portfolioValue := p.cash.Cash()
	for _, c := range candidates {
		portfolioValue = portfolioValue.Add(c.MarketValue())
	}
	calc := NewCalculator(portfolioValue)

	// stop closes run unconditionally and bypass scoring
	remaining := make([]*TradingCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.IsInvested && c.IsBelowStop {
			result.Transactions = append(result.Transactions, p.closePosition(calc, date, c))
			continue
		}
		remaining = append(remaining, c)
	}

	if !allowNew {
		return result
	}

	ruleCtx := &Context{
		Delta:       p.settings.ReplaceBufferPct,
		Settings:    p.settings,
		MinBoundary: minBoundary,
		MaxBoundary: maxBoundary,
	}

	investedWeight := p.assignTransactionTypes(ruleCtx, date, remaining, portfolioValue)
	investedWeight = p.trimOversized(calc, date, remaining, investedWeight, result)

	collection := p.engine.Evaluate(ruleCtx, remaining)
	result.Collection = collection
	if !collection.NeedsRebalancing {
		return result
	}
	result.NeedsRebalancing = true

	investedWeight = p.allocate(ruleCtx, calc, date, collection, investedWeight, result)

	if investedWeight.GreaterThan(maxBoundary) || p.cash.Cash().IsNegative() {
		transactions, warning := p.boundary.CleanUpCash(ruleCtx, calc, date, collection, investedWeight)
		result.Transactions = append(result.Transactions, transactions...)
		if warning != nil {
			log.Warn().Time("Date", date).Str("Shortfall", warning.Shortfall.String()).Msg("allocation infeasible; cash negative after liquidation")
			result.Warnings = append(result.Warnings, warning)
		}
	}

	return result
}

// assignTransactionTypes pre-types every candidate before the rule pass and
// returns the summed invested weight. Invested candidates within the minimum
// holding period stay Unchanged; drifted positions become Changed; the best
// new candidates that still fit under the boundary become Open, the rest
// stay Unknown. The slice arrives in ranking order (best first).
func (p *Provider) assignTransactionTypes(ruleCtx *Context, date time.Time, candidates []*TradingCandidate, portfolioValue decimal.Decimal) decimal.Decimal {
	investedWeight := decimal.Zero
	for _, c := range candidates {
		if !c.IsInvested {
			continue
		}
		if portfolioValue.IsPositive() {
			c.CurrentWeight = c.MarketValue().Div(portfolioValue)
		}
		investedWeight = investedWeight.Add(c.CurrentWeight)
	}

	openSlots := int64(0)
	if headroom := ruleCtx.MaxBoundary.Sub(investedWeight); headroom.IsPositive() && p.settings.MaximumInitialPositionSize.IsPositive() {
		openSlots = headroom.Div(p.settings.MaximumInitialPositionSize).Floor().IntPart()
	}

	drift := p.settings.MaximumInitialPositionSize.Mul(one.Sub(ruleCtx.Delta))
	for _, c := range candidates {
		if c.IsInvested {
			held := c.LastTransaction != nil &&
				daysBetween(c.LastTransaction.Date, date) < p.settings.MinimumHoldingPeriodDays
			if !held && c.CurrentWeight.LessThan(drift) {
				c.TransactionType = portfolio.ChangedTransaction
				c.TargetWeight = p.settings.MaximumInitialPositionSize
			} else {
				c.TransactionType = portfolio.UnchangedTransaction
				c.TargetWeight = c.CurrentWeight
			}
			continue
		}

		if openSlots > 0 {
			c.TransactionType = portfolio.OpenTransaction
			c.TargetWeight = p.settings.MaximumInitialPositionSize
			openSlots--
		}
	}

	return investedWeight
}

// trimOversized sells appreciated positions back down to the maximum
// position size. The cap is a risk limit like the stop loss and applies
// regardless of the holding period; the freed cash re-enters allocation on
// the same day.
func (p *Provider) trimOversized(calc *Calculator, date time.Time, candidates []*TradingCandidate, investedWeight decimal.Decimal, result *Result) decimal.Decimal {
	maxSize := p.settings.MaximumPositionSize
	if !maxSize.IsPositive() {
		return investedWeight
	}

	for _, c := range candidates {
		if !c.IsInvested || !c.CurrentWeight.GreaterThan(maxSize) {
			continue
		}

		price := c.Record.AdjustedPrice
		if !price.IsPositive() {
			continue
		}

		excess := c.CurrentWeight.Sub(maxSize).Mul(calc.PortfolioValue)
		shares := excess.Div(price).Ceil().IntPart()
		if shares >= c.Shares {
			shares = c.Shares - 1
		}
		if shares <= 0 {
			continue
		}

		effectiveAmount := calc.CalculateEffectiveAmount(c, -shares)
		effectiveWeight := calc.CalculateEffectiveWeight(effectiveAmount)

		trx := portfolio.NewTransaction(date, c.SecurityID(), portfolio.ChangedTransaction, -shares, maxSize, effectiveWeight, decimal.Zero, effectiveAmount)
		result.Transactions = append(result.Transactions, trx)
		p.cash.Apply(effectiveAmount.Neg())

		c.TransactionType = portfolio.ChangedTransaction
		c.TargetWeight = maxSize
		c.Shares -= shares
		c.CurrentWeight = c.CurrentWeight.Add(effectiveWeight)
		investedWeight = investedWeight.Add(effectiveWeight)

		log.Info().Time("Date", date).Int("SecurityID", c.SecurityID()).Str("Weight", c.CurrentWeight.String()).Msg("trimmed position above maximum size")
	}

	return investedWeight
}

// allocate walks the rule-adjusted ranking weakest-first and greedily opens
// or increases positions until the invested weight reaches the minimum
// boundary. Candidates that would consume zero shares at the available delta
// are skipped.
func (p *Provider) allocate(ruleCtx *Context, calc *Calculator, date time.Time, collection *Collection, investedWeight decimal.Decimal, result *Result) decimal.Decimal {
	cashBuffer := p.settings.CashBufferSizePercent.Mul(calc.PortfolioValue)

	for i := len(collection.Candidates) - 1; i >= 0; i-- {
		if !investedWeight.LessThan(ruleCtx.MinBoundary) {
			break
		}

		c := collection.Candidates[i]
		if c.TransactionType == portfolio.UnchangedTransaction || c.TransactionType == portfolio.UnknownTransaction {
			continue
		}

		amount, err := calc.CalculateTargetAmount(c)
		if err != nil {
			log.Warn().Err(err).Int("SecurityID", c.SecurityID()).Time("Date", date).Msg("candidate failed validation; skipping")
			continue
		}
		if !amount.IsPositive() {
			continue
		}

		available := p.cash.Cash().Sub(cashBuffer)
		if amount.GreaterThan(available) {
			amount = available
		}
		if !amount.IsPositive() {
			continue
		}

		shares := calc.CalculateTargetShares(c, amount)
		if shares <= 0 {
			continue
		}

		effectiveAmount := calc.CalculateEffectiveAmount(c, shares)
		effectiveWeight := calc.CalculateEffectiveWeight(effectiveAmount)

		kind := portfolio.ChangedTransaction
		if !c.IsInvested {
			kind = portfolio.OpenTransaction
		}

		trx := portfolio.NewTransaction(date, c.SecurityID(), kind, shares, c.TargetWeight, effectiveWeight, amount.Round(4), effectiveAmount)
		result.Transactions = append(result.Transactions, trx)
		p.cash.Apply(effectiveAmount.Neg())

		c.TransactionType = kind
		c.IsInvested = true
		c.Shares += shares
		c.CurrentWeight = c.CurrentWeight.Add(effectiveWeight)
		investedWeight = investedWeight.Add(effectiveWeight)
	}

	return investedWeight
}

// closePosition sells the full position at the candidate's price.
func (p *Provider) closePosition(calc *Calculator, date time.Time, c *TradingCandidate) *portfolio.Transaction {
	effectiveAmount := calc.CalculateEffectiveAmount(c, -c.Shares)
	effectiveWeight := calc.CalculateEffectiveWeight(effectiveAmount)

	trx := portfolio.NewTransaction(date, c.SecurityID(), portfolio.CloseTransaction, -c.Shares, decimal.Zero, effectiveWeight, decimal.Zero, effectiveAmount)
	p.cash.Apply(effectiveAmount.Neg())

	c.TransactionType = portfolio.CloseTransaction
	c.TargetWeight = decimal.Zero
	c.IsInvested = false
	c.Shares = 0
	c.CurrentWeight = decimal.Zero

	return trx
}

// CashBoundaryManager liquidates the weakest positions until the invested
// weight returns inside the risk boundaries and cash is non-negative.
type CashBoundaryManager struct {
	cash *portfolio.CashLedger
}

// NewCashBoundaryManager creates a manager over the shared ledger.
func NewCashBoundaryManager(cash *portfolio.CashLedger) *CashBoundaryManager {
	return &CashBoundaryManager{cash: cash}
}

// CleanUpCash walks the rule-adjusted ranking from the tail (lowest
// rebalance score first), reducing or selling each position until the
// invested weight is within [min, max] and cash is non-negative, or no
// candidates remain. Sell sizes are computed from live effective weights.
// A non-nil warning is returned when cash stays negative after exhausting
// every candidate.
func (m *CashBoundaryManager) CleanUpCash(ruleCtx *Context, calc *Calculator, date time.Time, collection *Collection, investedWeight decimal.Decimal) ([]*portfolio.Transaction, *AllocationWarning) {
	transactions := make([]*portfolio.Transaction, 0, 4)

	for i := len(collection.Candidates) - 1; i >= 0; i-- {
		if !m.cash.Cash().IsNegative() && !investedWeight.GreaterThan(ruleCtx.MaxBoundary) {
			break
		}

		c := collection.Candidates[i]
		if !c.IsInvested || c.Shares == 0 {
			continue
		}

		need := decimal.Zero
		if m.cash.Cash().IsNegative() {
			need = m.cash.Cash().Abs()
		}
		if excess := investedWeight.Sub(ruleCtx.MaxBoundary); excess.IsPositive() {
			if excessValue := excess.Mul(calc.PortfolioValue); excessValue.GreaterThan(need) {
				need = excessValue
			}
		}
		if !need.IsPositive() {
			break
		}

		price := c.Record.AdjustedPrice
		shares := need.Div(price).Ceil().IntPart()
		if shares > c.Shares {
			shares = c.Shares
		}
		if shares <= 0 {
			continue
		}

		kind := portfolio.ChangedTransaction
		targetWeight := c.CurrentWeight.Sub(calc.CalculateEffectiveWeight(price.Mul(decimal.NewFromInt(shares))))
		if shares == c.Shares {
			kind = portfolio.CloseTransaction
			targetWeight = decimal.Zero
		}

		effectiveAmount := calc.CalculateEffectiveAmount(c, -shares)
		effectiveWeight := calc.CalculateEffectiveWeight(effectiveAmount)

		trx := portfolio.NewTransaction(date, c.SecurityID(), kind, -shares, targetWeight, effectiveWeight, decimal.Zero, effectiveAmount)
		transactions = append(transactions, trx)
		m.cash.Apply(effectiveAmount.Neg())

		c.TransactionType = kind
		c.Shares -= shares
		c.CurrentWeight = c.CurrentWeight.Add(effectiveWeight)
		c.TargetWeight = targetWeight
		if c.Shares == 0 {
			c.IsInvested = false
			c.CurrentWeight = decimal.Zero
		}
		investedWeight = investedWeight.Add(effectiveWeight)
	}

	if m.cash.Cash().IsNegative() {
		return transactions, &AllocationWarning{Date: date, Shortfall: m.cash.Cash().Abs()}
	}
	return transactions, nil
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
