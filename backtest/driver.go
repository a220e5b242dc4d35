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

// Package backtest replays the rebalancing process across a date range. The
// day loop is strictly sequential: every simulated date depends on cash,
// portfolio and stop-loss state produced by the previous one.
package backtest

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sigmavault/sv-engine/observability/opentelemetry"
	"github.com/sigmavault/sv-engine/portfolio"
	"github.com/sigmavault/sv-engine/pricehist"
	"github.com/sigmavault/sv-engine/rebalance"
	"github.com/sigmavault/sv-engine/scoring"
	"github.com/sigmavault/sv-engine/stoploss"
	"github.com/sigmavault/sv-engine/tradecal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrTimeInverted = errors.New("start date occurs after through date")
	ErrNoStore      = errors.New("a price history store is required")
)

var sqrtTradingDays = decimal.NewFromFloat(math.Sqrt(250))

var defensiveScale = decimal.NewFromFloat(0.5)

// Config wires the driver's collaborators. Save, TransactionsCache and
// Exposure are optional boundary adapters; everything else is required.
type Config struct {
	Store             *pricehist.Store
	Ranker            *scoring.Ranker
	Engine            *scoring.Engine
	Settings          *rebalance.Settings
	StopSettings      *stoploss.Settings
	Save              portfolio.SaveProvider
	TransactionsCache portfolio.TransactionsCacheProvider
	Exposure          portfolio.ExposureDataProvider
	InitialCash       decimal.Decimal
}

// Result is the trajectory of one completed run.
type Result struct {
	Transactions []*portfolio.Transaction
	Warnings     []*rebalance.AllocationWarning
	Valuations   []portfolio.Valuation
	Summary      *portfolio.Summary
}

// Driver steps through calendar dates and invokes ranking, rule evaluation,
// allocation and persistence in sequence.
type Driver struct {
	cfg      *Config
	cash     *portfolio.CashLedger
	current  *portfolio.CurrentPortfolio
	tracker  *stoploss.Tracker
	provider *rebalance.Provider

	benchmark     *pricehist.Series
	lastScores    map[int]decimal.Decimal
	lastProcessed time.Time
	lastRebalance time.Time
}

// New creates a driver. The cash ledger, portfolio aggregation and stop-loss
// tracker are owned per driver so runs are independently repeatable.
func New(cfg *Config) (*Driver, error) {
	if cfg.Store == nil {
		return nil, ErrNoStore
	}
	if cfg.Settings == nil {
		cfg.Settings = rebalance.DefaultSettings()
	}

	cash := portfolio.NewCashLedger(cfg.InitialCash)
	return &Driver{
		cfg:        cfg,
		cash:       cash,
		current:    portfolio.NewCurrentPortfolio(),
		tracker:    stoploss.NewTracker(cfg.StopSettings),
		provider:   rebalance.NewProvider(cfg.Settings, rebalance.NewRuleEngine(nil, nil), cash),
		lastScores: make(map[int]decimal.Decimal),
	}, nil
}

// Run replays the rebalancing process from start to end (or today when end
// is zero) and terminates the run by closing all open positions.
// Cancellation is cooperative at day granularity: a day's state transition
// always completes atomically.
func (d *Driver) Run(ctx context.Context, start, end time.Time) (*Result, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "backtest.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("start", start.Format("2006-01-02")),
		attribute.String("end", end.Format("2006-01-02")),
	)

	if end.IsZero() {
		end = time.Now()
	}
	if start.After(end) {
		return nil, ErrTimeInverted
	}

	if d.cfg.TransactionsCache != nil {
		if transactions, err := d.cfg.TransactionsCache.Transactions(ctx); err != nil {
			log.Warn().Err(err).Msg("could not load transaction log; starting empty")
		} else {
			d.current.Load(transactions)
		}
	}

	if d.cfg.Exposure != nil {
		benchmark, err := d.cfg.Exposure.Benchmark(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("could not load benchmark series; risk ceiling stays at maximum")
		} else {
			d.benchmark = benchmark
		}
	}

	result := &Result{}

	date := start
	if !tradecal.IsBusinessDay(date) {
		date = tradecal.NextBusinessDay(date)
	}

	for !date.After(end) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		d.step(ctx, date, result)
		date = tradecal.NextBusinessDay(date)
	}

	d.forceCloseAll(ctx, end, result)
	result.Summary = portfolio.Summarize(result.Valuations, len(result.Transactions))
	return result, nil
}

// step processes one simulated day.
func (d *Driver) step(ctx context.Context, date time.Time, result *Result) {
	subLog := log.With().Time("Date", date).Logger()

	candidates := d.buildCandidates(date)
	if len(candidates) == 0 {
		return
	}

	// skip the day entirely when no new price data arrived
	latest := d.lastProcessed
	for _, c := range candidates {
		if c.Record.Date.After(latest) {
			latest = c.Record.Date
		}
	}
	if !latest.After(d.lastProcessed) {
		subLog.Debug().Msg("no new price data; skipping day")
		return
	}
	d.lastProcessed = latest

	maxBoundary := d.riskCeiling(date)
	minBoundary := d.cfg.Settings.MinimumAllocationToRisk
	if minBoundary.GreaterThan(maxBoundary) {
		minBoundary = maxBoundary
	}

	tradingDay := tradecal.IsTradingDay(date, d.cfg.Settings.TradingDay) && d.intervalElapsed(date)

	res := d.provider.Rebalance(ctx, date, candidates, minBoundary, maxBoundary, tradingDay)
	if res.NeedsRebalancing {
		d.lastRebalance = date
	}

	if len(res.Transactions) > 0 {
		d.applyTransactions(date, res)
		if d.cfg.Save != nil {
			if err := d.cfg.Save.Save(ctx, res.Transactions); err != nil {
				subLog.Error().Stack().Err(err).Msg("could not persist transactions")
			}
		}
	}

	if d.cfg.Save != nil && res.Collection != nil {
		if err := d.cfg.Save.SaveScoring(ctx, scoreRecords(date, res.Collection), res.Transactions); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not persist scoring")
		}
	}

	result.Transactions = append(result.Transactions, res.Transactions...)
	result.Warnings = append(result.Warnings, res.Warnings...)
	result.Valuations = append(result.Valuations, portfolio.Valuation{
		Date:  date,
		Value: d.portfolioValue(date),
	})
}

// buildCandidates merges the day's ranked candidates (filtered to positive
// 10- and 30-day performance) with any invested securities the ranking
// dropped, attaches portfolio state and evaluates stop losses.
func (d *Driver) buildCandidates(date time.Time) []*rebalance.TradingCandidate {
	ranked := d.cfg.Ranker.Candidates(date, pricehist.PreviousDayPrice)
	positions := d.current.Positions()

	candidates := make([]*rebalance.TradingCandidate, 0, len(ranked)+len(positions))
	seen := make(map[int]bool, len(ranked))

	for _, c := range ranked {
		if c.ScoringResult.Performance10.Sign() <= 0 || c.ScoringResult.Performance30.Sign() <= 0 {
			continue
		}
		tc := rebalance.NewTradingCandidate(c)
		d.attachPositionState(tc, positions[tc.SecurityID()])
		seen[tc.SecurityID()] = true
		candidates = append(candidates, tc)
	}

	// invested securities must always be present, even when their score
	// went invalid
	leftover := make([]int, 0, len(positions))
	for id := range positions {
		if !seen[id] {
			leftover = append(leftover, id)
		}
	}
	sort.Ints(leftover)

	for _, id := range leftover {
		series := d.cfg.Store.Series(id)
		if series == nil {
			continue
		}
		record := series.Get(date, pricehist.PreviousDayPrice)
		if record == nil {
			record = series.Last()
		}
		if record == nil {
			continue
		}

		sc := d.cfg.Engine.GetScore(id, record.Date)
		tc := rebalance.NewTradingCandidate(&scoring.Candidate{Record: record, ScoringResult: sc})
		d.attachPositionState(tc, positions[id])
		candidates = append(candidates, tc)
	}

	d.evaluateStops(date, candidates)
	return candidates
}

func (d *Driver) attachPositionState(tc *rebalance.TradingCandidate, pos *portfolio.Position) {
	if last, ok := d.lastScores[tc.SecurityID()]; ok {
		tc.LastScore = last
		tc.HasLastScore = true
	}
	if pos == nil {
		return
	}
	tc.IsInvested = true
	tc.Shares = pos.Shares
	tc.AveragePrice = pos.AveragePrice()
	tc.LastTransaction = pos.LastTransaction
}

// evaluateStops advances the stop-loss trail for every invested candidate
// with the day's price and flags breached positions. Stops are evaluated on
// every business day, trading day or not.
func (d *Driver) evaluateStops(date time.Time, candidates []*rebalance.TradingCandidate) {
	for _, tc := range candidates {
		if !tc.IsInvested {
			continue
		}

		id := tc.SecurityID()
		price := tc.Record.AdjustedPrice
		d.tracker.UpdateDailyLimits(id, price, date)

		if d.tracker.IsBelowMinimumStopHoldingPeriod(id, date) {
			continue
		}

		annualizedVol := decimal.Zero
		if series := d.cfg.Store.Series(id); series != nil {
			if snap, ok := series.TryGetVolatilityInfo(date); ok {
				annualizedVol = snap.DailyVolatility.Mul(sqrtTradingDays)
			}
		}

		eval := &stoploss.Evaluation{
			SecurityID:           id,
			CurrentPrice:         price,
			AveragePrice:         tc.AveragePrice,
			AnnualizedVolatility: annualizedVol,
			Date:                 date,
		}
		if tc.LastTransaction != nil && tc.LastTransaction.IsSell() {
			eval.LastSellDate = tc.LastTransaction.Date
			eval.HasLastSell = true
		}

		tc.IsBelowStop = d.tracker.HasStopLoss(eval)
	}
}

// applyTransactions folds the day's transactions into the aggregation, the
// stop-loss trails and the last-seen score log.
func (d *Driver) applyTransactions(date time.Time, res *rebalance.Result) {
	d.current.Apply(res.Transactions...)

	for _, trx := range res.Transactions {
		switch trx.Kind {
		case portfolio.CloseTransaction:
			d.tracker.ClosePosition(trx.SecurityID)
			delete(d.lastScores, trx.SecurityID)
		case portfolio.OpenTransaction:
			if trx.Shares > 0 {
				price := trx.EffectiveAmount.Div(decimal.NewFromInt(trx.Shares))
				d.tracker.UpdateDailyLimits(trx.SecurityID, price, date)
			}
		}
	}

	if res.Collection == nil {
		return
	}
	for _, c := range res.Collection.Candidates {
		switch c.TransactionType {
		case portfolio.OpenTransaction, portfolio.ChangedTransaction:
			d.lastScores[c.SecurityID()] = c.ScoringResult.Score
		}
	}
}

// riskCeiling scales the maximum risk allocation down when the benchmark
// trades below its moving average; without benchmark data the configured
// maximum applies.
func (d *Driver) riskCeiling(date time.Time) decimal.Decimal {
	ceiling := d.cfg.Settings.MaximumAllocationToRisk
	if d.benchmark == nil {
		return ceiling
	}

	point := d.benchmark.Get(date, pricehist.PreviousItem)
	snap, ok := d.benchmark.TryGetLowMetaInfo(date)
	if point == nil || !ok {
		return ceiling
	}

	if point.AdjustedPrice.LessThan(snap.MovingAverage) {
		return ceiling.Mul(defensiveScale)
	}
	return ceiling
}

func (d *Driver) intervalElapsed(date time.Time) bool {
	if d.lastRebalance.IsZero() {
		return true
	}
	return tradecal.DaysBetween(d.lastRebalance, date) >= d.cfg.Settings.Interval*7-1
}

// portfolioValue prices all open positions at the given date plus cash.
func (d *Driver) portfolioValue(date time.Time) decimal.Decimal {
	return d.cash.Cash().Add(d.current.InvestedValue(func(securityID int) decimal.Decimal {
		series := d.cfg.Store.Series(securityID)
		if series == nil {
			return decimal.Zero
		}
		point := series.Get(date, pricehist.PreviousItem)
		if point == nil {
			return decimal.Zero
		}
		return point.AdjustedPrice
	}))
}

// forceCloseAll closes every remaining open position at the run's end date.
func (d *Driver) forceCloseAll(ctx context.Context, end time.Time, result *Result) {
	positions := d.current.Positions()
	if len(positions) == 0 {
		result.Valuations = append(result.Valuations, portfolio.Valuation{Date: end, Value: d.cash.Cash()})
		return
	}

	ids := make([]int, 0, len(positions))
	for id := range positions {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	closes := make([]*portfolio.Transaction, 0, len(ids))
	for _, id := range ids {
		pos := positions[id]
		series := d.cfg.Store.Series(id)
		if series == nil {
			continue
		}
		point := series.Get(end, pricehist.PreviousItem)
		if point == nil {
			point = series.Last()
		}
		if point == nil {
			continue
		}

		effectiveAmount := point.AdjustedPrice.Mul(decimal.NewFromInt(-pos.Shares)).Round(4)
		trx := portfolio.NewTransaction(end, id, portfolio.CloseTransaction, -pos.Shares, decimal.Zero, decimal.Zero, decimal.Zero, effectiveAmount)
		closes = append(closes, trx)
		d.cash.Apply(effectiveAmount.Neg())
		d.tracker.ClosePosition(id)
		delete(d.lastScores, id)
	}

	d.current.Apply(closes...)
	if d.cfg.Save != nil && len(closes) > 0 {
		if err := d.cfg.Save.Save(ctx, closes); err != nil {
			log.Error().Stack().Err(err).Time("Date", end).Msg("could not persist force-close transactions")
		}
	}

	result.Transactions = append(result.Transactions, closes...)
	result.Valuations = append(result.Valuations, portfolio.Valuation{Date: end, Value: d.cash.Cash()})
}

// scoreRecords flattens a rule-adjusted collection into persistence records.
func scoreRecords(date time.Time, collection *rebalance.Collection) []*portfolio.ScoreRecord {
	records := make([]*portfolio.ScoreRecord, 0, len(collection.Candidates))
	for _, c := range collection.Candidates {
		records = append(records, &portfolio.ScoreRecord{
			Date:           date,
			SecurityID:     c.SecurityID(),
			Score:          c.ScoringResult.Score,
			RebalanceScore: c.RebalanceScore.Value(),
			Kind:           c.TransactionType,
		})
	}
	return records
}
