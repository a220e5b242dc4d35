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

package rebalance_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/sigmavault/sv-engine/portfolio"
	"github.com/sigmavault/sv-engine/rebalance"
)

var _ = Describe("Provider", func() {
	var (
		cash     *portfolio.CashLedger
		provider *rebalance.Provider
		date     time.Time
		minB     decimal.Decimal
		maxB     decimal.Decimal
	)

	BeforeEach(func() {
		cash = portfolio.NewCashLedger(decimal.NewFromInt(100_000))
		provider = rebalance.NewProvider(nil, nil, cash)
		date = time.Date(2020, time.June, 3, 0, 0, 0, 0, time.UTC) // a Wednesday
		minB = decimal.NewFromFloat(0.15)
		maxB = decimal.NewFromInt(1)
	})

	Context("when opening new positions", func() {
		It("opens the best candidates until the minimum boundary holds", func() {
			candidates := []*rebalance.TradingCandidate{
				candidate(1, 6.0, 50),
				candidate(2, 5.0, 20),
				candidate(3, 4.0, 10),
			}

			result := provider.Rebalance(context.Background(), date, candidates, minB, maxB, true)

			Expect(result.NeedsRebalancing).To(BeTrue())
			// two ten-percent opens satisfy a 15% minimum boundary
			Expect(result.Transactions).To(HaveLen(2))
			for _, trx := range result.Transactions {
				Expect(trx.Kind).To(Equal(portfolio.OpenTransaction))
				Expect(trx.Shares).To(BeNumerically(">", 0))
			}
			Expect(cash.Cash().LessThan(decimal.NewFromInt(100_000))).To(BeTrue())
		})

		It("allocates weakest-first so the strongest candidate survives a tight budget", func() {
			candidates := []*rebalance.TradingCandidate{
				candidate(1, 6.0, 50),
				candidate(2, 5.0, 20),
			}

			result := provider.Rebalance(context.Background(), date, candidates, decimal.NewFromFloat(0.05), maxB, true)

			// a 5% boundary is satisfied by a single open, taken from the
			// bottom of the ranking
			Expect(result.Transactions).To(HaveLen(1))
			Expect(result.Transactions[0].SecurityID).To(Equal(2))
		})

		It("opens nothing on a non-trading day", func() {
			candidates := []*rebalance.TradingCandidate{candidate(1, 6.0, 50)}
			result := provider.Rebalance(context.Background(), date, candidates, minB, maxB, false)
			Expect(result.Transactions).To(BeEmpty())
			Expect(cash.Cash().InexactFloat64()).To(Equal(100_000.0))
		})

		It("respects the cash buffer", func() {
			// tiny portfolio: one open of 10% is 10 but the buffer keeps 2%
			small := portfolio.NewCashLedger(decimal.NewFromInt(100))
			provider = rebalance.NewProvider(nil, nil, small)

			candidates := []*rebalance.TradingCandidate{candidate(1, 6.0, 1)}
			result := provider.Rebalance(context.Background(), date, candidates, decimal.NewFromFloat(0.05), maxB, true)

			Expect(result.Transactions).To(HaveLen(1))
			Expect(small.Cash().Sign() >= 0).To(BeTrue())
		})
	})

	Context("when a stop loss fired", func() {
		It("closes the position even on non-trading days", func() {
			stopped := candidate(7, 2.0, 40)
			stopped.IsInvested = true
			stopped.Shares = 100
			stopped.IsBelowStop = true

			result := provider.Rebalance(context.Background(), date, []*rebalance.TradingCandidate{stopped}, minB, maxB, false)

			Expect(result.Transactions).To(HaveLen(1))
			trx := result.Transactions[0]
			Expect(trx.Kind).To(Equal(portfolio.CloseTransaction))
			Expect(trx.Shares).To(Equal(int64(-100)))
			// sale proceeds 4000 at price 40
			Expect(cash.Cash().InexactFloat64()).To(Equal(104_000.0))
			Expect(stopped.IsInvested).To(BeFalse())
		})
	})

	Context("when a position grew past the maximum position size", func() {
		It("trims it back to the cap", func() {
			smallCash := portfolio.NewCashLedger(decimal.NewFromInt(5_000))
			provider = rebalance.NewProvider(nil, nil, smallCash)

			oversized := candidate(9, 6.0, 50)
			oversized.IsInvested = true
			oversized.Shares = 1900 // 95,000 at price 50, 95% of a 100k portfolio

			result := provider.Rebalance(context.Background(), date, []*rebalance.TradingCandidate{oversized}, minB, maxB, true)

			Expect(result.NeedsRebalancing).To(BeTrue())
			Expect(result.Transactions).To(HaveLen(1))
			trx := result.Transactions[0]
			Expect(trx.Kind).To(Equal(portfolio.ChangedTransaction))
			// 62% excess over the 33% cap is 62,000, or 1,240 shares
			Expect(trx.Shares).To(Equal(int64(-1240)))
			Expect(trx.TargetWeight.InexactFloat64()).To(Equal(0.33))
			Expect(smallCash.Cash().InexactFloat64()).To(Equal(67_000.0))
			Expect(oversized.Shares).To(Equal(int64(660)))
			Expect(oversized.CurrentWeight.InexactFloat64()).To(BeNumerically("~", 0.33, 1e-9))
		})

		It("leaves positions at or below the cap alone", func() {
			smallCash := portfolio.NewCashLedger(decimal.NewFromInt(67_000))
			provider = rebalance.NewProvider(nil, nil, smallCash)

			capped := candidate(9, 6.0, 50)
			capped.IsInvested = true
			capped.Shares = 660 // exactly 33% of a 100k portfolio

			result := provider.Rebalance(context.Background(), date, []*rebalance.TradingCandidate{capped}, decimal.NewFromFloat(0.01), maxB, true)

			Expect(result.Transactions).To(BeEmpty())
			Expect(capped.TransactionType).To(Equal(portfolio.UnchangedTransaction))
		})
	})

	Context("when positions are inside the minimum holding period", func() {
		It("leaves them unchanged and skips the rebalance", func() {
			held := candidate(1, 5.0, 50)
			held.IsInvested = true
			held.Shares = 100
			held.LastTransaction = &portfolio.Transaction{Date: date.AddDate(0, 0, -3)}

			result := provider.Rebalance(context.Background(), date, []*rebalance.TradingCandidate{held}, decimal.NewFromFloat(0.01), maxB, true)

			Expect(held.TransactionType).To(Equal(portfolio.UnchangedTransaction))
			Expect(result.NeedsRebalancing).To(BeFalse())
			Expect(result.Transactions).To(BeEmpty())
		})
	})
})

var _ = Describe("CashBoundaryManager", func() {
	newCollection := func(candidates ...*rebalance.TradingCandidate) *rebalance.Collection {
		return &rebalance.Collection{Candidates: candidates}
	}

	It("sells just enough shares to cover negative cash", func() {
		cash := portfolio.NewCashLedger(decimal.NewFromInt(-1_000))
		manager := rebalance.NewCashBoundaryManager(cash)
		calc := rebalance.NewCalculator(decimal.NewFromInt(10_000))

		held := candidate(1, 5.0, 50)
		held.IsInvested = true
		held.Shares = 100
		held.CurrentWeight = decimal.NewFromFloat(0.5)

		date := time.Date(2020, time.June, 3, 0, 0, 0, 0, time.UTC)
		transactions, warning := manager.CleanUpCash(ruleContext(0.02), calc, date, newCollection(held), decimal.NewFromFloat(0.5))

		Expect(warning).To(BeNil())
		Expect(transactions).To(HaveLen(1))
		Expect(transactions[0].Kind).To(Equal(portfolio.ChangedTransaction))
		Expect(transactions[0].Shares).To(Equal(int64(-20)))
		Expect(cash.Cash().Sign()).To(Equal(0))
		Expect(held.Shares).To(Equal(int64(80)))
	})

	It("closes the weakest position entirely when the need exceeds it", func() {
		cash := portfolio.NewCashLedger(decimal.NewFromInt(-10_000))
		manager := rebalance.NewCashBoundaryManager(cash)
		calc := rebalance.NewCalculator(decimal.NewFromInt(10_000))

		held := candidate(1, 5.0, 50)
		held.IsInvested = true
		held.Shares = 100
		held.CurrentWeight = decimal.NewFromFloat(0.5)

		date := time.Date(2020, time.June, 3, 0, 0, 0, 0, time.UTC)
		transactions, warning := manager.CleanUpCash(ruleContext(0.02), calc, date, newCollection(held), decimal.NewFromFloat(0.5))

		Expect(transactions).To(HaveLen(1))
		Expect(transactions[0].Kind).To(Equal(portfolio.CloseTransaction))
		Expect(held.IsInvested).To(BeFalse())

		// 5000 of proceeds cannot cover a 10000 hole
		Expect(warning).NotTo(BeNil())
		Expect(warning.Shortfall.InexactFloat64()).To(Equal(5_000.0))
	})

	It("reduces over-sized positions below the maximum boundary", func() {
		cash := portfolio.NewCashLedger(decimal.NewFromInt(1_000))
		manager := rebalance.NewCashBoundaryManager(cash)
		calc := rebalance.NewCalculator(decimal.NewFromInt(10_000))

		heavy := candidate(1, 5.0, 50)
		heavy.IsInvested = true
		heavy.Shares = 180 // 9000 of a 10000 portfolio
		heavy.CurrentWeight = decimal.NewFromFloat(0.9)

		ctx := ruleContext(0.02)
		ctx.MaxBoundary = decimal.NewFromFloat(0.5)

		date := time.Date(2020, time.June, 3, 0, 0, 0, 0, time.UTC)
		transactions, warning := manager.CleanUpCash(ctx, calc, date, newCollection(heavy), decimal.NewFromFloat(0.9))

		Expect(warning).To(BeNil())
		Expect(transactions).To(HaveLen(1))
		Expect(transactions[0].Shares).To(BeNumerically("<", 0))
		Expect(heavy.Shares).To(BeNumerically("<", 180))
	})
})
