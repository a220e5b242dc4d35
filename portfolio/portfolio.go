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

package portfolio

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Position is the aggregated open position for one security: the sum of all
// non-cancelled transactions from the most recent Open to the latest entry.
type Position struct {
	SecurityID      int
	Shares          int64
	Opened          time.Time
	BuyShares       int64
	BuyAmount       decimal.Decimal
	LastTransaction *Transaction
}

// AveragePrice returns the volume-weighted average purchase price of the
// open position.
func (p *Position) AveragePrice() decimal.Decimal {
	if p.BuyShares == 0 {
		return decimal.Zero
	}
	return p.BuyAmount.Div(decimal.NewFromInt(p.BuyShares))
}

// CurrentPortfolio aggregates a transaction log into open positions. The
// aggregation is rebuilt lazily whenever the log's latest date advances.
type CurrentPortfolio struct {
	transactions []*Transaction
	positions    map[int]*Position
	builtThrough time.Time
	dirty        bool
}

// NewCurrentPortfolio creates an empty portfolio aggregation.
func NewCurrentPortfolio() *CurrentPortfolio {
	return &CurrentPortfolio{
		positions: make(map[int]*Position),
	}
}

// Load replaces the underlying transaction log, e.g. from a
// TransactionsCacheProvider refresh.
func (cp *CurrentPortfolio) Load(transactions []*Transaction) {
	cp.transactions = make([]*Transaction, len(transactions))
	copy(cp.transactions, transactions)
	sort.SliceStable(cp.transactions, func(i, j int) bool {
		return cp.transactions[i].Date.Before(cp.transactions[j].Date)
	})
	cp.dirty = true
}

// Apply appends executed transactions to the log. Transactions must arrive
// in chronological order; out-of-order entries are logged and dropped.
func (cp *CurrentPortfolio) Apply(transactions ...*Transaction) {
	for _, trx := range transactions {
		if len(cp.transactions) > 0 {
			last := cp.transactions[len(cp.transactions)-1]
			if trx.Date.Before(last.Date) {
				log.Error().Stack().Time("Date", trx.Date).Time("LastTransactionDate", last.Date).Msg("dropping out-of-order transaction")
				continue
			}
		}
		cp.transactions = append(cp.transactions, trx)
		if trx.Date.After(cp.builtThrough) {
			cp.dirty = true
		}
	}
}

// Transactions returns the full transaction log, including cancelled
// entries.
func (cp *CurrentPortfolio) Transactions() []*Transaction {
	return cp.transactions
}

// Position returns the open position for the security or nil.
func (cp *CurrentPortfolio) Position(securityID int) *Position {
	return cp.Positions()[securityID]
}

// Positions returns all open positions, rebuilding the aggregation when the
// log advanced since the last build.
func (cp *CurrentPortfolio) Positions() map[int]*Position {
	if cp.dirty {
		cp.rebuild()
	}
	return cp.positions
}

// InvestedValue prices every open position with the supplied price resolver
// and returns the summed market value.
func (cp *CurrentPortfolio) InvestedValue(priceOf func(securityID int) decimal.Decimal) decimal.Decimal {
	value := decimal.Zero
	for id, pos := range cp.Positions() {
		price := priceOf(id)
		if price.IsZero() {
			log.Warn().Int("SecurityID", id).Msg("no price for open position; valuing at zero")
			continue
		}
		value = value.Add(price.Mul(decimal.NewFromInt(pos.Shares)))
	}
	return value
}

// rebuild walks the log in date order. A Close resets the security's group;
// cancelled transactions are skipped entirely.
func (cp *CurrentPortfolio) rebuild() {
	positions := make(map[int]*Position)

	for _, trx := range cp.transactions {
		if trx.Cancelled {
			continue
		}

		switch trx.Kind {
		case CloseTransaction:
			delete(positions, trx.SecurityID)
		case OpenTransaction:
			positions[trx.SecurityID] = &Position{
				SecurityID:      trx.SecurityID,
				Shares:          trx.Shares,
				Opened:          trx.Date,
				BuyShares:       trx.Shares,
				BuyAmount:       trx.EffectiveAmount,
				LastTransaction: trx,
			}
		case ChangedTransaction:
			pos, ok := positions[trx.SecurityID]
			if !ok {
				log.Warn().Int("SecurityID", trx.SecurityID).Time("Date", trx.Date).Msg("change transaction without open position; skipping")
				continue
			}
			pos.Shares += trx.Shares
			if trx.Shares > 0 {
				pos.BuyShares += trx.Shares
				pos.BuyAmount = pos.BuyAmount.Add(trx.EffectiveAmount)
			}
			pos.LastTransaction = trx
			if pos.Shares <= 0 {
				delete(positions, trx.SecurityID)
			}
		}

		if trx.Date.After(cp.builtThrough) {
			cp.builtThrough = trx.Date
		}
	}

	cp.positions = positions
	cp.dirty = false
}

// CashLedger tracks the single authoritative cash scalar. Cash is derived
// from buy/sell deltas applied during rebalancing; there is no per-entry
// cash history.
type CashLedger struct {
	cash     decimal.Decimal
	onChange []func(decimal.Decimal)
}

// NewCashLedger creates a ledger with the given opening balance.
func NewCashLedger(initial decimal.Decimal) *CashLedger {
	return &CashLedger{cash: initial}
}

// Cash returns the current balance.
func (c *CashLedger) Cash() decimal.Decimal {
	return c.cash
}

// Apply adds delta to the balance (negative for buys) and notifies
// subscribers.
func (c *CashLedger) Apply(delta decimal.Decimal) {
	c.cash = c.cash.Add(delta)
	for _, fn := range c.onChange {
		fn(c.cash)
	}
}

// OnChange registers a balance change subscriber.
func (c *CashLedger) OnChange(fn func(decimal.Decimal)) {
	c.onChange = append(c.onChange, fn)
}
