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

package scoring

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sigmavault/sv-engine/pricehist"
)

const scoreCacheSize = 16384

var hundred = decimal.NewFromInt(100)

// Weights are the performance term weights; they must sum to 1. The default
// is biased toward the 90-day term.
type Weights struct {
	Perf10  decimal.Decimal
	Perf30  decimal.Decimal
	Perf90  decimal.Decimal
	Perf250 decimal.Decimal
}

// DefaultWeights returns the documented default weighting 0.10/0.30/0.40/0.20.
func DefaultWeights() *Weights {
	return &Weights{
		Perf10:  decimal.NewFromFloat(0.10),
		Perf30:  decimal.NewFromFloat(0.30),
		Perf90:  decimal.NewFromFloat(0.40),
		Perf250: decimal.NewFromFloat(0.20),
	}
}

type cacheKey struct {
	securityID int
	date       int64
}

// Engine converts price series into comparable performance scores. Each
// engine owns its memoization cache so independent backtest runs cannot leak
// state into one another.
type Engine struct {
	store   *pricehist.Store
	weights *Weights
	cache   *lru.Cache
}

// NewEngine creates a scoring engine over the given store. A nil weights
// argument selects DefaultWeights.
func NewEngine(store *pricehist.Store, weights *Weights) *Engine {
	if weights == nil {
		weights = DefaultWeights()
	}
	cache, err := lru.New(scoreCacheSize)
	if err != nil {
		log.Panic().Err(err).Msg("could not create score cache")
	}
	return &Engine{
		store:   store,
		weights: weights,
		cache:   cache,
	}
}

// GetScore scores a security as of a date. Missing price points or an
// incomputable 250-day return yield an incomplete result, never an error.
func (e *Engine) GetScore(securityID int, date time.Time) *Result {
	key := cacheKey{securityID: securityID, date: date.Unix()}
	if cached, ok := e.cache.Get(key); ok {
		return cached.(*Result)
	}

	result := e.computeScore(securityID, date)
	e.cache.Add(key, result)
	return result
}

func (e *Engine) computeScore(securityID int, date time.Time) *Result {
	result := &Result{Asof: date}

	series := e.store.Series(securityID)
	if series == nil {
		return result
	}

	point := series.Get(date, pricehist.PreviousItem)
	if point == nil {
		return result
	}

	result.Performance10, _ = performance(series, point, 10)
	result.Performance30, _ = performance(series, point, 30)
	result.Performance90, _ = performance(series, point, 90)

	p250, ok := performance(series, point, 250)
	if !ok {
		return result
	}
	result.Performance250 = p250

	if vol, found := series.TryGetVolatilityInfo(date); found {
		result.Volatility = vol.DailyVolatility
		result.HasVolatility = true
	}

	weighted := result.Performance10.Mul(e.weights.Perf10).
		Add(result.Performance30.Mul(e.weights.Perf30)).
		Add(result.Performance90.Mul(e.weights.Perf90)).
		Add(result.Performance250.Mul(e.weights.Perf250))

	result.Score = weighted.Mul(one.Sub(result.Volatility)).Round(2)
	result.Complete = true
	return result
}

// performance computes the percentage return over the trailing window of
// calendar days ending at the given point.
func performance(series *pricehist.Series, point *pricehist.Point, days int) (decimal.Decimal, bool) {
	then := series.Get(point.Date.AddDate(0, 0, -days), pricehist.PreviousItem)
	if then == nil || then.AdjustedPrice.IsZero() {
		return decimal.Zero, false
	}
	r := point.AdjustedPrice.Sub(then.AdjustedPrice).Div(then.AdjustedPrice).Mul(hundred)
	return r, true
}
