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
	"math"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

// Valuation is the portfolio value at the end of one simulated day.
type Valuation struct {
	Date  time.Time       `json:"date"`
	Value decimal.Decimal `json:"value"`
}

// Summary holds the performance statistics of a completed run. These are
// reporting values only and never feed back into portfolio state, so
// float64 is acceptable here.
type Summary struct {
	FinalValue   decimal.Decimal `json:"finalValue"`
	TotalReturn  float64         `json:"totalReturn"`
	Cagr         float64         `json:"cagr"`
	StdDev       float64         `json:"stdDev"`
	MaxDrawDown  float64         `json:"maxDrawDown"`
	SharpeRatio  float64         `json:"sharpeRatio"`
	NumDays      int             `json:"numDays"`
	Transactions int             `json:"transactions"`
}

// Summarize computes the performance summary of a valuation trajectory.
func Summarize(valuations []Valuation, transactionCount int) *Summary {
	summary := &Summary{NumDays: len(valuations), Transactions: transactionCount}
	if len(valuations) < 2 {
		return summary
	}

	summary.FinalValue = valuations[len(valuations)-1].Value

	first, _ := valuations[0].Value.Float64()
	last, _ := summary.FinalValue.Float64()
	if first <= 0 {
		return summary
	}
	summary.TotalReturn = last/first - 1

	years := valuations[len(valuations)-1].Date.Sub(valuations[0].Date).Hours() / 24 / 365.25
	if years > 0 {
		summary.Cagr = math.Pow(last/first, 1/years) - 1
	}

	returns := make([]float64, 0, len(valuations)-1)
	prev := first
	peak := first
	for _, v := range valuations[1:] {
		val, _ := v.Value.Float64()
		if prev > 0 {
			returns = append(returns, val/prev-1)
		}
		if val > peak {
			peak = val
		}
		if peak > 0 {
			if dd := val/peak - 1; dd < summary.MaxDrawDown {
				summary.MaxDrawDown = dd
			}
		}
		prev = val
	}

	if len(returns) > 1 {
		mean, std := stat.MeanStdDev(returns, nil)
		summary.StdDev = std * math.Sqrt(250)
		if std > 0 {
			summary.SharpeRatio = mean / std * math.Sqrt(250)
		}
	}

	return summary
}
