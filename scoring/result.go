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

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Result is the scoring outcome for one security as of a date. Performance
// fields are percentage returns over the trailing calendar-day window;
// Volatility is the daily standard deviation of returns.
type Result struct {
	Asof           time.Time       `json:"asof"`
	Performance10  decimal.Decimal `json:"performance10"`
	Performance30  decimal.Decimal `json:"performance30"`
	Performance90  decimal.Decimal `json:"performance90"`
	Performance250 decimal.Decimal `json:"performance250"`
	Volatility     decimal.Decimal `json:"volatility"`
	HasVolatility  bool            `json:"hasVolatility"`
	Score          decimal.Decimal `json:"score"`

	// Complete is false when the 250-day return could not be computed. An
	// incomplete result never ranks.
	Complete bool `json:"complete"`
}

// IsValid reports whether the result may enter a ranking: the history was
// sufficient and the score clears the validity gate of 1.
func (r *Result) IsValid() bool {
	return r.Complete && r.Score.GreaterThan(one)
}
