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

package pricehist

import (
	"time"

	"github.com/shopspring/decimal"
)

// Point is a single daily bar for one security. Points are immutable once
// stored in a Series.
type Point struct {
	Date          time.Time       `json:"date"`
	Price         decimal.Decimal `json:"price"`
	AdjustedPrice decimal.Decimal `json:"adjustedPrice"`
	SecurityID    int             `json:"securityId"`
	Name          string          `json:"name"`
}

// LookupOption selects how Series.Get resolves a date that has no exact bar.
type LookupOption int

const (
	// PreviousItem returns the closest point with date <= the query date.
	PreviousItem LookupOption = iota

	// NextItem returns the closest point with date >= the query date.
	NextItem

	// PreviousDayPrice behaves like PreviousItem but steps back one
	// additional bar when the found point falls on the query date itself.
	// Backtests use this to avoid trading on same-day information.
	PreviousDayPrice
)

// Valid reports whether the point may be stored. Zero prices and the zero
// date are rejected at ingestion.
func (p *Point) Valid() bool {
	if p == nil {
		return false
	}
	if p.Price.IsZero() || p.AdjustedPrice.IsZero() {
		return false
	}
	return !p.Date.IsZero()
}
