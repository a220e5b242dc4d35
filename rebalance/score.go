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

import "github.com/shopspring/decimal"

// Adjustment is one multiplicative factor applied to a rebalance score by a
// named rule.
type Adjustment struct {
	Rule   string          `json:"rule"`
	Factor decimal.Decimal `json:"factor"`
}

// Score is the allocation-ordering value of a candidate: an immutable base
// (the raw performance score) folded with the log of rule adjustments. The
// log makes rule ordering effects auditable after the fact.
type Score struct {
	Base        decimal.Decimal `json:"base"`
	Adjustments []Adjustment    `json:"adjustments"`
}

// NewScore creates a score with no adjustments applied.
func NewScore(base decimal.Decimal) *Score {
	return &Score{Base: base}
}

// Adjust appends a rule adjustment to the log.
func (s *Score) Adjust(rule string, factor decimal.Decimal) {
	s.Adjustments = append(s.Adjustments, Adjustment{Rule: rule, Factor: factor})
}

// Value folds the adjustment log over the base score.
func (s *Score) Value() decimal.Decimal {
	v := s.Base
	for _, a := range s.Adjustments {
		v = v.Mul(a.Factor)
	}
	return v
}
