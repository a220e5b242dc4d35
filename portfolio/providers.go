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
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sigmavault/sv-engine/pricehist"
)

// ScoreRecord is the persistence view of one scored candidate after a
// rebalancing pass.
type ScoreRecord struct {
	Date           time.Time       `json:"date"`
	SecurityID     int             `json:"securityId"`
	Score          decimal.Decimal `json:"score"`
	RebalanceScore decimal.Decimal `json:"rebalanceScore"`
	Kind           string          `json:"kind"`
}

// SaveProvider persists the results of one simulated day. The engine never
// performs I/O itself; implementations live at the boundary.
type SaveProvider interface {
	Save(ctx context.Context, transactions []*Transaction) error
	SaveScoring(ctx context.Context, records []*ScoreRecord, temporary []*Transaction) error
}

// TransactionsCacheProvider supplies the full transaction log the engine
// aggregates into a CurrentPortfolio.
type TransactionsCacheProvider interface {
	Transactions(ctx context.Context) ([]*Transaction, error)
	Refresh(ctx context.Context) error
}

// ExposureDataProvider supplies the benchmark index series used for
// risk-ceiling calculations.
type ExposureDataProvider interface {
	Benchmark(ctx context.Context) (*pricehist.Series, error)
}
