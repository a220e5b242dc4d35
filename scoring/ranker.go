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
	"sort"
	"time"

	"github.com/sigmavault/sv-engine/pricehist"
)

// Candidate pairs a security's resolved price point with its score as of a
// date. Candidates are produced fresh on every ranking pass.
type Candidate struct {
	Record        *pricehist.Point `json:"record"`
	ScoringResult *Result          `json:"scoringResult"`
}

// Ranker produces the sorted tradeable candidate list for a date.
type Ranker struct {
	store  *pricehist.Store
	engine *Engine
	names  map[int]string
}

// NewRanker creates a ranker. The names map is optional; when present,
// resolved points are annotated with the security name.
func NewRanker(store *pricehist.Store, engine *Engine, names map[int]string) *Ranker {
	return &Ranker{
		store:  store,
		engine: engine,
		names:  names,
	}
}

// Candidates resolves every tracked security's price point at the query
// date under the supplied lookup option, scores it, drops invalid scores
// and returns the remainder sorted descending by score. The sort is stable:
// ties keep store insertion order, so identical inputs always produce the
// identical ranking.
//
// Under the PreviousDayPrice option the score is computed as of the resolved
// record's own date, never the query date, so the score cannot be one day
// newer than the price it ranks.
func (r *Ranker) Candidates(date time.Time, option pricehist.LookupOption) []*Candidate {
	candidates := make([]*Candidate, 0, r.store.Len())

	for _, securityID := range r.store.SecurityIDs() {
		series := r.store.Series(securityID)
		record := series.Get(date, option)
		if record == nil {
			continue
		}

		// stored points stay immutable; annotate a copy
		if r.names != nil && record.Name == "" {
			if name, ok := r.names[securityID]; ok {
				named := *record
				named.Name = name
				record = &named
			}
		}

		scoreDate := date
		if option == pricehist.PreviousDayPrice {
			scoreDate = record.Date
		}

		result := r.engine.GetScore(securityID, scoreDate)
		if !result.IsValid() {
			continue
		}

		candidates = append(candidates, &Candidate{
			Record:        record,
			ScoringResult: result,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ScoringResult.Score.GreaterThan(candidates[j].ScoringResult.Score)
	})

	return candidates
}
