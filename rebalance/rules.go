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

import (
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sigmavault/sv-engine/portfolio"
)

var (
	one = decimal.NewFromInt(1)

	transactionTypeOpenScale    = decimal.NewFromInt(5)
	transactionTypeUnknownScale = decimal.NewFromInt(8)
	betterScoringScale          = decimal.NewFromInt(2)
	betterScoringThreshold      = decimal.NewFromFloat(1.25)

	increasedPositionThresholds = []decimal.Decimal{
		decimal.NewFromFloat(0.10),
		decimal.NewFromFloat(0.20),
		decimal.NewFromFloat(0.30),
	}
)

// Context is the shared state all rules evaluate against.
type Context struct {
	Delta       decimal.Decimal
	Settings    *Settings
	MinBoundary decimal.Decimal
	MaxBoundary decimal.Decimal
}

// AdjustmentRule mutates only a candidate's rebalance score, never the raw
// performance score.
type AdjustmentRule interface {
	Name() string
	Apply(ctx *Context, c *TradingCandidate)
}

// PredicateOutcome is the verdict of one need-rebalance predicate.
type PredicateOutcome int

const (
	// OutcomeContinue passes evaluation to the next predicate.
	OutcomeContinue PredicateOutcome = iota

	// OutcomeRebalance short-circuits the chain with NeedsRebalancing set.
	OutcomeRebalance

	// OutcomeStop short-circuits the chain without rebalancing.
	OutcomeStop
)

// Predicate decides whether the current portfolio must be rebalanced.
// Predicates run in ascending SortIndex order.
type Predicate interface {
	Name() string
	SortIndex() int
	Evaluate(ctx *Context, candidates []*TradingCandidate) PredicateOutcome
}

// Collection is the rule-adjusted, re-sorted candidate set plus the
// rebalance verdict.
type Collection struct {
	Candidates       []*TradingCandidate
	NeedsRebalancing bool
}

// RuleEngine applies the statically registered adjustment rules and
// need-rebalance predicates. Rules are an explicit ordered list; there is no
// runtime discovery.
type RuleEngine struct {
	adjustments []AdjustmentRule
	predicates  []Predicate
}

// NewRuleEngine builds an engine from explicit rule lists. Nil arguments
// select the default registrations.
func NewRuleEngine(adjustments []AdjustmentRule, predicates []Predicate) *RuleEngine {
	if adjustments == nil {
		adjustments = DefaultAdjustmentRules()
	}
	if predicates == nil {
		predicates = DefaultPredicates()
	}

	sorted := make([]Predicate, len(predicates))
	copy(sorted, predicates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SortIndex() < sorted[j].SortIndex()
	})

	return &RuleEngine{
		adjustments: adjustments,
		predicates:  sorted,
	}
}

// DefaultAdjustmentRules returns the standard per-candidate rules in
// application order.
func DefaultAdjustmentRules() []AdjustmentRule {
	return []AdjustmentRule{
		&TransactionTypeRule{},
		&IncreasedPositionsRule{},
		&HasBetterScoringRule{},
	}
}

// DefaultPredicates returns the standard need-rebalance chain.
func DefaultPredicates() []Predicate {
	return []Predicate{
		&FirstNotInvestedPredicate{},
		&NotAllUnchangedPredicate{},
		&CumulativeWeightPredicate{},
	}
}

// Evaluate applies every adjustment rule to every candidate, re-sorts by the
// adjusted score, and then runs the predicate chain. The first predicate
// that does not return OutcomeContinue ends the chain.
func (re *RuleEngine) Evaluate(ctx *Context, candidates []*TradingCandidate) *Collection {
	for _, c := range candidates {
		for _, rule := range re.adjustments {
			rule.Apply(ctx, c)
		}
	}

	sorted := make([]*TradingCandidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RebalanceScore.Value().GreaterThan(sorted[j].RebalanceScore.Value())
	})

	collection := &Collection{Candidates: sorted}

	for _, predicate := range re.predicates {
		outcome := predicate.Evaluate(ctx, sorted)
		if outcome == OutcomeContinue {
			continue
		}
		if outcome == OutcomeRebalance {
			log.Debug().Str("Predicate", predicate.Name()).Msg("rebalancing required")
			collection.NeedsRebalancing = true
		}
		break
	}

	return collection
}

// TransactionTypeRule penalizes candidates that are not yet invested: an
// Open costs delta*5, an Unknown delta*8. Invested candidates keep their
// score so an incumbent beats an equally scored newcomer.
type TransactionTypeRule struct{}

func (r *TransactionTypeRule) Name() string { return "transaction-type" }

func (r *TransactionTypeRule) Apply(ctx *Context, c *TradingCandidate) {
	switch c.TransactionType {
	case portfolio.OpenTransaction:
		c.RebalanceScore.Adjust(r.Name(), one.Sub(ctx.Delta.Mul(transactionTypeOpenScale)))
	case portfolio.UnknownTransaction:
		c.RebalanceScore.Adjust(r.Name(), one.Sub(ctx.Delta.Mul(transactionTypeUnknownScale)))
	}
}

// IncreasedPositionsRule rewards candidates whose position already grew past
// the 10/20/30% weight thresholds. Bonuses stack, one per threshold crossed.
type IncreasedPositionsRule struct{}

func (r *IncreasedPositionsRule) Name() string { return "increased-positions" }

func (r *IncreasedPositionsRule) Apply(ctx *Context, c *TradingCandidate) {
	if !c.IsInvested {
		return
	}
	for _, threshold := range increasedPositionThresholds {
		if c.CurrentWeight.GreaterThan(threshold) {
			c.RebalanceScore.Adjust(r.Name(), one.Add(ctx.Delta))
		}
	}
}

// HasBetterScoringRule rewards a candidate whose current score exceeds the
// score recorded at its last transaction by more than 25%.
type HasBetterScoringRule struct{}

func (r *HasBetterScoringRule) Name() string { return "has-better-scoring" }

func (r *HasBetterScoringRule) Apply(ctx *Context, c *TradingCandidate) {
	if !c.HasLastScore || c.LastScore.Sign() <= 0 {
		return
	}
	if c.ScoringResult.Score.GreaterThan(c.LastScore.Mul(betterScoringThreshold)) {
		c.RebalanceScore.Adjust(r.Name(), one.Add(ctx.Delta.Mul(betterScoringScale)))
	}
}

// FirstNotInvestedPredicate forces a rebalance whenever the top-ranked
// candidate is not currently held.
type FirstNotInvestedPredicate struct{}

func (p *FirstNotInvestedPredicate) Name() string   { return "first-not-invested" }
func (p *FirstNotInvestedPredicate) SortIndex() int { return 10 }

func (p *FirstNotInvestedPredicate) Evaluate(_ *Context, candidates []*TradingCandidate) PredicateOutcome {
	if len(candidates) > 0 && !candidates[0].IsInvested {
		return OutcomeRebalance
	}
	return OutcomeContinue
}

// NotAllUnchangedPredicate forces a rebalance when any candidate carries a
// pending change; when every candidate is Unchanged it stops the chain.
type NotAllUnchangedPredicate struct{}

func (p *NotAllUnchangedPredicate) Name() string   { return "not-all-unchanged" }
func (p *NotAllUnchangedPredicate) SortIndex() int { return 20 }

func (p *NotAllUnchangedPredicate) Evaluate(_ *Context, candidates []*TradingCandidate) PredicateOutcome {
	for _, c := range candidates {
		if c.TransactionType != portfolio.UnchangedTransaction {
			return OutcomeRebalance
		}
	}
	return OutcomeStop
}

// CumulativeWeightPredicate scans from the best candidate down to the first
// non-invested one, or until the cumulative weight crosses the allocation
// boundary. If every candidate inspected on the way is Unchanged the
// rebalance is skipped.
type CumulativeWeightPredicate struct{}

func (p *CumulativeWeightPredicate) Name() string   { return "cumulative-weight" }
func (p *CumulativeWeightPredicate) SortIndex() int { return 30 }

func (p *CumulativeWeightPredicate) Evaluate(ctx *Context, candidates []*TradingCandidate) PredicateOutcome {
	cumulative := decimal.Zero
	for _, c := range candidates {
		if !c.IsInvested {
			break
		}
		if c.TransactionType != portfolio.UnchangedTransaction {
			return OutcomeRebalance
		}
		cumulative = cumulative.Add(c.CurrentWeight)
		if cumulative.GreaterThan(ctx.MaxBoundary) {
			break
		}
	}
	return OutcomeStop
}
