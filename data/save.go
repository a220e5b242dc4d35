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

package data

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"
	"github.com/sigmavault/sv-engine/common"
	"github.com/sigmavault/sv-engine/data/database"
	"github.com/sigmavault/sv-engine/portfolio"
)

// PgSaveProvider persists transactions and scoring snapshots to PostgreSQL.
// It is the production SaveProvider; the engine itself never touches the
// database.
type PgSaveProvider struct {
	RunID string
}

// NewPgSaveProvider creates a save provider tagging all rows with the run
// id.
func NewPgSaveProvider(runID string) *PgSaveProvider {
	return &PgSaveProvider{RunID: runID}
}

// Save writes the day's transactions in a single database transaction.
func (p *PgSaveProvider) Save(ctx context.Context, transactions []*portfolio.Transaction) error {
	if len(transactions) == 0 {
		return nil
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return err
	}

	sql := `INSERT INTO trading_transaction (
		"id", "run_id", "event_date", "security_id", "kind", "shares",
		"target_weight", "effective_weight", "target_amount", "effective_amount",
		"cancelled", "source", "source_id"
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
	) ON CONFLICT ON CONSTRAINT trading_transaction_pkey DO UPDATE SET
		cancelled=EXCLUDED.cancelled`

	for _, t := range transactions {
		trxID := pgtype.UUID{}
		if err := trxID.Set(t.ID); err != nil {
			log.Warn().Stack().Err(err).Msg("could not set transaction uuid")
			continue
		}

		if _, err := trx.Exec(ctx, sql, trxID, p.RunID, t.Date, t.SecurityID, t.Kind,
			t.Shares, t.TargetWeight, t.EffectiveWeight, t.TargetAmount,
			t.EffectiveAmount, t.Cancelled, t.Source, t.SourceID); err != nil {
			log.Error().Stack().Err(err).Time("TransactionDate", t.Date).Int("SecurityID", t.SecurityID).Msg("could not save transaction")
			if err := trx.Rollback(ctx); err != nil {
				log.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return err
		}
	}

	return trx.Commit(ctx)
}

// SaveScoring stores the rule-adjusted score records of a day as an
// lz4-compressed JSON document alongside the pending transactions.
func (p *PgSaveProvider) SaveScoring(ctx context.Context, records []*portfolio.ScoreRecord, temporary []*portfolio.Transaction) error {
	if len(records) == 0 {
		return nil
	}

	payload := struct {
		Records   []*portfolio.ScoreRecord `json:"records"`
		Temporary []*portfolio.Transaction `json:"temporary"`
	}{
		Records:   records,
		Temporary: temporary,
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not marshal scoring snapshot")
		return err
	}

	compressed, err := common.Compress(raw)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not compress scoring snapshot")
		return err
	}

	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return err
	}

	sql := `INSERT INTO scoring_snapshot ("run_id", "event_date", "snapshot") VALUES ($1, $2, $3)
		ON CONFLICT ON CONSTRAINT scoring_snapshot_pkey DO UPDATE SET snapshot=EXCLUDED.snapshot`
	if _, err := trx.Exec(ctx, sql, p.RunID, records[0].Date, compressed); err != nil {
		log.Error().Stack().Err(err).Time("Date", records[0].Date).Msg("could not save scoring snapshot")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	return trx.Commit(ctx)
}
