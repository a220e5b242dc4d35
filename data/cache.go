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
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/sigmavault/sv-engine/data/database"
	"github.com/sigmavault/sv-engine/portfolio"
	"github.com/spf13/viper"
)

const transactionCacheTTL = 15 * time.Minute

// RedisTransactionCache is a cache-aside TransactionsCacheProvider: reads
// hit redis first and fall back to the loader (by default the PostgreSQL
// transaction log).
type RedisTransactionCache struct {
	client *redis.Client
	key    string
	loader func(ctx context.Context) ([]*portfolio.Transaction, error)
}

// NewRedisTransactionCache creates a cache for the given run id. A nil
// loader selects the PostgreSQL transaction log.
func NewRedisTransactionCache(runID string, loader func(ctx context.Context) ([]*portfolio.Transaction, error)) *RedisTransactionCache {
	if loader == nil {
		loader = func(ctx context.Context) ([]*portfolio.Transaction, error) {
			return LoadTransactionLog(ctx, runID)
		}
	}
	return &RedisTransactionCache{
		client: redis.NewClient(&redis.Options{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		}),
		key:    "svengine:transactions:" + runID,
		loader: loader,
	}
}

// Transactions returns the full transaction log, serving from redis when
// possible.
func (c *RedisTransactionCache) Transactions(ctx context.Context) ([]*portfolio.Transaction, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if err == nil {
		var transactions []*portfolio.Transaction
		if err := json.Unmarshal(raw, &transactions); err == nil {
			return transactions, nil
		}
		log.Warn().Str("Key", c.key).Msg("corrupt transaction cache entry; reloading")
	} else if err != redis.Nil {
		log.Warn().Err(err).Str("Key", c.key).Msg("redis unavailable; loading from source")
	}

	transactions, err := c.loader(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, transactions)
	return transactions, nil
}

// Refresh invalidates the cached log and reloads it from the source.
func (c *RedisTransactionCache) Refresh(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil && err != redis.Nil {
		log.Warn().Err(err).Str("Key", c.key).Msg("could not invalidate transaction cache")
	}
	transactions, err := c.loader(ctx)
	if err != nil {
		return err
	}
	c.store(ctx, transactions)
	return nil
}

func (c *RedisTransactionCache) store(ctx context.Context, transactions []*portfolio.Transaction) {
	raw, err := json.Marshal(transactions)
	if err != nil {
		log.Warn().Err(err).Msg("could not marshal transactions for cache")
		return
	}
	if err := c.client.Set(ctx, c.key, raw, transactionCacheTTL).Err(); err != nil {
		log.Warn().Err(err).Str("Key", c.key).Msg("could not store transaction cache entry")
	}
}

// RefreshCachedRuns repopulates the redis cache entry of every run present
// in the transaction log.
func RefreshCachedRuns(ctx context.Context) error {
	trx, err := database.Trx(ctx)
	if err != nil {
		return err
	}

	rows, err := trx.Query(ctx, `SELECT DISTINCT run_id FROM trading_transaction`)
	if err != nil {
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	runIDs := make([]string, 0, 16)
	for rows.Next() {
		var runID string
		if err := rows.Scan(&runID); err != nil {
			if err := trx.Rollback(ctx); err != nil {
				log.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return err
		}
		runIDs = append(runIDs, runID)
	}
	if err := trx.Commit(ctx); err != nil {
		return err
	}

	for _, runID := range runIDs {
		cache := NewRedisTransactionCache(runID, nil)
		if err := cache.Refresh(ctx); err != nil {
			log.Error().Stack().Err(err).Str("RunID", runID).Msg("could not refresh run cache")
		}
	}
	log.Info().Int("NumRuns", len(runIDs)).Msg("refreshed cached transaction logs")
	return nil
}

// LoadTransactionLog reads the full transaction log for a run from
// PostgreSQL in date order.
func LoadTransactionLog(ctx context.Context, runID string) ([]*portfolio.Transaction, error) {
	trx, err := database.Trx(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	sql := `SELECT "id", "event_date", "security_id", "kind", "shares",
		"target_weight", "effective_weight", "target_amount", "effective_amount",
		"cancelled", "source", "source_id"
	FROM trading_transaction WHERE run_id=$1 ORDER BY event_date, security_id`

	rows, err := trx.Query(ctx, sql, runID)
	if err != nil {
		log.Error().Stack().Err(err).Str("RunID", runID).Msg("could not query transaction log")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	transactions := make([]*portfolio.Transaction, 0, 256)
	for rows.Next() {
		t := &portfolio.Transaction{}
		if err := rows.Scan(&t.ID, &t.Date, &t.SecurityID, &t.Kind, &t.Shares,
			&t.TargetWeight, &t.EffectiveWeight, &t.TargetAmount,
			&t.EffectiveAmount, &t.Cancelled, &t.Source, &t.SourceID); err != nil {
			log.Error().Stack().Err(err).Msg("could not scan transaction row")
			if err := trx.Rollback(ctx); err != nil {
				log.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return nil, err
		}
		transactions = append(transactions, t)
	}

	if err := trx.Commit(ctx); err != nil {
		return nil, err
	}
	return transactions, nil
}
