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

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sigmavault/sv-engine/backtest"
	"github.com/sigmavault/sv-engine/common"
	"github.com/sigmavault/sv-engine/data"
	"github.com/sigmavault/sv-engine/data/database"
	"github.com/sigmavault/sv-engine/observability/opentelemetry"
	"github.com/sigmavault/sv-engine/pricehist"
	"github.com/sigmavault/sv-engine/rebalance"
	"github.com/sigmavault/sv-engine/scoring"
	"github.com/sigmavault/sv-engine/stoploss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	backtestStartDate   string
	backtestEndDate     string
	backtestInitialCash float64
	backtestPersist     bool
)

func init() {
	backtestCmd.Flags().StringVar(&backtestStartDate, "start-date", "", "Simulation start date (YYYY-MM-DD)")
	backtestCmd.Flags().StringVar(&backtestEndDate, "end-date", "", "Simulation end date (YYYY-MM-DD), defaults to today")
	backtestCmd.Flags().Float64Var(&backtestInitialCash, "initial-cash", 10_000, "Starting cash balance")
	backtestCmd.Flags().BoolVar(&backtestPersist, "persist", false, "Save transactions and scoring snapshots to the database")

	if err := backtestCmd.MarkFlagRequired("start-date"); err != nil {
		log.Error().Err(err).Msg("could not mark start-date required")
	}

	rootCmd.AddCommand(backtestCmd)
}

var backtestCmd = &cobra.Command{
	Use:   "backtest [flags]",
	Short: "Run a backtest of the rebalancing process",
	Long:  `Replays the day-by-day rebalancing process over historical prices and prints the resulting transactions and summary metrics.`,
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()

		if viper.GetString("otel.endpoint") != "" {
			shutdown, err := opentelemetry.Setup()
			if err != nil {
				log.Error().Err(err).Msg("could not initialize tracing")
			} else {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Error().Err(err).Msg("could not shutdown tracing")
					}
				}()
			}
		}

		tz := common.GetTimezone()
		start, err := time.ParseInLocation("2006-01-02", backtestStartDate, tz)
		if err != nil {
			log.Fatal().Err(err).Str("StartDate", backtestStartDate).Msg("could not parse start date")
		}

		var end time.Time
		if backtestEndDate != "" {
			end, err = time.ParseInLocation("2006-01-02", backtestEndDate, tz)
			if err != nil {
				log.Fatal().Err(err).Str("EndDate", backtestEndDate).Msg("could not parse end date")
			}
		}

		cfg, err := buildDriverConfig(ctx, decimal.NewFromFloat(backtestInitialCash), backtestPersist)
		if err != nil {
			log.Fatal().Stack().Err(err).Msg("could not assemble backtest")
		}

		driver, err := backtest.New(cfg)
		if err != nil {
			log.Fatal().Stack().Err(err).Msg("could not create driver")
		}

		result, err := driver.Run(ctx, start, end)
		if err != nil {
			log.Fatal().Stack().Err(err).Msg("backtest run failed")
		}

		printResult(result)
	},
}

// buildDriverConfig loads the price store and wires the boundary providers.
// Persistence providers are attached only when persist is set and a database
// is configured.
func buildDriverConfig(ctx context.Context, initialCash decimal.Decimal, persist bool) (*backtest.Config, error) {
	store, err := data.LoadPriceDirectory(ctx, viper.GetString("prices.dir"), pricehist.DefaultSettings())
	if err != nil {
		return nil, err
	}

	engine := scoring.NewEngine(store, scoring.DefaultWeights())
	cfg := &backtest.Config{
		Store:        store,
		Engine:       engine,
		Ranker:       scoring.NewRanker(store, engine, securityNames(store)),
		InitialCash:  initialCash,
		Settings:     rebalance.SettingsFromConfig(),
		StopSettings: stoploss.SettingsFromConfig(),
	}

	if path := viper.GetString("backtest.benchmark"); path != "" {
		cfg.Exposure = data.NewCSVExposureProvider(path, pricehist.DefaultSettings())
	}

	if persist {
		if viper.GetString("database.url") == "" {
			log.Warn().Msg("persist requested but no database configured; results will not be saved")
		} else if err := database.Connect(ctx); err != nil {
			return nil, err
		} else {
			runID := uuid.New().String()
			log.Info().Str("RunID", runID).Msg("persisting run")
			cfg.Save = data.NewPgSaveProvider(runID)
			cfg.TransactionsCache = data.NewRedisTransactionCache(runID, nil)
		}
	}

	return cfg, nil
}

// securityNames maps security ids to display names taken from the price
// history.
func securityNames(store *pricehist.Store) map[int]string {
	names := make(map[int]string, store.Len())
	for _, id := range store.SecurityIDs() {
		if first := store.Series(id).First(); first != nil {
			names[id] = first.Name
		}
	}
	return names
}

func printResult(result *backtest.Result) {
	for _, trx := range result.Transactions {
		fmt.Printf("%s  %-9s  security=%-6d  shares=%6d  amount=%s\n",
			trx.Date.Format("2006-01-02"), trx.Kind, trx.SecurityID,
			trx.Shares, trx.EffectiveAmount.StringFixed(2))
	}

	for _, warning := range result.Warnings {
		fmt.Printf("WARNING %s shortfall=%s\n",
			warning.Date.Format("2006-01-02"), warning.Shortfall.StringFixed(2))
	}

	if result.Summary != nil {
		fmt.Println()
		fmt.Printf("Transactions:  %d\n", len(result.Transactions))
		fmt.Printf("Total Return:  %.2f%%\n", result.Summary.TotalReturn*100)
		fmt.Printf("CAGR:          %.2f%%\n", result.Summary.Cagr*100)
		fmt.Printf("Std Dev:       %.4f\n", result.Summary.StdDev)
		fmt.Printf("Max Drawdown:  %.2f%%\n", result.Summary.MaxDrawDown*100)
		fmt.Printf("Sharpe Ratio:  %.2f\n", result.Summary.SharpeRatio)
	}
}
