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
	"os"
	"os/signal"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sigmavault/sv-engine/backtest"
	"github.com/sigmavault/sv-engine/common"
	"github.com/sigmavault/sv-engine/data"
	"github.com/sigmavault/sv-engine/data/database"
	"github.com/sigmavault/sv-engine/handler"
	"github.com/sigmavault/sv-engine/observability/opentelemetry"
	"github.com/sigmavault/sv-engine/pricehist"
	"github.com/sigmavault/sv-engine/rebalance"
	"github.com/sigmavault/sv-engine/router"
	"github.com/sigmavault/sv-engine/scoring"
	"github.com/sigmavault/sv-engine/stoploss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	if err := viper.BindEnv("server.port", "PORT"); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	serveCmd.Flags().IntP("port", "p", 3000, "Port to run application server on")
	if err := viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port")); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the svengine api server",
	Long:  `Run HTTP server that exposes backtest runs, transaction logs and scoring snapshots.`,
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

		if err := database.Connect(ctx); err != nil {
			log.Fatal().Stack().Err(err).Msg("could not connect to database")
		}

		// price histories load once at startup; each security file is
		// independent so the loader parallelizes across files
		store, err := data.LoadPriceDirectory(ctx, viper.GetString("prices.dir"), pricehist.DefaultSettings())
		if err != nil {
			log.Fatal().Stack().Err(err).Msg("could not load price histories")
		}

		handler.Launch = func(ctx context.Context, runID string, start, end time.Time, initialCash decimal.Decimal) error {
			engine := scoring.NewEngine(store, scoring.DefaultWeights())
			cfg := &backtest.Config{
				Store:             store,
				Engine:            engine,
				Ranker:            scoring.NewRanker(store, engine, securityNames(store)),
				InitialCash:       initialCash,
				Settings:          rebalance.SettingsFromConfig(),
				StopSettings:      stoploss.SettingsFromConfig(),
				Save:              data.NewPgSaveProvider(runID),
				TransactionsCache: data.NewRedisTransactionCache(runID, nil),
			}
			if path := viper.GetString("backtest.benchmark"); path != "" {
				cfg.Exposure = data.NewCSVExposureProvider(path, pricehist.DefaultSettings())
			}

			driver, err := backtest.New(cfg)
			if err != nil {
				return err
			}
			_, err = driver.Run(ctx, start, end)
			return err
		}

		app := fiber.New()

		// shutdown cleanly on interrupt
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt)
		go func() {
			sig := <-quit
			log.Info().Str("Signal", sig.String()).Msg("shutting down")
			if err := app.Shutdown(); err != nil {
				log.Fatal().Err(err).Msg("could not shutdown server")
			}
		}()

		app.Use(cors.New(cors.Config{
			AllowHeaders: "*",
			AllowMethods: "GET,POST,HEAD",
		}))

		router.SetupRoutes(app)

		// refresh cached transaction logs from the database overnight so a
		// restarted worker never serves stale aggregates
		scheduler := gocron.NewScheduler(common.GetTimezone())
		if _, err := scheduler.Every(1).Day().At("02:30").Do(func() {
			if err := data.RefreshCachedRuns(context.Background()); err != nil {
				log.Error().Stack().Err(err).Msg("could not refresh cached transaction logs")
			}
		}); err != nil {
			log.Error().Err(err).Msg("could not schedule cache refresh")
		}
		scheduler.StartAsync()

		if err := app.Listen(":" + viper.GetString("server.port")); err != nil {
			log.Fatal().Err(err).Msg("server stopped")
		}
	},
}
