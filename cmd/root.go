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
	"fmt"
	"os"

	"github.com/sigmavault/sv-engine/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	// Database
	if err := viper.BindEnv("database.url", "DATABASE_URL"); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	if err := viper.BindPFlag("database.url", rootCmd.PersistentFlags().Lookup("database-url")); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	// Redis
	if err := viper.BindEnv("redis.addr", "REDIS_ADDR"); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	rootCmd.PersistentFlags().String("redis-addr", "localhost:6379", "Redis server address")
	if err := viper.BindPFlag("redis.addr", rootCmd.PersistentFlags().Lookup("redis-addr")); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	// Price data
	if err := viper.BindEnv("prices.dir", "SV_PRICES_DIR"); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	rootCmd.PersistentFlags().String("prices-dir", "./prices", "Directory of per-security price csv files")
	if err := viper.BindPFlag("prices.dir", rootCmd.PersistentFlags().Lookup("prices-dir")); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	if err := viper.BindEnv("backtest.benchmark", "SV_BENCHMARK"); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	rootCmd.PersistentFlags().String("benchmark", "", "Benchmark index price csv file")
	if err := viper.BindPFlag("backtest.benchmark", rootCmd.PersistentFlags().Lookup("benchmark")); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	// Logging configuration
	if err := viper.BindEnv("log.level", "SV_LOG_LEVEL"); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	rootCmd.PersistentFlags().String("log-level", "warning", "Logging level")
	if err := viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	if err := viper.BindEnv("log.report_caller", "SV_LOG_REPORT_CALLER"); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	rootCmd.PersistentFlags().Bool("log-report-caller", false, "Log function name that called log statement")
	if err := viper.BindPFlag("log.report_caller", rootCmd.PersistentFlags().Lookup("log-report-caller")); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	if err := viper.BindEnv("log.output", "SV_LOG_OUTPUT"); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	rootCmd.PersistentFlags().String("log-output", "stdout", "Write logs to specified output one of: file path, `stdout`, or `stderr`")
	if err := viper.BindPFlag("log.output", rootCmd.PersistentFlags().Lookup("log-output")); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	if err := viper.BindEnv("log.pretty", "SV_LOG_PRETTY"); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	rootCmd.PersistentFlags().Bool("log-pretty", false, "Print logs in human readable format")
	if err := viper.BindPFlag("log.pretty", rootCmd.PersistentFlags().Lookup("log-pretty")); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	// OpenTelemetry
	if err := viper.BindEnv("otel.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT"); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	rootCmd.PersistentFlags().String("otel-endpoint", "", "OTLP collector endpoint, if blank tracing is disabled")
	if err := viper.BindPFlag("otel.endpoint", rootCmd.PersistentFlags().Lookup("otel-endpoint")); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

var rootCmd = &cobra.Command{
	Use:     "svengine",
	Version: common.CurrentVersion.String(),
	Short:   "Sigma Vault rebalancing and backtest engine",
	Long:    `Simulates a day-by-day score-driven portfolio rebalancing process over historical security prices.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		common.SetupLogging()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
