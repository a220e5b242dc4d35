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

package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sigmavault/sv-engine/common"
)

// Launch starts a backtest run. It is installed by the serve command, which
// owns the loaded price store and provider wiring.
var Launch func(ctx context.Context, runID string, start, end time.Time, initialCash decimal.Decimal) error

var ErrLaunchNotConfigured = errors.New("backtest launcher not configured")

type BacktestRequest struct {
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	InitialCash string `json:"initialCash"`
}

type BacktestResponse struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

// RunBacktest accepts a backtest request, assigns a run id and executes the
// simulation in the background. The caller polls the transactions and scores
// endpoints with the returned run id.
func RunBacktest(c *fiber.Ctx) error {
	if Launch == nil {
		log.Error().Stack().Err(ErrLaunchNotConfigured).Msg("backtest requested but no launcher installed")
		return fiber.ErrServiceUnavailable
	}

	var req BacktestRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}

	tz := common.GetTimezone()
	start, err := time.ParseInLocation("2006-01-02", req.StartDate, tz)
	if err != nil {
		return fiber.ErrNotAcceptable
	}

	end := time.Now().In(tz)
	if req.EndDate != "" {
		end, err = time.ParseInLocation("2006-01-02", req.EndDate, tz)
		if err != nil {
			return fiber.ErrNotAcceptable
		}
	}

	initialCash := decimal.NewFromInt(10_000)
	if req.InitialCash != "" {
		initialCash, err = decimal.NewFromString(req.InitialCash)
		if err != nil || initialCash.IsNegative() {
			return fiber.ErrNotAcceptable
		}
	}

	runID := uuid.New().String()
	subLog := log.With().Str("RunID", runID).Time("StartDate", start).Time("EndDate", end).Logger()
	subLog.Info().Msg("launching backtest")

	go func() {
		if err := Launch(context.Background(), runID, start, end, initialCash); err != nil {
			subLog.Error().Stack().Err(err).Msg("backtest run failed")
		}
	}()

	c.Status(fiber.StatusAccepted)
	return c.JSON(BacktestResponse{RunID: runID, Status: "running"})
}
