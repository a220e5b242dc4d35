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
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/sigmavault/sv-engine/common"
	"github.com/sigmavault/sv-engine/data/database"
)

// GetScores returns the scoring snapshot saved for the given date. Snapshots
// are stored lz4 compressed; the handler decompresses and returns the raw
// JSON document.
func GetScores(c *fiber.Ctx) error {
	runID := c.Query("runId")
	if runID == "" {
		return fiber.ErrBadRequest
	}

	date, err := time.ParseInLocation("2006-01-02", c.Params("date"), common.GetTimezone())
	if err != nil {
		return fiber.ErrNotAcceptable
	}

	subLog := log.With().Str("RunID", runID).Time("EventDate", date).Str("Endpoint", "GetScores").Logger()

	trx, err := database.Trx(c.Context())
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not begin transaction")
		return fiber.ErrServiceUnavailable
	}

	var compressed []byte
	sql := `SELECT snapshot FROM scoring_snapshot WHERE run_id=$1 AND event_date=$2`
	if err := trx.QueryRow(c.Context(), sql, runID, date).Scan(&compressed); err != nil {
		subLog.Warn().Err(err).Msg("no scoring snapshot for date")
		if err := trx.Rollback(c.Context()); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return fiber.ErrNotFound
	}

	if err := trx.Commit(c.Context()); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not commit transaction")
	}

	raw, err := common.Decompress(compressed)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not decompress scoring snapshot")
		return fiber.ErrInternalServerError
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(raw)
}
