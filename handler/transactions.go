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
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/sigmavault/sv-engine/data"
)

// GetTransactions returns the full transaction log for a run in date order.
func GetTransactions(c *fiber.Ctx) error {
	runID := c.Query("runId")
	if runID == "" {
		return fiber.ErrBadRequest
	}
	subLog := log.With().Str("RunID", runID).Str("Endpoint", "GetTransactions").Logger()

	transactions, err := data.LoadTransactionLog(c.Context(), runID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not load transaction log")
		return fiber.ErrInternalServerError
	}

	return c.JSON(transactions)
}
