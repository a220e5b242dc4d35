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

package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sigmavault/sv-engine/handler"
)

// SetupRoutes registers the api routes
func SetupRoutes(app *fiber.App) {
	api := app.Group("/v1", logger.New(), recover.New())
	api.Get("/", handler.Ping)

	api.Get("/transactions", handler.GetTransactions)
	api.Get("/scores/:date", handler.GetScores)
	api.Post("/backtest", handler.RunBacktest)
}
