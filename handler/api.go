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
	"github.com/sigmavault/sv-engine/common"
)

type PingResponse struct {
	Status  string `json:"status" example:"success"`
	Version string `json:"version" example:"0.3.0"`
	Time    string `json:"time" example:"2026-01-19T08:09:10.115924+01:00"`
}

func Ping(c *fiber.Ctx) error {
	now, _ := time.Now().MarshalText()
	return c.JSON(PingResponse{
		Status:  "success",
		Version: common.CurrentVersion.String(),
		Time:    string(now),
	})
}
