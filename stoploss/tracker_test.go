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

package stoploss_test

import (
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/sigmavault/sv-engine/stoploss"
)

func day(d int) time.Time {
	return time.Date(2020, time.March, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

// annualized volatility that divides back to a 1% daily sigma
var onePercentDaily = decimal.NewFromFloat(0.01 * math.Sqrt(250))

var _ = Describe("Tracker", func() {
	var tracker *stoploss.Tracker

	BeforeEach(func() {
		tracker = stoploss.NewTracker(nil)
	})

	Context("when updating daily limits", func() {
		It("seeds the whole trail from the first tick", func() {
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(100), day(0))

			meta := tracker.Meta(1)
			Expect(meta).NotTo(BeNil())
			Expect(meta.Opening.Price.InexactFloat64()).To(Equal(100.0))
			Expect(meta.PreviousLow).To(Equal(meta.Opening))
			Expect(meta.LocalLow).To(Equal(meta.Opening))
			Expect(meta.High).To(Equal(meta.Opening))
		})

		It("tracks a falling local low", func() {
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(100), day(0))
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(90), day(1))
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(95), day(2))

			meta := tracker.Meta(1)
			Expect(meta.LocalLow.Price.InexactFloat64()).To(Equal(90.0))
			Expect(meta.High.Price.InexactFloat64()).To(Equal(100.0))
		})

		It("rolls the previous low exactly once per up-move", func() {
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(100), day(0))
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(90), day(1))
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(110), day(2))

			meta := tracker.Meta(1)
			Expect(meta.PreviousLow.Price.InexactFloat64()).To(Equal(90.0))
			Expect(meta.PreviousLow.Date).To(Equal(day(1)))

			// the follow-up high must not roll again
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(115), day(3))
			meta = tracker.Meta(1)
			Expect(meta.PreviousLow.Price.InexactFloat64()).To(Equal(90.0))
			Expect(meta.High.Price.InexactFloat64()).To(Equal(115.0))
		})

		It("drops the trail when the position closes", func() {
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(100), day(0))
			tracker.ClosePosition(1)
			Expect(tracker.Meta(1)).To(BeNil())
		})
	})

	Context("when evaluating the exit condition", func() {
		It("triggers on a four sigma drawdown from the high", func() {
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(100), day(0))
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(120), day(1))

			// threshold is 120 * (1 - 4*0.01) = 115.2
			fired := tracker.HasStopLoss(&stoploss.Evaluation{
				SecurityID:           1,
				CurrentPrice:         decimal.NewFromInt(115),
				AveragePrice:         decimal.NewFromInt(118),
				AnnualizedVolatility: onePercentDaily,
				Date:                 day(2),
			})
			Expect(fired).To(BeTrue())
		})

		It("stays quiet just above the threshold", func() {
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(100), day(0))
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(120), day(1))

			fired := tracker.HasStopLoss(&stoploss.Evaluation{
				SecurityID:           1,
				CurrentPrice:         decimal.NewFromFloat(115.5),
				AveragePrice:         decimal.NewFromInt(118),
				AnnualizedVolatility: onePercentDaily,
				Date:                 day(2),
			})
			Expect(fired).To(BeFalse())
		})

		It("never triggers at or above the running high", func() {
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(100), day(0))

			fired := tracker.HasStopLoss(&stoploss.Evaluation{
				SecurityID:           1,
				CurrentPrice:         decimal.NewFromInt(100),
				AveragePrice:         decimal.NewFromInt(120),
				AnnualizedVolatility: onePercentDaily,
				Date:                 day(1),
			})
			Expect(fired).To(BeFalse())
		})

		It("requires the price to sit below the average purchase price", func() {
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(100), day(0))
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(120), day(1))

			// deep drawdown but still profitable against a low entry
			fired := tracker.HasStopLoss(&stoploss.Evaluation{
				SecurityID:           1,
				CurrentPrice:         decimal.NewFromInt(115),
				AveragePrice:         decimal.NewFromInt(50),
				AnnualizedVolatility: onePercentDaily,
				Date:                 day(2),
			})
			Expect(fired).To(BeFalse())
		})

		It("triggers on a collapse through the previous low", func() {
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(100), day(0))
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(90), day(1))
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(120), day(2))

			// 85 * 1.04 = 88.4 < previous low 90, in profit so the
			// drawdown paths stay quiet
			fired := tracker.HasStopLoss(&stoploss.Evaluation{
				SecurityID:           1,
				CurrentPrice:         decimal.NewFromInt(85),
				AveragePrice:         decimal.NewFromInt(80),
				AnnualizedVolatility: onePercentDaily,
				Date:                 day(3),
			})
			Expect(fired).To(BeTrue())
		})

		It("ignores the previous-low path while it still equals the opening", func() {
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(100), day(0))

			fired := tracker.HasStopLoss(&stoploss.Evaluation{
				SecurityID:           1,
				CurrentPrice:         decimal.NewFromInt(80),
				AveragePrice:         decimal.NewFromInt(70),
				AnnualizedVolatility: onePercentDaily,
				Date:                 day(1),
			})
			Expect(fired).To(BeFalse())
		})

		It("suppresses stops within the holding period after a sell", func() {
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(100), day(0))
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(120), day(1))

			fired := tracker.HasStopLoss(&stoploss.Evaluation{
				SecurityID:           1,
				CurrentPrice:         decimal.NewFromInt(115),
				AveragePrice:         decimal.NewFromInt(118),
				AnnualizedVolatility: onePercentDaily,
				Date:                 day(10),
				LastSellDate:         day(2),
				HasLastSell:          true,
			})
			Expect(fired).To(BeFalse())
		})

		It("is unknown securities safe", func() {
			fired := tracker.HasStopLoss(&stoploss.Evaluation{
				SecurityID:   99,
				CurrentPrice: decimal.NewFromInt(1),
				Date:         day(0),
			})
			Expect(fired).To(BeFalse())
		})
	})

	Context("with the anti-chatter window", func() {
		It("throttles repeat stops for the same security", func() {
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(100), day(0))
			tracker.UpdateDailyLimits(1, decimal.NewFromInt(120), day(1))

			fired := tracker.HasStopLoss(&stoploss.Evaluation{
				SecurityID:           1,
				CurrentPrice:         decimal.NewFromInt(115),
				AveragePrice:         decimal.NewFromInt(118),
				AnnualizedVolatility: onePercentDaily,
				Date:                 day(2),
			})
			Expect(fired).To(BeTrue())

			Expect(tracker.IsBelowMinimumStopHoldingPeriod(1, day(20))).To(BeTrue())
			Expect(tracker.IsBelowMinimumStopHoldingPeriod(1, day(40))).To(BeFalse())
			Expect(tracker.IsBelowMinimumStopHoldingPeriod(2, day(3))).To(BeFalse())
		})
	})
})

var _ = Describe("SettingsFromConfig", func() {
	BeforeEach(func() {
		viper.Reset()
	})

	AfterEach(func() {
		viper.Reset()
	})

	It("returns the defaults when nothing is configured", func() {
		settings := stoploss.SettingsFromConfig()
		Expect(settings.SigmaMultiple.InexactFloat64()).To(Equal(4.0))
		Expect(settings.MinimumStopHoldingPeriodDays).To(Equal(30))
	})

	It("applies configured keys on top of the defaults", func() {
		viper.Set("stoploss.sigma_multiple", 3.0)
		viper.Set("stoploss.min_stop_holding_period_days", 45)

		settings := stoploss.SettingsFromConfig()
		Expect(settings.SigmaMultiple.InexactFloat64()).To(Equal(3.0))
		Expect(settings.MinimumStopHoldingPeriodDays).To(Equal(45))
	})
})
