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

package pricehist_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/sigmavault/sv-engine/pricehist"
)

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func addPrice(s *pricehist.Series, date time.Time, price float64) {
	p := decimal.NewFromFloat(price)
	s.Add(&pricehist.Point{
		Date:          date,
		Price:         p,
		AdjustedPrice: p,
		SecurityID:    s.SecurityID,
	})
}

var _ = Describe("Series", func() {
	var series *pricehist.Series

	BeforeEach(func() {
		series = pricehist.NewSeries(1, nil)
	})

	Context("when adding points", func() {
		It("drops malformed points", func() {
			series.Add(&pricehist.Point{Date: day(2020, time.January, 1)})
			series.Add(&pricehist.Point{Price: decimal.NewFromInt(10), AdjustedPrice: decimal.NewFromInt(10)})
			Expect(series.Len()).To(Equal(0))
		})

		It("tracks the all-time high and low", func() {
			addPrice(series, day(2020, time.January, 1), 100)
			addPrice(series, day(2020, time.January, 2), 120)
			addPrice(series, day(2020, time.January, 3), 90)
			Expect(series.High().AdjustedPrice.InexactFloat64()).To(Equal(120.0))
			Expect(series.Low().AdjustedPrice.InexactFloat64()).To(Equal(90.0))
		})
	})

	Context("when resolving points by date", func() {
		BeforeEach(func() {
			addPrice(series, day(2020, time.January, 6), 100)
			addPrice(series, day(2020, time.January, 7), 110)
			addPrice(series, day(2020, time.January, 9), 90)
		})

		It("finds the exact point with PreviousItem", func() {
			point := series.Get(day(2020, time.January, 7), pricehist.PreviousItem)
			Expect(point).NotTo(BeNil())
			Expect(point.AdjustedPrice.InexactFloat64()).To(Equal(110.0))
		})

		It("steps back over calendar gaps with PreviousItem", func() {
			point := series.Get(day(2020, time.January, 8), pricehist.PreviousItem)
			Expect(point).NotTo(BeNil())
			Expect(point.Date).To(Equal(day(2020, time.January, 7)))
		})

		It("finds the next point with NextItem", func() {
			point := series.Get(day(2020, time.January, 8), pricehist.NextItem)
			Expect(point).NotTo(BeNil())
			Expect(point.Date).To(Equal(day(2020, time.January, 9)))
		})

		It("returns nil when NextItem runs past the series", func() {
			Expect(series.Get(day(2020, time.January, 10), pricehist.NextItem)).To(BeNil())
		})

		It("excludes the query date with PreviousDayPrice", func() {
			point := series.Get(day(2020, time.January, 7), pricehist.PreviousDayPrice)
			Expect(point).NotTo(BeNil())
			Expect(point.Date).To(Equal(day(2020, time.January, 6)))
		})

		It("returns nil with PreviousDayPrice at the first point", func() {
			Expect(series.Get(day(2020, time.January, 6), pricehist.PreviousDayPrice)).To(BeNil())
		})

		It("returns the inclusive date range", func() {
			points := series.Range(day(2020, time.January, 7), day(2020, time.January, 9))
			Expect(points).To(HaveLen(2))
			Expect(points[0].Date).To(Equal(day(2020, time.January, 7)))
			Expect(points[1].Date).To(Equal(day(2020, time.January, 9)))
		})
	})

	Context("when computing daily returns", func() {
		It("computes the return against the prior point", func() {
			addPrice(series, day(2020, time.January, 6), 110)
			addPrice(series, day(2020, time.January, 7), 90)

			r, ok := series.GetDailyReturn(day(2020, time.January, 7))
			Expect(ok).To(BeTrue())
			Expect(r.InexactFloat64()).To(BeNumerically("~", -0.1818, 1e-4))
		})

		It("reports no return before two points exist", func() {
			addPrice(series, day(2020, time.January, 6), 110)
			_, ok := series.GetDailyReturn(day(2020, time.January, 6))
			Expect(ok).To(BeFalse())
		})

		It("maintains the running mean return incrementally", func() {
			addPrice(series, day(2020, time.January, 1), 100)
			addPrice(series, day(2020, time.January, 2), 110)
			addPrice(series, day(2020, time.January, 3), 99)

			// returns are +0.10 and -0.10; mean = 0.0
			Expect(series.MeanReturn().InexactFloat64()).To(BeNumerically("~", 0.0, 1e-9))
		})
	})

	Context("with rolling windows", func() {
		var settings *pricehist.Settings

		BeforeEach(func() {
			settings = &pricehist.Settings{
				LowWindowDays:        10,
				VolatilityWindowDays: 10,
				GainLossWindowDays:   10,
			}
			series = pricehist.NewSeries(7, settings)
		})

		It("withholds snapshots until enough calendar days elapsed", func() {
			start := day(2020, time.March, 2)
			for i := 0; i < 5; i++ {
				addPrice(series, start.AddDate(0, 0, i), 100)
			}
			_, ok := series.TryGetLowMetaInfo(start.AddDate(0, 0, 4))
			Expect(ok).To(BeFalse())
			_, ok = series.TryGetVolatilityInfo(start.AddDate(0, 0, 4))
			Expect(ok).To(BeFalse())
		})

		It("marks a new low on the day it happens", func() {
			start := day(2020, time.March, 2)
			for i := 0; i < 14; i++ {
				addPrice(series, start.AddDate(0, 0, i), 100+float64(i))
			}
			addPrice(series, start.AddDate(0, 0, 14), 50)

			snap, ok := series.TryGetLowMetaInfo(start.AddDate(0, 0, 14))
			Expect(ok).To(BeTrue())
			Expect(snap.HasNewLow).To(BeTrue())
			Expect(snap.Low.AdjustedPrice.InexactFloat64()).To(Equal(50.0))
		})

		It("never serves a snapshot from the future", func() {
			start := day(2020, time.March, 2)
			for i := 0; i < 20; i++ {
				addPrice(series, start.AddDate(0, 0, i), 100-float64(i))
			}

			asof := start.AddDate(0, 0, 12)
			snap, ok := series.TryGetLowMetaInfo(asof)
			Expect(ok).To(BeTrue())
			Expect(snap.Date.After(asof)).To(BeFalse())
		})

		It("reports zero volatility for a flat series", func() {
			start := day(2020, time.March, 2)
			for i := 0; i < 15; i++ {
				addPrice(series, start.AddDate(0, 0, i), 100)
			}

			snap, ok := series.TryGetVolatilityInfo(start.AddDate(0, 0, 14))
			Expect(ok).To(BeTrue())
			Expect(snap.DailyVolatility.InexactFloat64()).To(BeNumerically("~", 0.0, 1e-9))
		})

		It("drops expired returns from the volatility window", func() {
			start := day(2020, time.March, 2)
			// one violent day early, then flat; after the window slides past
			// the shock the volatility collapses
			addPrice(series, start, 100)
			addPrice(series, start.AddDate(0, 0, 1), 200)
			for i := 2; i < 30; i++ {
				addPrice(series, start.AddDate(0, 0, i), 200)
			}

			early, ok := series.TryGetVolatilityInfo(start.AddDate(0, 0, 10))
			Expect(ok).To(BeTrue())
			late, ok := series.TryGetVolatilityInfo(start.AddDate(0, 0, 29))
			Expect(ok).To(BeTrue())
			Expect(late.DailyVolatility.LessThan(early.DailyVolatility)).To(BeTrue())
		})

		It("separates absolute gains from absolute losses", func() {
			start := day(2020, time.March, 2)
			addPrice(series, start, 100)
			addPrice(series, start.AddDate(0, 0, 1), 110) // +0.10
			for i := 2; i < 12; i++ {
				addPrice(series, start.AddDate(0, 0, i), 110)
			}
			addPrice(series, start.AddDate(0, 0, 12), 99) // -0.10

			snap, ok := series.TryGetAbsoluteLossesAndGains(start.AddDate(0, 0, 12))
			Expect(ok).To(BeTrue())
			Expect(snap.AbsoluteLosses.InexactFloat64()).To(BeNumerically("~", 0.10, 1e-9))
			Expect(snap.AbsoluteLosses.Sign()).To(Equal(1))
		})
	})
})

var _ = Describe("Store", func() {
	It("preserves registration order of security ids", func() {
		store := pricehist.NewStore()
		for _, id := range []int{42, 7, 19} {
			store.AddSeries(pricehist.NewSeries(id, nil))
		}
		Expect(store.SecurityIDs()).To(Equal([]int{42, 7, 19}))
		Expect(store.Len()).To(Equal(3))
		Expect(store.Series(7)).NotTo(BeNil())
		Expect(store.Series(99)).To(BeNil())
	})
})
