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

package data_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sigmavault/sv-engine/common"
	"github.com/sigmavault/sv-engine/data"
	"github.com/sigmavault/sv-engine/pricehist"
)

var _ = Describe("Csv", func() {
	var (
		dir      string
		settings *pricehist.Settings
	)

	writeFile := func(name, contents string) string {
		path := filepath.Join(dir, name)
		Expect(os.WriteFile(path, []byte(contents), 0o644)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		settings = pricehist.DefaultSettings()
	})

	Describe("when loading a single price file", func() {
		It("should parse date, close and adjusted close", func() {
			path := writeFile("17-ACME.csv", "date,close,adjusted_close\n2021-03-01,100,99.5\n2021-03-02,101,100.5\n")

			series, err := data.LoadPriceFile(context.Background(), path, settings)
			Expect(err).To(BeNil())
			Expect(series.SecurityID).To(Equal(17))
			Expect(series.Len()).To(Equal(2))

			point := series.First()
			Expect(point.Name).To(Equal("ACME"))
			Expect(point.Price.StringFixed(2)).To(Equal("100.00"))
			Expect(point.AdjustedPrice.StringFixed(2)).To(Equal("99.50"))
			Expect(point.Date).To(Equal(time.Date(2021, 3, 1, 0, 0, 0, 0, common.GetTimezone())))
		})

		It("should fall back to the close when adjusted close is absent", func() {
			path := writeFile("3.csv", "date,close\n2021-03-01,42\n")

			series, err := data.LoadPriceFile(context.Background(), path, settings)
			Expect(err).To(BeNil())
			Expect(series.First().AdjustedPrice.StringFixed(2)).To(Equal("42.00"))
			Expect(series.First().Name).To(Equal("3"))
		})

		It("should skip rows that do not parse", func() {
			path := writeFile("5-SKIP.csv", "date,close\n2021-03-01,100\nnot-a-date,101\n2021-03-03,oops\n2021-03-04,104\n")

			series, err := data.LoadPriceFile(context.Background(), path, settings)
			Expect(err).To(BeNil())
			Expect(series.Len()).To(Equal(2))
		})

		It("should reject a file without the required columns", func() {
			path := writeFile("9-BAD.csv", "timestamp,price\n2021-03-01,100\n")

			_, err := data.LoadPriceFile(context.Background(), path, settings)
			Expect(err).To(Equal(data.ErrBadHeader))
		})

		It("should reject a file with a header but no rows", func() {
			path := writeFile("11-EMPTY.csv", "date,close\n")

			_, err := data.LoadPriceFile(context.Background(), path, settings)
			Expect(err).To(Equal(data.ErrEmptyPriceFile))
		})

		It("should reject a filename without a numeric security id", func() {
			path := writeFile("acme.csv", "date,close\n2021-03-01,100\n")

			_, err := data.LoadPriceFile(context.Background(), path, settings)
			Expect(err).ToNot(BeNil())
		})
	})

	Describe("when loading a directory", func() {
		It("should build a store with one series per file", func() {
			writeFile("2-BETA.csv", "date,close\n2021-03-01,50\n2021-03-02,51\n")
			writeFile("1-ALPHA.csv", "date,close\n2021-03-01,100\n2021-03-02,101\n")

			store, err := data.LoadPriceDirectory(context.Background(), dir, settings)
			Expect(err).To(BeNil())
			Expect(store.Len()).To(Equal(2))
			Expect(store.Series(1)).ToNot(BeNil())
			Expect(store.Series(2)).ToNot(BeNil())
			Expect(store.Series(1).First().Name).To(Equal("ALPHA"))
		})

		It("should fail the whole load when one file is broken", func() {
			writeFile("1-ALPHA.csv", "date,close\n2021-03-01,100\n")
			writeFile("2-BROKEN.csv", "timestamp,price\n2021-03-01,50\n")

			_, err := data.LoadPriceDirectory(context.Background(), dir, settings)
			Expect(err).To(Equal(data.ErrBadHeader))
		})

		It("should return an empty store for an empty directory", func() {
			store, err := data.LoadPriceDirectory(context.Background(), dir, settings)
			Expect(err).To(BeNil())
			Expect(store.Len()).To(Equal(0))
		})
	})
})

var _ = Describe("ExposureProvider", func() {
	Describe("when the benchmark comes from a csv file", func() {
		It("should load the series once and serve it", func() {
			dir := GinkgoT().TempDir()
			path := filepath.Join(dir, "100-BENCH.csv")
			Expect(os.WriteFile(path, []byte("date,close\n2021-03-01,4000\n2021-03-02,4010\n"), 0o644)).To(Succeed())

			provider := data.NewCSVExposureProvider(path, pricehist.DefaultSettings())
			series, err := provider.Benchmark(context.Background())
			Expect(err).To(BeNil())
			Expect(series.SecurityID).To(Equal(100))
			Expect(series.Len()).To(Equal(2))

			again, err := provider.Benchmark(context.Background())
			Expect(err).To(BeNil())
			Expect(again).To(BeIdenticalTo(series))
		})
	})

	Describe("when no benchmark is configured", func() {
		It("static provider should report the missing series", func() {
			provider := &data.StaticExposureProvider{}
			_, err := provider.Benchmark(context.Background())
			Expect(err).To(Equal(data.ErrNoBenchmark))
		})

		It("static provider should serve a prebuilt series", func() {
			series := pricehist.NewSeries(1, pricehist.DefaultSettings())
			provider := &data.StaticExposureProvider{Series: series}
			got, err := provider.Benchmark(context.Background())
			Expect(err).To(BeNil())
			Expect(got).To(BeIdenticalTo(series))
		})
	})
})
