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

package data

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sigmavault/sv-engine/common"
	"github.com/sigmavault/sv-engine/observability/opentelemetry"
	"github.com/sigmavault/sv-engine/pricehist"
	"go.opentelemetry.io/otel"
)

var (
	ErrEmptyPriceFile = errors.New("price file contains no data rows")
	ErrBadHeader      = errors.New("price file header missing required columns")
)

// csv columns understood by the loader. Adjusted price falls back to the
// close when the column is absent.
var requiredColumns = []string{"date", "close"}

// LoadPriceDirectory loads every *.csv file under dir into a Store. Each
// file holds the full price history of one security; the file stem is the
// security id, optionally followed by a dash and a display name, e.g.
// "17-ACME.csv". Files are independent so they load concurrently.
func LoadPriceDirectory(ctx context.Context, dir string, settings *pricehist.Settings) (*pricehist.Store, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "data.LoadPriceDirectory")
	defer span.End()

	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	type loaded struct {
		idx    int
		series *pricehist.Series
		err    error
	}

	results := make([]loaded, len(paths))
	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			series, err := LoadPriceFile(ctx, path, settings)
			results[i] = loaded{idx: i, series: series, err: err}
		}(i, path)
	}
	wg.Wait()

	store := pricehist.NewStore()
	for _, res := range results {
		if res.err != nil {
			log.Error().Stack().Err(res.err).Str("FileName", paths[res.idx]).Msg("could not load price file")
			return nil, res.err
		}
		store.AddSeries(res.series)
	}

	log.Info().Int("NumSecurities", store.Len()).Str("Dir", dir).Msg("loaded price histories")
	return store, nil
}

// LoadPriceFile parses a single security price file into a Series.
func LoadPriceFile(_ context.Context, path string, settings *pricehist.Settings) (*pricehist.Series, error) {
	securityID, name, err := parseStem(path)
	if err != nil {
		return nil, err
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	reader := csv.NewReader(fh)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, ErrEmptyPriceFile
	}

	cols := make(map[string]int, len(header))
	for idx, col := range header {
		cols[strings.ToLower(strings.TrimSpace(col))] = idx
	}
	for _, col := range requiredColumns {
		if _, ok := cols[col]; !ok {
			return nil, ErrBadHeader
		}
	}
	adjIdx, hasAdj := cols["adjusted_close"]

	tz := common.GetTimezone()
	series := pricehist.NewSeries(securityID, settings)
	rowCount := 0

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		date, err := parseDate(row[cols["date"]], tz)
		if err != nil {
			log.Warn().Str("FileName", path).Str("Date", row[cols["date"]]).Msg("skipping row with unparseable date")
			continue
		}

		price, err := decimal.NewFromString(row[cols["close"]])
		if err != nil {
			log.Warn().Str("FileName", path).Time("Date", date).Msg("skipping row with unparseable close")
			continue
		}

		adjusted := price
		if hasAdj && adjIdx < len(row) && row[adjIdx] != "" {
			if a, err := decimal.NewFromString(row[adjIdx]); err == nil {
				adjusted = a
			}
		}

		series.Add(&pricehist.Point{
			Date:          date,
			Price:         price,
			AdjustedPrice: adjusted,
			SecurityID:    securityID,
			Name:          name,
		})
		rowCount++
	}

	if rowCount == 0 {
		return nil, ErrEmptyPriceFile
	}
	return series, nil
}

func parseDate(val string, tz *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(val), tz)
	if err != nil {
		d, err = time.ParseInLocation("2006-01-02 15:04:05", strings.TrimSpace(val), tz)
	}
	return d, err
}

// parseStem extracts security id and optional name from a filename like
// "17-ACME.csv" or "17.csv".
func parseStem(path string) (int, string, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	idPart := stem
	name := stem
	if dash := strings.Index(stem, "-"); dash >= 0 {
		idPart = stem[:dash]
		name = stem[dash+1:]
	}
	securityID, err := strconv.Atoi(idPart)
	if err != nil {
		return 0, "", err
	}
	return securityID, name, nil
}
