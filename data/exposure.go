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
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sigmavault/sv-engine/pricehist"
	"github.com/spf13/viper"
)

var ErrNoBenchmark = errors.New("no benchmark series configured")

// CSVExposureProvider serves the benchmark index series from a price csv
// file, parsed once and cached for the lifetime of the provider.
type CSVExposureProvider struct {
	path     string
	settings *pricehist.Settings

	once   sync.Once
	series *pricehist.Series
	err    error
}

// NewCSVExposureProvider creates a provider for the configured benchmark
// file. An empty path falls back to the backtest.benchmark setting.
func NewCSVExposureProvider(path string, settings *pricehist.Settings) *CSVExposureProvider {
	if path == "" {
		path = viper.GetString("backtest.benchmark")
	}
	return &CSVExposureProvider{path: path, settings: settings}
}

// Benchmark returns the benchmark price series.
func (p *CSVExposureProvider) Benchmark(ctx context.Context) (*pricehist.Series, error) {
	p.once.Do(func() {
		if p.path == "" {
			p.err = ErrNoBenchmark
			return
		}
		p.series, p.err = LoadPriceFile(ctx, p.path, p.settings)
		if p.err != nil {
			log.Error().Stack().Err(p.err).Str("FileName", p.path).Msg("could not load benchmark series")
		}
	})
	return p.series, p.err
}

// StaticExposureProvider wraps an already-built series, used by tests and
// by runs that construct the benchmark in memory.
type StaticExposureProvider struct {
	Series *pricehist.Series
}

func (p *StaticExposureProvider) Benchmark(_ context.Context) (*pricehist.Series, error) {
	if p.Series == nil {
		return nil, ErrNoBenchmark
	}
	return p.Series, nil
}
