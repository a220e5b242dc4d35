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

package pricehist

// Store is a registry of per-security series. Iteration order is insertion
// order, which keeps downstream rankings reproducible.
type Store struct {
	series map[int]*Series
	order  []int
}

// NewStore creates an empty registry.
func NewStore() *Store {
	return &Store{
		series: make(map[int]*Series),
	}
}

// AddSeries publishes a series into the store, replacing any previous series
// for the same security. Series are treated as read-only once published.
func (st *Store) AddSeries(s *Series) {
	if _, ok := st.series[s.SecurityID]; !ok {
		st.order = append(st.order, s.SecurityID)
	}
	st.series[s.SecurityID] = s
}

// Series returns the series for a security or nil.
func (st *Store) Series(securityID int) *Series {
	return st.series[securityID]
}

// SecurityIDs returns all registered security ids in insertion order.
func (st *Store) SecurityIDs() []int {
	return st.order
}

// Len returns the number of registered series.
func (st *Store) Len() int {
	return len(st.order)
}
