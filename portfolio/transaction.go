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

package portfolio

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/zeebo/blake3"
)

const (
	SourceName = "SV"
)

// Transaction kinds. Unknown is the initial state of a trading decision;
// Unchanged marks a no-op outcome and never materializes as a transaction.
const (
	UnknownTransaction   = "UNKNOWN"
	OpenTransaction      = "OPEN"
	CloseTransaction     = "CLOSE"
	ChangedTransaction   = "CHANGED"
	UnchangedTransaction = "UNCHANGED"
)

// Transaction records one executed position change. Immutable once created
// except for the Cancelled flag, which excludes the record from aggregation
// without deleting it from the audit trail.
type Transaction struct {
	ID              []byte          `json:"id"`
	Date            time.Time       `json:"date"`
	SecurityID      int             `json:"securityId"`
	Shares          int64           `json:"shares"`
	TargetWeight    decimal.Decimal `json:"targetWeight"`
	EffectiveWeight decimal.Decimal `json:"effectiveWeight"`
	TargetAmount    decimal.Decimal `json:"targetAmount"`
	EffectiveAmount decimal.Decimal `json:"effectiveAmount"`
	Kind            string          `json:"kind"`
	Cancelled       bool            `json:"cancelled"`
	Source          string          `json:"source"`
	SourceID        []byte          `json:"sourceId"`
}

// NewTransaction builds a transaction for the given decision and assigns it
// an ID and a content-derived SourceID.
func NewTransaction(date time.Time, securityID int, kind string, shares int64, targetWeight, effectiveWeight, targetAmount, effectiveAmount decimal.Decimal) *Transaction {
	trxID, err := uuid.New().MarshalBinary()
	if err != nil {
		log.Warn().Stack().Err(err).Msg("could not marshal uuid to binary")
	}

	t := &Transaction{
		ID:              trxID,
		Date:            date,
		SecurityID:      securityID,
		Shares:          shares,
		TargetWeight:    targetWeight,
		EffectiveWeight: effectiveWeight,
		TargetAmount:    targetAmount,
		EffectiveAmount: effectiveAmount,
		Kind:            kind,
		Source:          SourceName,
	}

	if err := computeTransactionSourceID(t); err != nil {
		log.Warn().Stack().Err(err).Time("TransactionDate", date).Int("SecurityID", securityID).Str("TransactionType", kind).Msg("couldn't compute SourceID for transaction")
	}

	return t
}

// IsSell reports whether the transaction reduced the position.
func (trx *Transaction) IsSell() bool {
	return trx.Kind == CloseTransaction || (trx.Kind == ChangedTransaction && trx.Shares < 0)
}

// computeTransactionSourceID computes a content hash that identifies the
// transaction across save/load cycles.
func computeTransactionSourceID(t *Transaction) error {
	h := blake3.New()

	d, err := t.Date.UTC().MarshalText()
	if err != nil {
		return err
	}

	if _, err := h.Write(d); err != nil {
		log.Error().Stack().Err(err).Msg("could not write date to blake3 hasher")
		return err
	}

	if _, err := h.Write([]byte(t.Source)); err != nil {
		log.Error().Stack().Err(err).Msg("could not write source to blake3 hasher")
		return err
	}

	if _, err := h.Write([]byte(strconv.Itoa(t.SecurityID))); err != nil {
		log.Error().Stack().Err(err).Msg("could not write security id to blake3 hasher")
		return err
	}

	if _, err := h.Write([]byte(t.Kind)); err != nil {
		log.Error().Stack().Err(err).Msg("could not write kind to blake3 hasher")
		return err
	}

	if _, err := h.Write([]byte(strconv.FormatInt(t.Shares, 10))); err != nil {
		log.Error().Stack().Err(err).Msg("could not write shares to blake3 hasher")
		return err
	}

	if _, err := h.Write([]byte(t.EffectiveAmount.String())); err != nil {
		log.Error().Stack().Err(err).Msg("could not write effective amount to blake3 hasher")
		return err
	}

	digest := h.Digest()
	buf := make([]byte, 16)
	if _, err := digest.Read(buf); err != nil {
		return err
	}

	t.SourceID = buf
	return nil
}
