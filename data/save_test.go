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
	"errors"
	"time"

	"github.com/jackc/pgconn"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"
	"github.com/shopspring/decimal"

	"github.com/sigmavault/sv-engine/data"
	"github.com/sigmavault/sv-engine/data/database"
	"github.com/sigmavault/sv-engine/portfolio"
)

var _ = Describe("PgSaveProvider", func() {
	var (
		dbPool pgxmock.PgxConnIface
		save   *data.PgSaveProvider
	)

	BeforeEach(func() {
		var err error
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)
		save = data.NewPgSaveProvider("test-run")
	})

	Describe("when saving transactions", func() {
		var transactions []*portfolio.Transaction

		BeforeEach(func() {
			transactions = []*portfolio.Transaction{
				portfolio.NewTransaction(time.Date(2021, 3, 3, 0, 0, 0, 0, time.UTC), 7,
					portfolio.OpenTransaction, 100,
					decimal.NewFromFloat(0.1), decimal.NewFromFloat(0.1),
					decimal.NewFromInt(10_000), decimal.NewFromInt(10_000)),
				portfolio.NewTransaction(time.Date(2021, 3, 3, 0, 0, 0, 0, time.UTC), 9,
					portfolio.CloseTransaction, -50,
					decimal.Zero, decimal.Zero,
					decimal.NewFromInt(-5_000), decimal.NewFromInt(-5_000)),
			}
		})

		It("should insert one row per transaction and commit", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectExec("INSERT INTO trading_transaction").WillReturnResult(pgconn.CommandTag("INSERT 0 1"))
			dbPool.ExpectExec("INSERT INTO trading_transaction").WillReturnResult(pgconn.CommandTag("INSERT 0 1"))
			dbPool.ExpectCommit()

			err := save.Save(context.Background(), transactions)
			Expect(err).To(BeNil())
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})

		It("should rollback when an insert fails", func() {
			execErr := errors.New("duplicate key")
			dbPool.ExpectBegin()
			dbPool.ExpectExec("INSERT INTO trading_transaction").WillReturnError(execErr)
			dbPool.ExpectRollback()

			err := save.Save(context.Background(), transactions)
			Expect(err).To(Equal(execErr))
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})

		It("should not touch the database for an empty list", func() {
			err := save.Save(context.Background(), []*portfolio.Transaction{})
			Expect(err).To(BeNil())
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})
	})

	Describe("when saving a scoring snapshot", func() {
		var records []*portfolio.ScoreRecord

		BeforeEach(func() {
			records = []*portfolio.ScoreRecord{
				{
					Date:           time.Date(2021, 3, 3, 0, 0, 0, 0, time.UTC),
					SecurityID:     7,
					Score:          decimal.NewFromFloat(4.25),
					RebalanceScore: decimal.NewFromFloat(4.25),
					Kind:           portfolio.UnchangedTransaction,
				},
			}
		})

		It("should store a single snapshot row and commit", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectExec("INSERT INTO scoring_snapshot").WillReturnResult(pgconn.CommandTag("INSERT 0 1"))
			dbPool.ExpectCommit()

			err := save.SaveScoring(context.Background(), records, nil)
			Expect(err).To(BeNil())
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})

		It("should not touch the database without records", func() {
			err := save.SaveScoring(context.Background(), nil, nil)
			Expect(err).To(BeNil())
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})
	})

	Describe("when reading the transaction log", func() {
		It("should scan rows in date order", func() {
			date := time.Date(2021, 3, 3, 0, 0, 0, 0, time.UTC)
			rows := pgxmock.NewRows([]string{
				"id", "event_date", "security_id", "kind", "shares",
				"target_weight", "effective_weight", "target_amount",
				"effective_amount", "cancelled", "source", "source_id",
			}).AddRow(
				[]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
				date, 7, portfolio.OpenTransaction, int64(100),
				decimal.NewFromFloat(0.1), decimal.NewFromFloat(0.1),
				decimal.NewFromInt(10_000), decimal.NewFromInt(10_000),
				false, portfolio.SourceName, []byte{9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9},
			)

			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT").WithArgs("test-run").WillReturnRows(rows)
			dbPool.ExpectCommit()

			transactions, err := data.LoadTransactionLog(context.Background(), "test-run")
			Expect(err).To(BeNil())
			Expect(transactions).To(HaveLen(1))
			Expect(transactions[0].SecurityID).To(Equal(7))
			Expect(transactions[0].Kind).To(Equal(portfolio.OpenTransaction))
			Expect(transactions[0].Shares).To(Equal(int64(100)))
			Expect(transactions[0].Date).To(Equal(date))
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})

		It("should propagate query errors", func() {
			queryErr := errors.New("relation does not exist")
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT").WithArgs("test-run").WillReturnError(queryErr)
			dbPool.ExpectRollback()

			_, err := data.LoadTransactionLog(context.Background(), "test-run")
			Expect(err).To(Equal(queryErr))
			Expect(dbPool.ExpectationsWereMet()).To(BeNil())
		})
	})
})
