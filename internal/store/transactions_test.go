package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/money"
)

// TestEnrichPrices_ScansTimestamptzOccurredAt is the regression test for the
// occurred_at scan bug: the column is TIMESTAMPTZ, so the driver hands the
// row scanner a time.Time value. Scanning straight into an int64 panics
// Postgres's driver conversion; EnrichPrices must go through timeScanner and
// convert to unix seconds itself before calling the price lookup.
func TestEnrichPrices_ScansTimestamptzOccurredAt(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewTransactionRepository(db)

	occurredAt := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	movements, err := json.Marshal(model.Movements{
		Inflows: []model.AssetMovement{{Asset: money.Currency{Symbol: "BTC"}}},
	})
	require.NoError(t, err)
	fees, err := json.Marshal([]model.Fee{})
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "movements", "fees", "occurred_at"}).
		AddRow(int64(1), movements, fees, occurredAt)

	mock.ExpectQuery(`SELECT id, movements, fees, occurred_at FROM transactions`).WillReturnRows(rows)

	var gotUnixTime int64
	lookup := PriceLookup(func(asset string, unixTime int64) (money.Money, bool) {
		gotUnixTime = unixTime
		return money.Money{}, true
	})

	mock.ExpectExec(`UPDATE transactions SET movements`).WillReturnResult(sqlmock.NewResult(0, 1))

	updated, err := r.EnrichPrices(context.Background(), nil, lookup)
	require.NoError(t, err, "EnrichPrices must not fail scanning occurred_at against the TIMESTAMPTZ schema")
	assert.Equal(t, 1, updated)
	assert.Equal(t, occurredAt.Unix(), gotUnixTime, "lookup must receive occurred_at converted to unix seconds, not a raw driver value")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrichPrices_SkipsRowsWithNoMatchingAsset(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewTransactionRepository(db)

	movements, _ := json.Marshal(model.Movements{Inflows: []model.AssetMovement{{Asset: money.Currency{Symbol: "ETH"}}}})
	fees, _ := json.Marshal([]model.Fee{})

	rows := sqlmock.NewRows([]string{"id", "movements", "fees", "occurred_at"}).
		AddRow(int64(7), movements, fees, time.Now())
	mock.ExpectQuery(`SELECT id, movements, fees, occurred_at FROM transactions`).WillReturnRows(rows)

	called := false
	lookup := PriceLookup(func(asset string, unixTime int64) (money.Money, bool) {
		called = true
		return money.Money{}, true
	})

	updated, err := r.EnrichPrices(context.Background(), []string{"BTC"}, lookup)
	require.NoError(t, err)
	assert.Equal(t, 0, updated)
	assert.False(t, called, "lookup must not be called for an asset outside the requested filter")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepository_UpsertBatch_RejectsOversizedBatch(t *testing.T) {
	db, _ := newMockDB(t)
	r := NewTransactionRepository(db)

	txs := make([]model.UniversalTransaction, 501)
	err := r.UpsertBatch(context.Background(), txs)
	require.Error(t, err, "a batch over 500 rows must be rejected before any SQL runs")
}

func TestTransactionRepository_DeleteByAccount(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewTransactionRepository(db)

	mock.ExpectExec(`DELETE FROM transactions WHERE account_id`).
		WithArgs("acct1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, r.DeleteByAccount(context.Background(), "acct1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepository_ListByAccount_ScansOccurredAt(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewTransactionRepository(db)

	occurredAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	operation, _ := json.Marshal(model.Operation{})
	movements, _ := json.Marshal(model.Movements{})
	fees, _ := json.Marshal([]model.Fee{})

	rows := sqlmock.NewRows([]string{"source", "external_id", "account_id", "occurred_at", "status", "operation", "movements", "fees", "blockchain"}).
		AddRow("evmrpc", "tx1", "acct1", occurredAt, string(model.TxSuccess), operation, movements, fees, nil)
	mock.ExpectQuery(`SELECT source, external_id, account_id, occurred_at, status, operation, movements, fees, blockchain FROM transactions`).
		WithArgs("acct1").
		WillReturnRows(rows)

	out, err := r.ListByAccount(context.Background(), "acct1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, occurredAt.Unix(), out[0].Timestamp)
	assert.True(t, occurredAt.Equal(out[0].Datetime))
	require.NoError(t, mock.ExpectationsWereMet())
}
