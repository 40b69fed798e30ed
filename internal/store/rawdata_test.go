package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbelanger/exitbook/internal/model"
)

func TestRawDataStore_UpsertBatch_OnConflictDoNothing(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewRawDataStore(db)

	mock.ExpectExec(`INSERT INTO raw_data .* ON CONFLICT \(account_id, provider_name, event_id\) DO NOTHING`).
		WithArgs("acct1", "evmrpc", string(model.SourceBlockchain), "0xabc:0", "0xabc", []byte(`{}`), nil, "normal", string(model.ProcessPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.UpsertBatch(context.Background(), []model.RawRecord{{
		AccountID:    "acct1",
		ProviderName: "evmrpc",
		SourceType:   model.SourceBlockchain,
		EventID:      "0xabc:0",
		ExternalID:   "0xabc",
		ProviderData: []byte(`{}`),
		StreamType:   "normal",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRawDataStore_UpsertBatch_Empty(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewRawDataStore(db)

	n, err := s.UpsertBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NoError(t, mock.ExpectationsWereMet(), "no query should be issued for an empty batch")
}

// TestRawDataStore_PendingForAccount_OrderedOldestFirst pins down the
// ordering PendingForAccount documents (insertion/fetch order, not
// correlation order): rows come back id ASC regardless of stream_type.
func TestRawDataStore_PendingForAccount_OrderedOldestFirst(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewRawDataStore(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "account_id", "provider_name", "source_type", "event_id", "external_id", "provider_data", "normalized_data", "stream_type", "created_at", "processed"}).
		AddRow(int64(1), "acct1", "evmrpc", string(model.SourceBlockchain), "e1", "tx1", []byte(`{}`), []byte(`{}`), "normal", now, string(model.ProcessPending)).
		AddRow(int64(2), "acct1", "evmrpc", string(model.SourceBlockchain), "e2", "tx2", []byte(`{}`), []byte(`{}`), "normal", now, string(model.ProcessPending)).
		AddRow(int64(3), "acct1", "evmrpc", string(model.SourceBlockchain), "e3", "tx1", []byte(`{}`), []byte(`{}`), "token", now, string(model.ProcessPending))

	mock.ExpectQuery(`SELECT .* FROM raw_data WHERE .* ORDER BY id ASC`).
		WithArgs("acct1", string(model.ProcessPending)).
		WillReturnRows(rows)

	out, err := s.PendingForAccount(context.Background(), "acct1")
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{out[0].ID, out[1].ID, out[2].ID})
	assert.Equal(t, "normal", out[0].StreamType)
	assert.Equal(t, "token", out[2].StreamType, "the token-stream row for tx1 still sorts after both normal-stream rows, confirming this is fetch order rather than a correlation-aware order")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRawDataStore_MarkProcessedBatch_ChunksAt500(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewRawDataStore(db)

	ids := make([]int64, 501)
	for i := range ids {
		ids[i] = int64(i + 1)
	}

	mock.ExpectExec(`UPDATE raw_data SET processed`).WillReturnResult(sqlmock.NewResult(0, 500))
	mock.ExpectExec(`UPDATE raw_data SET processed`).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkProcessedBatch(context.Background(), ids))
	require.NoError(t, mock.ExpectationsWereMet(), "501 ids must split into a 500-row chunk and a 1-row chunk")
}

func TestRawDataStore_ResetProcessedForAccount(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewRawDataStore(db)

	mock.ExpectExec(`UPDATE raw_data SET processed`).
		WithArgs(string(model.ProcessPending), "acct1", string(model.ProcessProcessed)).
		WillReturnResult(sqlmock.NewResult(0, 4))

	require.NoError(t, s.ResetProcessedForAccount(context.Background(), "acct1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
