package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbelanger/exitbook/internal/model"
)

// TestCommitStreamBatch_AtomicAcrossRawRowsAndCursor pins down spec.md 4.6's
// atomicity requirement: a batch's raw rows and the session's advanced
// cursor commit in the same transaction.
func TestCommitStreamBatch_AtomicAcrossRawRowsAndCursor(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO raw_data`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`UPDATE import_sessions SET cursors`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rows := []model.RawRecord{
		{AccountID: "acct1", ProviderName: "evmrpc", EventID: "e1", StreamType: "normal"},
		{AccountID: "acct1", ProviderName: "evmrpc", EventID: "e2", StreamType: "normal"},
	}
	cur := model.Cursor{Primary: model.CursorPosition{Type: model.CursorBlockNum, Value: "100"}}

	n, err := CommitStreamBatch(context.Background(), db, "sess1", "normal", rows, cur)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestCommitStreamBatch_RollsBackOnCursorCommitFailure confirms that a
// failure writing the session cursor rolls back the raw-row insert too —
// a crash between the two writes must never happen because they're one
// transaction in the first place.
func TestCommitStreamBatch_RollsBackOnCursorCommitFailure(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO raw_data`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE import_sessions SET cursors`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	rows := []model.RawRecord{{AccountID: "acct1", ProviderName: "evmrpc", EventID: "e1", StreamType: "normal"}}
	cur := model.Cursor{Primary: model.CursorPosition{Type: model.CursorBlockNum, Value: "100"}}

	_, err := CommitStreamBatch(context.Background(), db, "sess1", "normal", rows, cur)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet(), "the failed cursor update must trigger tx.Rollback(), not leave raw rows committed without it")
}
