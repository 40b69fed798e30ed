package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbelanger/exitbook/internal/model"
)

func TestSessionStore_Start_UniqueViolationBecomesSessionNotComplete(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewSessionStore(db)

	mock.ExpectExec(`INSERT INTO import_sessions`).
		WithArgs("sess1", "acct1", string(model.SessionStarted), "{}").
		WillReturnError(assert.AnError)

	err := s.Start(context.Background(), "sess1", "acct1")
	require.Error(t, err, "a unique-violation on the partial index must surface as an error, not silently succeed")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStore_Start_Success(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewSessionStore(db)

	mock.ExpectExec(`INSERT INTO import_sessions`).
		WithArgs("sess1", "acct1", string(model.SessionStarted), "{}").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.Start(context.Background(), "sess1", "acct1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestSessionStore_HasIncompleteSession_GatesReprocessing exercises the gate
// spec.md 4.7 requires before a reprocess or a fresh import run: an account
// with a non-completed session must report true.
func TestSessionStore_HasIncompleteSession_GatesReprocessing(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewSessionStore(db)

	rows := sqlmock.NewRows([]string{"count"}).AddRow(1)
	mock.ExpectQuery(`SELECT count\(\*\) FROM import_sessions`).
		WithArgs("acct1", string(model.SessionCompleted)).
		WillReturnRows(rows)

	has, err := s.HasIncompleteSession(context.Background(), "acct1")
	require.NoError(t, err)
	assert.True(t, has)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStore_CursorFor_ReturnsCursorForStreamType(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewSessionStore(db)

	payload := []byte(`{"normal":{"primary":{"type":"blockNumber","value":"100"},"totalFetched":5,"meta":{"providerName":"evmrpc"}}}`)
	rows := sqlmock.NewRows([]string{"cursors"}).AddRow(payload)
	mock.ExpectQuery(`SELECT cursors FROM import_sessions`).
		WithArgs("acct1").
		WillReturnRows(rows)

	cur, err := s.CursorFor(context.Background(), "acct1", "normal")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, model.CursorBlockNum, cur.Primary.Type)
	assert.Equal(t, "100", cur.Primary.Value)
	assert.EqualValues(t, 5, cur.TotalFetched)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStore_CursorFor_UnknownStreamTypeReturnsNil(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewSessionStore(db)

	payload := []byte(`{"normal":{"primary":{"type":"blockNumber","value":"100"}}}`)
	rows := sqlmock.NewRows([]string{"cursors"}).AddRow(payload)
	mock.ExpectQuery(`SELECT cursors FROM import_sessions`).
		WithArgs("acct1").
		WillReturnRows(rows)

	cur, err := s.CursorFor(context.Background(), "acct1", "token")
	require.NoError(t, err)
	assert.Nil(t, cur)
	require.NoError(t, mock.ExpectationsWereMet())
}
