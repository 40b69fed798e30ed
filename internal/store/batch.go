package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/xerrors"
)

// CommitStreamBatch persists one streaming batch atomically: the batch's raw
// rows and the session's advanced cursor for streamType commit in a single
// DB transaction, or neither does. This is the mechanism spec.md 4.6 asks
// for ("commit is atomic across {raw rows of the batch, updated session
// cursor}") — without it a crash between the two writes would leave a
// cursor pointing past rows that were never durably saved, losing them on
// resume.
func CommitStreamBatch(ctx context.Context, db *sqlx.DB, sessionID, streamType string, rows []model.RawRecord, cur model.Cursor) (int, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, xerrors.New(xerrors.Fatal, xerrors.CodeRepositoryWrite, "begin stream batch commit", err)
	}
	defer tx.Rollback()

	n, err := upsertRawDataRows(ctx, tx, rows)
	if err != nil {
		return 0, err
	}

	sessions := SessionStore{db: db}
	if err := sessions.CommitBatch(ctx, tx, sessionID, streamType, cur); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, xerrors.New(xerrors.Fatal, xerrors.CodeRepositoryWrite, "commit stream batch", err)
	}
	return n, nil
}
