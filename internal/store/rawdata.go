// Package store is the persistence layer of spec.md section 4.6/4.8: raw
// data, import sessions, transactions, and provider health, all backed by
// PostgreSQL via jmoiron/sqlx + lib/pq, with upserts built through
// Masterminds/squirrel. It generalizes the teacher's TransactionStateStore
// interface (src/chainadapter/storage/store.go) — a single key-value table
// keyed by chain+txHash — into the relational stores schema.sql declares.
package store

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/xerrors"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// RawDataStore persists fetched raw records and marks them processed, per
// spec.md 4.6.
type RawDataStore struct {
	db *sqlx.DB
}

// NewRawDataStore builds a RawDataStore over db.
func NewRawDataStore(db *sqlx.DB) *RawDataStore {
	return &RawDataStore{db: db}
}

// rebindExecer is the subset of *sqlx.DB / *sqlx.Tx that upsertRawDataRows
// needs, so the same insert logic runs standalone or inside the atomic
// {raw rows, cursor} commit CommitStreamBatch performs.
type rebindExecer interface {
	Rebind(string) string
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertBatch inserts rows with ON CONFLICT (accountId, providerName,
// eventId) DO NOTHING, per spec.md 4.6. It returns the number of rows
// actually inserted (duplicates are silently dropped, not an error).
func (s *RawDataStore) UpsertBatch(ctx context.Context, rows []model.RawRecord) (int, error) {
	return upsertRawDataRows(ctx, s.db, rows)
}

func upsertRawDataRows(ctx context.Context, db rebindExecer, rows []model.RawRecord) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	builder := psql.Insert("raw_data").
		Columns("account_id", "provider_name", "source_type", "event_id", "external_id", "provider_data", "normalized_data", "stream_type", "processed").
		Suffix("ON CONFLICT (account_id, provider_name, event_id) DO NOTHING")

	for _, r := range rows {
		builder = builder.Values(r.AccountID, r.ProviderName, r.SourceType, r.EventID, r.ExternalID, r.ProviderData, nullableJSON(r.NormalizedData), r.StreamType, model.ProcessPending)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, xerrors.New(xerrors.Fatal, xerrors.CodeRepositoryWrite, "build raw_data upsert", err)
	}
	res, err := db.ExecContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return 0, xerrors.New(xerrors.Fatal, xerrors.CodeRepositoryWrite, "exec raw_data upsert", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// PendingForAccount returns pending raw rows for an account, oldest first.
// This is insertion (fetch) order, not correlation order: a single-stream
// provider's rows arrive already hash-adjacent, but a multi-stream
// provider's don't (one stream's whole history is inserted before the
// next). BatchMultiStreamZipped chunking re-sorts by correlation id before
// relying on adjacency; see internal/processor.zipByCorrelation.
func (s *RawDataStore) PendingForAccount(ctx context.Context, accountID string) ([]model.RawRecord, error) {
	query, args, err := psql.Select("id", "account_id", "provider_name", "source_type", "event_id", "external_id", "provider_data", "normalized_data", "stream_type", "created_at", "processed").
		From("raw_data").
		Where(sq.Eq{"account_id": accountID, "processed": model.ProcessPending}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, xerrors.New(xerrors.Fatal, xerrors.CodeRepositoryWrite, "query pending raw_data", err)
	}
	defer rows.Close()

	var out []model.RawRecord
	for rows.Next() {
		var r model.RawRecord
		if err := rows.Scan(&r.ID, &r.AccountID, &r.ProviderName, &r.SourceType, &r.EventID, &r.ExternalID, &r.ProviderData, &r.NormalizedData, &r.StreamType, &r.CreatedAt, &r.Processed); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkProcessedBatch flips processed rows to 'processed' in batches of at
// most 500, per spec.md 4.7 — called only after their transactions are
// durably saved.
func (s *RawDataStore) MarkProcessedBatch(ctx context.Context, ids []int64) error {
	const maxBatch = 500
	for start := 0; start < len(ids); start += maxBatch {
		end := start + maxBatch
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		query, args, err := psql.Update("raw_data").
			Set("processed", model.ProcessProcessed).
			Where(sq.Eq{"id": chunk}).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
			return xerrors.New(xerrors.Fatal, xerrors.CodeRepositoryWrite, "mark raw_data processed", err)
		}
	}
	return nil
}

// ResetProcessedForAccount flips every 'processed' row of an account back to
// 'pending', per the `reprocess` command surface (spec.md 6): raw rows are
// never deleted, only their processed flag is rewound so Process picks them
// up again.
func (s *RawDataStore) ResetProcessedForAccount(ctx context.Context, accountID string) error {
	query, args, err := psql.Update("raw_data").
		Set("processed", model.ProcessPending).
		Where(sq.Eq{"account_id": accountID, "processed": model.ProcessProcessed}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return err
}

// MarkFailed flips one row to 'failed' — used when normalization rejects a
// row outright (schema-invalid blockchain data, spec.md 4.7 step 1).
func (s *RawDataStore) MarkFailed(ctx context.Context, id int64) error {
	query, args, err := psql.Update("raw_data").Set("processed", model.ProcessFailed).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return err
}
