package store

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/xerrors"
)

// SessionStore persists import sessions, enforcing the "single started
// session per account" constraint of spec.md 4.6 via the database's partial
// unique index (idx_sessions_one_active_per_account), not an application
// lock — concurrent starts race safely against PostgreSQL itself.
type SessionStore struct {
	db *sqlx.DB
}

// NewSessionStore builds a SessionStore over db.
func NewSessionStore(db *sqlx.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Start creates a new 'started' session for accountID. A unique-violation
// means an active session already exists; Start returns any insert failure
// as an xerrors Integrity error with code ERR_SESSION_NOT_COMPLETE.
func (s *SessionStore) Start(ctx context.Context, id, accountID string) error {
	query, args, err := psql.Insert("import_sessions").
		Columns("id", "account_id", "status", "cursors").
		Values(id, accountID, model.SessionStarted, "{}").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return xerrors.New(xerrors.Integrity, xerrors.CodeSessionNotComplete, "an active session already exists for this account", err)
	}
	return nil
}

// CommitBatch atomically advances a session's per-stream cursor. Per
// spec.md 4.6, commit is atomic across {raw rows of the batch, updated
// session cursor}; callers run this in the same DB transaction as the
// batch's RawDataStore.UpsertBatch.
func (s *SessionStore) CommitBatch(ctx context.Context, tx *sqlx.Tx, sessionID, streamType string, cur model.Cursor) error {
	raw, err := json.Marshal(cur)
	if err != nil {
		return err
	}
	query, args, err := psql.Update("import_sessions").
		Set("cursors", sq.Expr("jsonb_set(cursors, ?, ?::jsonb, true)", pgTextArray(streamType), string(raw))).
		Where(sq.Eq{"id": sessionID}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(query), args...)
	return err
}

func pgTextArray(key string) string {
	return "{" + key + "}"
}

// Complete marks a session completed.
func (s *SessionStore) Complete(ctx context.Context, sessionID string) error {
	return s.setStatus(ctx, sessionID, model.SessionCompleted, "")
}

// Fail marks a session failed, per spec.md 5's cancellation rule: a
// cancelled import writes status='failed' with completedAt=now.
func (s *SessionStore) Fail(ctx context.Context, sessionID string, lastErr string) error {
	return s.setStatus(ctx, sessionID, model.SessionFailed, lastErr)
}

func (s *SessionStore) setStatus(ctx context.Context, sessionID string, status model.SessionStatus, lastErr string) error {
	now := time.Now()
	builder := psql.Update("import_sessions").
		Set("status", status).
		Set("completed_at", now).
		Where(sq.Eq{"id": sessionID})
	if lastErr != "" {
		builder = builder.Set("last_error", lastErr)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return err
}

// HasIncompleteSession reports whether accountID has a session with status
// != 'completed' — the gate spec.md 4.7 requires before processing.
func (s *SessionStore) HasIncompleteSession(ctx context.Context, accountID string) (bool, error) {
	query, args, err := psql.Select("count(*)").
		From("import_sessions").
		Where(sq.And{sq.Eq{"account_id": accountID}, sq.NotEq{"status": model.SessionCompleted}}).
		ToSql()
	if err != nil {
		return false, err
	}
	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(query), args...); err != nil {
		return false, err
	}
	return count > 0, nil
}

// CursorFor loads the last committed cursor for (accountID, streamType), if any.
func (s *SessionStore) CursorFor(ctx context.Context, accountID, streamType string) (*model.Cursor, error) {
	query, args, err := psql.Select("cursors").
		From("import_sessions").
		Where(sq.Eq{"account_id": accountID}).
		OrderBy("started_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}
	var raw []byte
	if err := s.db.GetContext(ctx, &raw, s.db.Rebind(query), args...); err != nil {
		return nil, nil
	}
	var cursors map[string]model.Cursor
	if err := json.Unmarshal(raw, &cursors); err != nil {
		return nil, err
	}
	if c, ok := cursors[streamType]; ok {
		return &c, nil
	}
	return nil, nil
}
