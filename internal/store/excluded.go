package store

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/jbelanger/exitbook/internal/xerrors"
)

// ExcludedStore records transactions internal/filter classified as dust or
// scam-token inflows, per spec.md section 2 (C10): the raw row and its
// would-be transaction are never deleted, only flagged, so a later policy
// change (raising a dust threshold, delisting a scam contract) can recover
// them by simply reprocessing the account.
type ExcludedStore struct {
	db *sqlx.DB
}

// NewExcludedStore builds an ExcludedStore over db.
func NewExcludedStore(db *sqlx.DB) *ExcludedStore {
	return &ExcludedStore{db: db}
}

// Record upserts an exclusion, a no-op if the (accountId, externalId) pair
// was already recorded with any reason.
func (s *ExcludedStore) Record(ctx context.Context, accountID, externalID, reason string) error {
	query, args, err := psql.Insert("excluded_transactions").
		Columns("account_id", "external_id", "reason").
		Values(accountID, externalID, reason).
		Suffix("ON CONFLICT (account_id, external_id) DO NOTHING").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return xerrors.New(xerrors.Fatal, xerrors.CodeRepositoryWrite, "record excluded transaction", err)
	}
	return nil
}

// ListByAccount returns every excluded external_id/reason pair for an
// account, for diagnostics and the `transactions view --excluded` filter.
func (s *ExcludedStore) ListByAccount(ctx context.Context, accountID string) (map[string]string, error) {
	query, args, err := psql.Select("external_id", "reason").
		From("excluded_transactions").
		Where(sq.Eq{"account_id": accountID}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var externalID, reason string
		if err := rows.Scan(&externalID, &reason); err != nil {
			return nil, err
		}
		out[externalID] = reason
	}
	return out, rows.Err()
}
