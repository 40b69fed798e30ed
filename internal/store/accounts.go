package store

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jbelanger/exitbook/internal/model"
)

// AccountStore bootstraps the single default user (this engine has no
// multi-tenant concept, per spec.md's scope) and resolves or creates
// accounts by their natural key (userId, sourceName, identifier).
type AccountStore struct {
	db *sqlx.DB
}

// NewAccountStore builds an AccountStore over db.
func NewAccountStore(db *sqlx.DB) *AccountStore {
	return &AccountStore{db: db}
}

const defaultUserID = "00000000-0000-0000-0000-000000000001"

// EnsureDefaultUser creates the singleton default user row if absent and
// returns its id.
func (s *AccountStore) EnsureDefaultUser(ctx context.Context) (string, error) {
	query, args, err := psql.Insert("users").
		Columns("id").
		Values(defaultUserID).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return "", err
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return "", err
	}
	return defaultUserID, nil
}

// FindOrCreateAccount resolves an account by (userId, sourceName,
// identifier), creating it if absent.
func (s *AccountStore) FindOrCreateAccount(ctx context.Context, userID string, acc model.Account) (model.Account, error) {
	selectQuery, selectArgs, err := psql.Select("id", "user_id", "source_name", "source_type", "address", "provider_name", "parent_account_id").
		From("accounts").
		Where(sq.Eq{"user_id": userID, "source_name": acc.SourceName, "address": acc.Identifier}).
		ToSql()
	if err != nil {
		return model.Account{}, err
	}

	var existing accountRow
	err = s.db.GetContext(ctx, &existing, s.db.Rebind(selectQuery), selectArgs...)
	if err == nil {
		return existing.toModel(), nil
	}

	id := uuid.NewString()
	insertQuery, insertArgs, err := psql.Insert("accounts").
		Columns("id", "user_id", "source_type", "source_name", "address", "parent_account_id").
		Values(id, userID, acc.SourceType, acc.SourceName, acc.Identifier, acc.ParentAccountID).
		ToSql()
	if err != nil {
		return model.Account{}, err
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(insertQuery), insertArgs...); err != nil {
		return model.Account{}, err
	}

	acc.ID = id
	acc.UserID = userID
	return acc, nil
}

// Get resolves a single account by id.
func (s *AccountStore) Get(ctx context.Context, id string) (model.Account, error) {
	query, args, err := psql.Select("id", "user_id", "source_name", "source_type", "address", "provider_name", "parent_account_id").
		From("accounts").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return model.Account{}, err
	}
	var row accountRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(query), args...); err != nil {
		return model.Account{}, err
	}
	return row.toModel(), nil
}

// List returns every account, oldest first — used by command-surface
// operations invoked with no account-id filter (spec.md 6's "process
// [account-id?]"/"reprocess [account-id?]").
func (s *AccountStore) List(ctx context.Context) ([]model.Account, error) {
	query, args, err := psql.Select("id", "user_id", "source_name", "source_type", "address", "provider_name", "parent_account_id").
		From("accounts").
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	var rows []accountRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([]model.Account, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

type accountRow struct {
	ID              string  `db:"id"`
	UserID          string  `db:"user_id"`
	SourceName      string  `db:"source_name"`
	SourceType      string  `db:"source_type"`
	Identifier      string  `db:"address"`
	ProviderName    *string `db:"provider_name"`
	ParentAccountID *string `db:"parent_account_id"`
}

func (r accountRow) toModel() model.Account {
	acc := model.Account{
		ID:              r.ID,
		UserID:          r.UserID,
		SourceName:      r.SourceName,
		SourceType:      model.SourceType(r.SourceType),
		Identifier:      r.Identifier,
		ParentAccountID: r.ParentAccountID,
	}
	if r.ProviderName != nil {
		acc.ProviderName = *r.ProviderName
	}
	return acc
}
