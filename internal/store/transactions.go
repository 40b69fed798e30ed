package store

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/money"
	"github.com/jbelanger/exitbook/internal/xerrors"
)

// TransactionRepository is the C8 repository of spec.md 4.8: upsert by
// (source, externalId), updating in place on conflict, plus a price
// enrichment side API.
type TransactionRepository struct {
	db *sqlx.DB
}

// NewTransactionRepository builds a TransactionRepository over db.
func NewTransactionRepository(db *sqlx.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// UpsertBatch writes up to 500 transactions per call (the caller chunks),
// per spec.md 4.7's persistence rule: a batch failure aborts the account
// run with a critical error since partial commits would corrupt balances.
func (r *TransactionRepository) UpsertBatch(ctx context.Context, txs []model.UniversalTransaction) error {
	if len(txs) == 0 {
		return nil
	}
	if len(txs) > 500 {
		return xerrors.New(xerrors.Fatal, xerrors.CodeRepositoryWrite, "transaction batch exceeds 500-row limit", nil)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return xerrors.New(xerrors.Fatal, xerrors.CodeRepositoryWrite, "begin transaction batch", err)
	}
	defer tx.Rollback()

	for _, t := range txs {
		movements, err := json.Marshal(t.Movements)
		if err != nil {
			return xerrors.New(xerrors.Fatal, xerrors.CodeRepositoryWrite, "marshal movements", err)
		}
		operation, err := json.Marshal(t.Operation)
		if err != nil {
			return xerrors.New(xerrors.Fatal, xerrors.CodeRepositoryWrite, "marshal operation", err)
		}
		fees, err := json.Marshal(t.Fees)
		if err != nil {
			return xerrors.New(xerrors.Fatal, xerrors.CodeRepositoryWrite, "marshal fees", err)
		}
		var blockchain []byte
		if t.Blockchain != nil {
			blockchain, err = json.Marshal(t.Blockchain)
			if err != nil {
				return xerrors.New(xerrors.Fatal, xerrors.CodeRepositoryWrite, "marshal blockchain metadata", err)
			}
		}

		query, args, err := psql.Insert("transactions").
			Columns("source", "external_id", "account_id", "occurred_at", "status", "operation", "movements", "fees", "blockchain", "updated_at").
			Values(t.Source, t.ExternalID, t.AccountID, t.Datetime, t.Status, operation, movements, fees, nullableJSON(blockchain), sq.Expr("now()")).
			Suffix(`ON CONFLICT (source, external_id) DO UPDATE SET
				occurred_at = EXCLUDED.occurred_at,
				status = EXCLUDED.status,
				operation = EXCLUDED.operation,
				movements = EXCLUDED.movements,
				fees = EXCLUDED.fees,
				blockchain = EXCLUDED.blockchain,
				updated_at = now()`).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return xerrors.New(xerrors.Fatal, xerrors.CodeRepositoryWrite, "upsert transaction", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return xerrors.New(xerrors.Fatal, xerrors.CodeRepositoryWrite, "commit transaction batch", err)
	}
	return nil
}

// DeleteByAccount removes every transaction belonging to an account, the
// first half of the `reprocess` command surface (spec.md 6/8 scenario S6):
// raw rows are left intact, only derived transactions are discarded.
func (r *TransactionRepository) DeleteByAccount(ctx context.Context, accountID string) error {
	query, args, err := psql.Delete("transactions").Where(sq.Eq{"account_id": accountID}).ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	return err
}

// ListByAccount returns every transaction for an account, oldest first, for
// the `transactions view`/`verify-balance` command-surface operations.
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID string) ([]model.UniversalTransaction, error) {
	query, args, err := psql.Select("source", "external_id", "account_id", "occurred_at", "status", "operation", "movements", "fees", "blockchain").
		From("transactions").
		Where(sq.Eq{"account_id": accountID}).
		OrderBy("occurred_at ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryxContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UniversalTransaction
	for rows.Next() {
		var source, externalID, txAccountID, status string
		var occurredAt timeScanner
		var operationRaw, movementsRaw, feesRaw, blockchainRaw []byte
		if err := rows.Scan(&source, &externalID, &txAccountID, &occurredAt, &status, &operationRaw, &movementsRaw, &feesRaw, &blockchainRaw); err != nil {
			return nil, err
		}
		tx := model.UniversalTransaction{
			AccountID:  txAccountID,
			ExternalID: externalID,
			Source:     source,
			Status:     model.TxStatus(status),
			Datetime:   occurredAt.t,
			Timestamp:  occurredAt.t.Unix(),
		}
		_ = json.Unmarshal(operationRaw, &tx.Operation)
		_ = json.Unmarshal(movementsRaw, &tx.Movements)
		_ = json.Unmarshal(feesRaw, &tx.Fees)
		if len(blockchainRaw) > 0 {
			tx.Blockchain = &model.BlockchainInfo{}
			_ = json.Unmarshal(blockchainRaw, tx.Blockchain)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// timeScanner adapts sqlx scanning of the occurred_at column without
// depending on the driver's native time handling in ListByAccount's
// column-order scan.
type timeScanner struct{ t time.Time }

func (s *timeScanner) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		s.t = v
		return nil
	case nil:
		return nil
	default:
		return xerrors.New(xerrors.Fatal, xerrors.CodeRepositoryWrite, "unexpected occurred_at column type", nil)
	}
}

// PriceLookup resolves an asset's price at a given unix time, as sourced
// from the prices table (populated out-of-band; out of scope per spec.md's
// non-goals on a pricing feed).
type PriceLookup func(asset string, unixTime int64) (money.Money, bool)

// EnrichPrices fills PriceAtTxTime into movement legs and fees that lack
// one, restricted to assets (nil means all assets) — the side API spec.md
// 4.8 names.
func (r *TransactionRepository) EnrichPrices(ctx context.Context, assets []string, lookup PriceLookup) (int, error) {
	query, args, err := psql.Select("id", "movements", "fees", "occurred_at").From("transactions").ToSql()
	if err != nil {
		return 0, err
	}
	rows, err := r.db.QueryxContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	wanted := toSet(assets)
	updated := 0
	for rows.Next() {
		var id int64
		var movementsRaw, feesRaw []byte
		var occurredAt timeScanner
		if err := rows.Scan(&id, &movementsRaw, &feesRaw, &occurredAt); err != nil {
			return updated, err
		}
		var mv model.Movements
		var fees []model.Fee
		if err := json.Unmarshal(movementsRaw, &mv); err != nil {
			continue
		}
		_ = json.Unmarshal(feesRaw, &fees)

		occurredAtUnix := occurredAt.t.Unix()
		changed := false
		changed = enrichLeg(mv.Inflows, wanted, occurredAtUnix, lookup) || changed
		changed = enrichLeg(mv.Outflows, wanted, occurredAtUnix, lookup) || changed
		changed = enrichFees(fees, wanted, occurredAtUnix, lookup) || changed
		if !changed {
			continue
		}

		mvEnc, _ := json.Marshal(mv)
		feesEnc, _ := json.Marshal(fees)
		upd, uargs, err := psql.Update("transactions").Set("movements", mvEnc).Set("fees", feesEnc).Set("updated_at", sq.Expr("now()")).Where(sq.Eq{"id": id}).ToSql()
		if err != nil {
			return updated, err
		}
		if _, err := r.db.ExecContext(ctx, r.db.Rebind(upd), uargs...); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, rows.Err()
}

func toSet(assets []string) map[string]bool {
	if len(assets) == 0 {
		return nil
	}
	m := make(map[string]bool, len(assets))
	for _, a := range assets {
		m[a] = true
	}
	return m
}

func wants(wanted map[string]bool, symbol string) bool {
	return wanted == nil || wanted[symbol]
}

func enrichLeg(legs []model.AssetMovement, wanted map[string]bool, occurredAt int64, lookup PriceLookup) bool {
	changed := false
	for i := range legs {
		if legs[i].PriceAtTxTime != nil || !wants(wanted, legs[i].Asset.Symbol) {
			continue
		}
		if p, ok := lookup(legs[i].Asset.Symbol, occurredAt); ok {
			legs[i].PriceAtTxTime = &p
			changed = true
		}
	}
	return changed
}

func enrichFees(fees []model.Fee, wanted map[string]bool, occurredAt int64, lookup PriceLookup) bool {
	changed := false
	for i := range fees {
		if fees[i].PriceAtTxTime != nil || !wants(wanted, fees[i].Asset.Symbol) {
			continue
		}
		if p, ok := lookup(fees[i].Asset.Symbol, occurredAt); ok {
			fees[i].PriceAtTxTime = &p
			changed = true
		}
	}
	return changed
}
