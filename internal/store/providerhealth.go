package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/jbelanger/exitbook/internal/model"
)

// ProviderHealthStore persists ProviderHealth snapshots so health survives
// process restarts, per spec.md 5: "the database is the only source of
// truth across process restarts."
type ProviderHealthStore struct {
	db *sqlx.DB
}

// NewProviderHealthStore builds a ProviderHealthStore over db.
func NewProviderHealthStore(db *sqlx.DB) *ProviderHealthStore {
	return &ProviderHealthStore{db: db}
}

// Upsert writes the latest snapshot for h.ProviderKey.
func (s *ProviderHealthStore) Upsert(ctx context.Context, h model.ProviderHealth) error {
	query, args, err := psql.Insert("provider_stats").
		Columns("provider_key", "is_healthy", "consecutive_failures", "total_successes", "total_failures", "avg_response_ms", "last_error", "last_checked_at", "circuit_state", "circuit_open_until").
		Values(h.ProviderKey, h.IsHealthy, h.ConsecutiveFailures, h.TotalSuccesses, h.TotalFailures, h.AvgResponseMs, h.LastError, h.LastCheckedAt, h.CircuitState, h.CircuitOpenUntil).
		Suffix(`ON CONFLICT (provider_key) DO UPDATE SET
			is_healthy = EXCLUDED.is_healthy,
			consecutive_failures = EXCLUDED.consecutive_failures,
			total_successes = EXCLUDED.total_successes,
			total_failures = EXCLUDED.total_failures,
			avg_response_ms = EXCLUDED.avg_response_ms,
			last_error = EXCLUDED.last_error,
			last_checked_at = EXCLUDED.last_checked_at,
			circuit_state = EXCLUDED.circuit_state,
			circuit_open_until = EXCLUDED.circuit_open_until`).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return err
}

// All returns every persisted provider health snapshot, for a diagnostics sweep.
func (s *ProviderHealthStore) All(ctx context.Context) ([]model.ProviderHealth, error) {
	query, args, err := psql.Select("provider_key", "is_healthy", "consecutive_failures", "total_successes", "total_failures", "avg_response_ms", "last_error", "last_checked_at", "circuit_state", "circuit_open_until").
		From("provider_stats").
		OrderBy("provider_key ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProviderHealth
	for rows.Next() {
		var h model.ProviderHealth
		if err := rows.Scan(&h.ProviderKey, &h.IsHealthy, &h.ConsecutiveFailures, &h.TotalSuccesses, &h.TotalFailures, &h.AvgResponseMs, &h.LastError, &h.LastCheckedAt, &h.CircuitState, &h.CircuitOpenUntil); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
