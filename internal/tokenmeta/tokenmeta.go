// Package tokenmeta is the memoised token decimals/symbol cache of spec.md
// section 2 (C10). It is one of the shared, read-mostly caches spec.md
// section 5 names (alongside provider health, circuit state, rate-limit
// buckets, response cache, dedup window): one RWMutex guards its in-process
// map, and there is no global singleton.
package tokenmeta

import (
	"context"
	"sync"

	"github.com/jmoiron/sqlx"

	sq "github.com/Masterminds/squirrel"
)

// Metadata is a token's decimals/symbol, keyed by (blockchain, contractAddr).
type Metadata struct {
	Blockchain     string
	ContractAddr   string
	Symbol         string
	Decimals       int
}

// Resolver fetches metadata for a contract not yet in the cache or store,
// e.g. an RPC eth_call to decimals()/symbol().
type Resolver func(ctx context.Context, blockchain, contractAddr string) (Metadata, error)

// Cache is the in-process + persisted token metadata cache.
type Cache struct {
	db       *sqlx.DB
	resolver Resolver

	mu  sync.RWMutex
	hot map[string]Metadata
}

// New builds a Cache backed by db's token_metadata table, falling back to
// resolver on a miss.
func New(db *sqlx.DB, resolver Resolver) *Cache {
	return &Cache{db: db, resolver: resolver, hot: make(map[string]Metadata)}
}

func key(blockchain, contractAddr string) string { return blockchain + ":" + contractAddr }

// Lookup returns a token's metadata, checking the hot map, then the
// persisted store, then the resolver — persisting any resolver result so
// later lookups across process restarts hit the store instead.
func (c *Cache) Lookup(ctx context.Context, blockchain, contractAddr string) (Metadata, error) {
	k := key(blockchain, contractAddr)

	c.mu.RLock()
	if m, ok := c.hot[k]; ok {
		c.mu.RUnlock()
		return m, nil
	}
	c.mu.RUnlock()

	if m, ok, err := c.fromStore(ctx, blockchain, contractAddr); err != nil {
		return Metadata{}, err
	} else if ok {
		c.store(k, m)
		return m, nil
	}

	m, err := c.resolver(ctx, blockchain, contractAddr)
	if err != nil {
		return Metadata{}, err
	}
	if err := c.persist(ctx, m); err != nil {
		return Metadata{}, err
	}
	c.store(k, m)
	return m, nil
}

func (c *Cache) store(k string, m Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hot[k] = m
}

func (c *Cache) fromStore(ctx context.Context, blockchain, contractAddr string) (Metadata, bool, error) {
	query, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select("blockchain", "contract_addr", "symbol", "decimals").
		From("token_metadata").
		Where(sq.Eq{"blockchain": blockchain, "contract_addr": contractAddr}).
		ToSql()
	if err != nil {
		return Metadata{}, false, err
	}
	var m Metadata
	if err := c.db.GetContext(ctx, &m, c.db.Rebind(query), args...); err != nil {
		return Metadata{}, false, nil
	}
	return m, true, nil
}

func (c *Cache) persist(ctx context.Context, m Metadata) error {
	query, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Insert("token_metadata").
		Columns("blockchain", "contract_addr", "symbol", "decimals").
		Values(m.Blockchain, m.ContractAddr, m.Symbol, m.Decimals).
		Suffix("ON CONFLICT (blockchain, contract_addr) DO NOTHING").
		ToSql()
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, c.db.Rebind(query), args...)
	return err
}
