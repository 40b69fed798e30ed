// Command exitbook is the cobra-based wiring harness of spec.md section 6:
// it constructs the root engine object (provider registry, failover engine,
// stores, orchestrator, processor) and runs the command surface
// (import/process/reprocess/verify-balance/transactions view) against it.
// It stands in for the out-of-scope interactive CLI/TUI — its only job is
// giving the engine's command-surface contract (exit codes 0/1/2, one
// structured report per run) a concrete caller.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/jmoiron/sqlx"

	"github.com/jbelanger/exitbook/internal/circuitbreaker"
	"github.com/jbelanger/exitbook/internal/eventbus"
	"github.com/jbelanger/exitbook/internal/exchangeauth"
	"github.com/jbelanger/exitbook/internal/failover"
	"github.com/jbelanger/exitbook/internal/filter"
	"github.com/jbelanger/exitbook/internal/obslog"
	"github.com/jbelanger/exitbook/internal/orchestrator"
	"github.com/jbelanger/exitbook/internal/processor"
	"github.com/jbelanger/exitbook/internal/provider"
	"github.com/jbelanger/exitbook/internal/providers/bitcoinrpc"
	"github.com/jbelanger/exitbook/internal/providers/coinbase"
	"github.com/jbelanger/exitbook/internal/providers/evmrpc"
	"github.com/jbelanger/exitbook/internal/providers/kraken"
	"github.com/jbelanger/exitbook/internal/ratelimit"
	"github.com/jbelanger/exitbook/internal/respcache"
	"github.com/jbelanger/exitbook/internal/store"
	"github.com/jbelanger/exitbook/internal/tokenmeta"
)

var log = obslog.For("cmd")

// engine bundles the wired components every subcommand needs.
type engine struct {
	db *sqlx.DB

	registry *provider.Registry
	breakers *circuitbreaker.Registry
	limiter  *ratelimit.Registry
	cache    respcache.Cache
	bus      *eventbus.Bus

	accounts *store.AccountStore
	sessions *store.SessionStore
	rawData  *store.RawDataStore
	txs      *store.TransactionRepository
	excluded *store.ExcludedStore

	failoverEngine *failover.Engine
	orchestrator   *orchestrator.Orchestrator
	processor      *processor.Processor
}

// buildEngine wires every component per SPEC_FULL.md section 6, from a
// Postgres DSN read from EXITBOOK_DATABASE_URL. Registration of individual
// providers tolerates missing configuration — a blockchain provider whose
// URL env var is unset is skipped, and an exchange provider whose
// credentials can't be resolved is logged and skipped, rather than aborting
// the whole run, so
// `exitbook` still works against whichever providers are configured.
func buildEngine(ctx context.Context) (*engine, error) {
	dsn := os.Getenv("EXITBOOK_DATABASE_URL")
	if dsn == "" {
		return nil, fmt.Errorf("EXITBOOK_DATABASE_URL is not set")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := bootstrapSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	registry := provider.NewRegistry()
	breakers := circuitbreaker.NewRegistry()
	limiter := ratelimit.NewRegistry()
	cache := respcache.New(1024)
	bus := eventbus.New()

	httpClient := &http.Client{Timeout: 20 * time.Second}

	registerBlockchainProviders(registry, breakers, limiter, cache, httpClient)
	registerExchangeProviders(registry, breakers, limiter, cache, httpClient)

	failoverEngine := failover.New(failover.Config{Registry: registry, Breakers: breakers, Cache: cache, DedupWindow: 256})

	accounts := store.NewAccountStore(db)
	sessions := store.NewSessionStore(db)
	rawData := store.NewRawDataStore(db)
	txs := store.NewTransactionRepository(db)
	excluded := store.NewExcludedStore(db)

	orch := orchestrator.New(orchestrator.Config{
		Engine:   failoverEngine,
		Accounts: accounts,
		Sessions: sessions,
		DB:       db,
		Bus:      bus,
		GapLimit: 20,
	})

	meta := tokenmeta.New(db, func(ctx context.Context, blockchain, contractAddr string) (tokenmeta.Metadata, error) {
		return tokenmeta.Metadata{}, fmt.Errorf("tokenmeta: no resolver configured for %s/%s", blockchain, contractAddr)
	})
	dustFilter := filter.New(filter.Config{}, meta)

	proc := processor.New(processor.Config{
		RawData:  rawData,
		Sessions: sessions,
		Txs:      txs,
		Excluded: excluded,
		Filter:   dustFilter,
		Bus:      bus,
	})

	return &engine{
		db:             db,
		registry:       registry,
		breakers:       breakers,
		limiter:        limiter,
		cache:          cache,
		bus:            bus,
		accounts:       accounts,
		sessions:       sessions,
		rawData:        rawData,
		txs:            txs,
		excluded:       excluded,
		failoverEngine: failoverEngine,
		orchestrator:   orch,
		processor:      proc,
	}, nil
}

func bootstrapSchema(ctx context.Context, db *sqlx.DB) error {
	schema, err := os.ReadFile(schemaPath())
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(schema))
	return err
}

// schemaPath resolves internal/store/schema.sql relative to EXITBOOK_SCHEMA_PATH
// if set, otherwise its conventional location in the repo tree.
func schemaPath() string {
	if p := os.Getenv("EXITBOOK_SCHEMA_PATH"); p != "" {
		return p
	}
	return "internal/store/schema.sql"
}

func registerBlockchainProviders(registry *provider.Registry, breakers *circuitbreaker.Registry, limiter *ratelimit.Registry, cache respcache.Cache, httpClient *http.Client) {
	if baseURL := os.Getenv("BITCOIN_RPC_URL"); baseURL != "" {
		client := bitcoinrpc.New(bitcoinrpc.Config{
			Name:       "bitcoinrpc",
			BaseURL:    baseURL,
			HTTPClient: httpClient,
			Breakers:   breakers,
			Limiter:    limiter,
			Cache:      cache,
		})
		if err := registry.Register(client); err != nil {
			log.Warn().Err(err).Msg("register bitcoinrpc provider")
		}
	}

	if baseURL := os.Getenv("ETHEREUM_RPC_URL"); baseURL != "" {
		client := evmrpc.New(evmrpc.Config{
			Name:       "evmrpc",
			Chain:      "ethereum",
			BaseURL:    baseURL,
			HTTPClient: httpClient,
			Breakers:   breakers,
			Limiter:    limiter,
			Cache:      cache,
		})
		if err := registry.Register(client); err != nil {
			log.Warn().Err(err).Msg("register evmrpc provider")
		}
	}
}

func registerExchangeProviders(registry *provider.Registry, breakers *circuitbreaker.Registry, limiter *ratelimit.Registry, cache respcache.Cache, httpClient *http.Client) {
	if creds, err := provider.ResolveExchangeCredentials("kraken"); err == nil {
		client := kraken.New(kraken.Config{
			BaseURL:    envOr("KRAKEN_BASE_URL", "https://api.kraken.com"),
			HTTPClient: httpClient,
			Signer:     exchangeauth.NewKraken(creds),
			Breakers:   breakers,
			Limiter:    limiter,
			Cache:      cache,
		})
		if err := registry.Register(client); err != nil {
			log.Warn().Err(err).Msg("register kraken provider")
		}
	} else {
		log.Info().Err(err).Msg("kraken credentials not configured, skipping")
	}

	if creds, err := provider.ResolveExchangeCredentials("coinbase"); err == nil {
		client := coinbase.New(coinbase.Config{
			BaseURL:    envOr("COINBASE_BASE_URL", "https://api.coinbase.com"),
			HTTPClient: httpClient,
			Signer:     exchangeauth.NewCoinbase(creds),
			Breakers:   breakers,
			Limiter:    limiter,
			Cache:      cache,
		})
		if err := registry.Register(client); err != nil {
			log.Warn().Err(err).Msg("register coinbase provider")
		}
	} else {
		log.Info().Err(err).Msg("coinbase credentials not configured, skipping")
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func (e *engine) close() {
	if e.db != nil {
		_ = e.db.Close()
	}
}
