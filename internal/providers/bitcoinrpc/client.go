// Package bitcoinrpc is a UTXO blockchain explorer provider client: single
// stream ("normal"), cursor type blockNumber, grounded on the pack's
// multichain-indexer Bitcoin RPC client shape (getblockcount/getblockhash/
// getrawtransaction) and the teacher's bitcoin chain adapter conventions
// (src/chainadapter/bitcoin). It exercises hash-grouped batching and
// scenario S3 (gross/net/on-chain-fee split from UTXO inputs/outputs).
package bitcoinrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jbelanger/exitbook/internal/circuitbreaker"
	"github.com/jbelanger/exitbook/internal/cursor"
	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/provider"
	"github.com/jbelanger/exitbook/internal/providers/schema"
	"github.com/jbelanger/exitbook/internal/ratelimit"
	"github.com/jbelanger/exitbook/internal/respcache"
)

const blockchainName = "bitcoin"

// TxOutput is one output of a Bitcoin transaction as the explorer reports it.
type TxOutput struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
	IsOwn   bool   `json:"is_own"`
}

// NormalizedTx is the validated projection stored in RawRecord.NormalizedData.
type NormalizedTx struct {
	TxHash           string     `json:"tx_hash"`
	BlockHeight      uint64     `json:"block_height"`
	Confirmed        bool       `json:"confirmed"`
	WalletInputTotal string     `json:"wallet_input_total"`
	Outputs          []TxOutput `json:"outputs"`
}

// HTTPDoer is the minimal surface the client needs from an HTTP transport,
// so tests can substitute a fake without standing up a real server.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the bitcoinrpc provider client.
type Client struct {
	name       string
	baseURL    string
	httpClient HTTPDoer
	breakers   *circuitbreaker.Registry
	limiter    *ratelimit.Registry
	cache      respcache.Cache
	replay     struct {
		blocks uint64
	}
}

// Config configures a new Client.
type Config struct {
	Name       string
	BaseURL    string
	HTTPClient HTTPDoer
	Breakers   *circuitbreaker.Registry
	Limiter    *ratelimit.Registry
	Cache      respcache.Cache
	ReplayBlocks uint64
}

// New constructs a bitcoinrpc provider client and registers its rate-limit
// and circuit-breaker configuration.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.ReplayBlocks == 0 {
		cfg.ReplayBlocks = 3
	}
	c := &Client{
		name:       cfg.Name,
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		breakers:   cfg.Breakers,
		limiter:    cfg.Limiter,
		cache:      cfg.Cache,
	}
	c.replay.blocks = cfg.ReplayBlocks
	if c.limiter != nil {
		c.limiter.Configure(c.name, ratelimit.Config{RequestsPerSecond: 5, BurstLimit: 5})
	}
	if c.breakers != nil {
		c.breakers.Configure(blockchainName, c.name, circuitbreaker.Config{FailureThreshold: 5, CoolDown: 30 * time.Second})
	}
	return c
}

func (c *Client) Name() string { return c.name }

func (c *Client) Metadata() provider.Metadata {
	return provider.Metadata{
		Name:           c.name,
		Blockchain:     blockchainName,
		BaseURL:        c.baseURL,
		RequiresAPIKey: false,
		Priority:       10,
		Capabilities: provider.Capabilities{
			SupportedOperations: []provider.Operation{
				provider.OpGetAddressBalances,
				provider.OpHasAddressTransactions,
				provider.OpStreamTransactions,
			},
			SupportedCursorTypes: []model.CursorType{model.CursorBlockNum, model.CursorTxHash},
			PreferredCursorType:  model.CursorBlockNum,
			ReplayWindow:         cursor.ReplayWindow{Blocks: c.replay.blocks},
			Streams:              []string{"normal"},
		},
		DefaultConfig: provider.DefaultConfig{RequestsPerSecond: 5, BurstLimit: 5, Retries: 2, Timeout: 15 * time.Second},
	}
}

// Execute performs a one-shot operation.
func (c *Client) Execute(ctx context.Context, op provider.Operation, params map[string]string) (provider.Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.name); err != nil {
			return provider.Result{}, err
		}
	}

	cacheKey := fmt.Sprintf("%s:%s:%v", c.name, op, params)
	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, cacheKey); ok {
			var res provider.Result
			_ = json.Unmarshal(cached, &res.Data)
			return res, nil
		}
	}

	var result provider.Result
	err := c.withBreaker(ctx, func(ctx context.Context) error {
		switch op {
		case provider.OpGetAddressBalances:
			bal, err := c.fetchBalance(ctx, params["address"])
			if err != nil {
				return err
			}
			result = provider.Result{Data: bal}
			return nil
		case provider.OpHasAddressTransactions:
			has, err := c.fetchHasTransactions(ctx, params["address"])
			if err != nil {
				return err
			}
			result = provider.Result{Data: has}
			return nil
		default:
			return fmt.Errorf("bitcoinrpc: unsupported one-shot op %s", op)
		}
	})
	if err != nil {
		return provider.Result{}, err
	}

	if c.cache != nil {
		if raw, err := json.Marshal(result.Data); err == nil {
			c.cache.Set(ctx, cacheKey, raw, 10*time.Second)
		}
	}
	return result, nil
}

func (c *Client) withBreaker(ctx context.Context, fn func(context.Context) error) error {
	if c.breakers == nil {
		return fn(ctx)
	}
	if !c.breakers.Allow(blockchainName, c.name) {
		return circuitbreaker.ErrCircuitOpen
	}
	return c.breakers.Do(ctx, blockchainName, c.name, fn)
}

// IsHealthy reports whether the provider's circuit is closed.
func (c *Client) IsHealthy(ctx context.Context) bool {
	if c.breakers == nil {
		return true
	}
	return c.breakers.Allow(blockchainName, c.name)
}

// ExtractCursors produces the universal cursor positions derivable from a
// fetched raw record: block height and tx hash.
func (c *Client) ExtractCursors(r model.RawRecord) []model.CursorPosition {
	var tx NormalizedTx
	if err := json.Unmarshal(r.NormalizedData, &tx); err != nil {
		return nil
	}
	return []model.CursorPosition{
		{Type: model.CursorBlockNum, Value: fmt.Sprintf("%d", tx.BlockHeight)},
		{Type: model.CursorTxHash, Value: tx.TxHash},
	}
}

// ApplyReplayWindow shifts a resumed cursor back by the configured number of
// blocks, per spec.md 4.4.
func (c *Client) ApplyReplayWindow(cur model.Cursor) model.Cursor {
	out := cur
	if out.Primary.Type == model.CursorBlockNum {
		n := parseUintOrZero(out.Primary.Value)
		if n > c.replay.blocks {
			n -= c.replay.blocks
		} else {
			n = 0
		}
		out.Primary.Value = fmt.Sprintf("%d", n)
	}
	return out
}

func parseUintOrZero(s string) uint64 {
	var n uint64
	_, _ = fmt.Sscanf(s, "%d", &n)
	return n
}

// schemaRules is the minimal field-presence check applied to every decoded
// explorer response before it is wrapped as a RawRecord.
var schemaRules = []schema.Rule{
	{Path: "tx_hash", Required: true},
	{Path: "block_height", Required: true},
}
