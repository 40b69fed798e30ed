// Package coinbase is an exchange transaction-history provider client:
// single stream ("transactions"), cursor type pageToken, grounded on the
// same sawpanic-cryptorun ExchangeProvider shape as kraken but modeling
// Coinbase's "gross-then-fee" withdrawal reporting (scenario S2, strategy
// "coinbaseGrossAmounts") instead of Kraken's already-net ledger rows.
package coinbase

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

const exchangeName = "coinbase"

// TxRow is one row of Coinbase's transaction-history response. Coinbase
// reports a withdrawal's gross amount and its network fee as separate
// fields rather than folding the fee into a net amount the way Kraken does.
type TxRow struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // send, receive, trade, withdrawal
	Asset    string `json:"asset"`
	Amount   string `json:"amount"` // gross, before fee
	Fee      string `json:"fee"`
	Status   string `json:"status"`
	OrderID  string `json:"order_id,omitempty"` // correlates trade legs
	Time     string `json:"created_at"`         // RFC3339
}

// HTTPDoer lets tests substitute a fake transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Signer interface {
	Sign(path string, body []byte) (headers map[string]string, err error)
}

// Client is the coinbase provider client.
type Client struct {
	name       string
	baseURL    string
	httpClient HTTPDoer
	signer     Signer
	breakers   *circuitbreaker.Registry
	limiter    *ratelimit.Registry
	cache      respcache.Cache
}

// Config configures a new Client.
type Config struct {
	BaseURL    string
	HTTPClient HTTPDoer
	Signer     Signer
	Breakers   *circuitbreaker.Registry
	Limiter    *ratelimit.Registry
	Cache      respcache.Cache
}

// New constructs a coinbase provider client.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	c := &Client{
		name:       exchangeName,
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		signer:     cfg.Signer,
		breakers:   cfg.Breakers,
		limiter:    cfg.Limiter,
		cache:      cfg.Cache,
	}
	if c.limiter != nil {
		c.limiter.Configure(c.name, ratelimit.Config{RequestsPerSecond: 3, BurstLimit: 5})
	}
	if c.breakers != nil {
		c.breakers.Configure(exchangeName, c.name, circuitbreaker.Config{FailureThreshold: 5, CoolDown: 60 * time.Second})
	}
	return c
}

func (c *Client) Name() string { return c.name }

func (c *Client) Metadata() provider.Metadata {
	return provider.Metadata{
		Name:           c.name,
		Blockchain:     exchangeName,
		BaseURL:        c.baseURL,
		RequiresAPIKey: true,
		APIKeyEnvVar:   "COINBASE_API_KEY",
		Priority:       10,
		Capabilities: provider.Capabilities{
			SupportedOperations:  []provider.Operation{provider.OpStreamTransactions},
			SupportedCursorTypes: []model.CursorType{model.CursorPageToken},
			PreferredCursorType:  model.CursorPageToken,
			ReplayWindow:         cursor.ReplayWindow{Records: 50},
			Streams:              []string{"transactions"},
		},
		DefaultConfig: provider.DefaultConfig{RequestsPerSecond: 3, BurstLimit: 5, Retries: 3, Timeout: 15 * time.Second},
	}
}

func (c *Client) withBreaker(ctx context.Context, fn func(context.Context) error) error {
	if c.breakers == nil {
		return fn(ctx)
	}
	if !c.breakers.Allow(exchangeName, c.name) {
		return circuitbreaker.ErrCircuitOpen
	}
	return c.breakers.Do(ctx, exchangeName, c.name, fn)
}

func (c *Client) IsHealthy(ctx context.Context) bool {
	if c.breakers == nil {
		return true
	}
	return c.breakers.Allow(exchangeName, c.name)
}

func (c *Client) Execute(ctx context.Context, op provider.Operation, params map[string]string) (provider.Result, error) {
	return provider.Result{}, fmt.Errorf("coinbase: unsupported one-shot op %s", op)
}

// ExtractCursors derives a pageToken cursor position; Coinbase's history
// endpoint is purely cursor-paginated, it has no natural timestamp index.
func (c *Client) ExtractCursors(r model.RawRecord) []model.CursorPosition {
	var row TxRow
	if err := json.Unmarshal(r.NormalizedData, &row); err != nil {
		return nil
	}
	return []model.CursorPosition{{Type: model.CursorPageToken, Value: row.ID}}
}

// ApplyReplayWindow is a no-op for pageToken cursors: per spec.md 4.4, only
// the provider that minted a pageToken can interpret a backward shift, and
// Coinbase's own cursor is already resumable without one.
func (c *Client) ApplyReplayWindow(cur model.Cursor) model.Cursor {
	return cur
}

var txSchema = []schema.Rule{
	{Path: "id", Required: true},
	{Path: "amount", Required: true},
	{Path: "asset", Required: true},
}
