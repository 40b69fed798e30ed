// Package kraken is an exchange ledger provider client: single stream
// ("ledger"), cursor type timestamp, grounded on the pack's
// sawpanic-cryptorun ExchangeProvider shape (CircuitConfig/CacheConfig/
// ProviderLimits) and the teacher's rate-limited/circuit-broken RPC client
// pattern, generalized from RPC to a private REST ledger endpoint. Rows
// sharing a refid correlate into one UniversalTransaction (scenario S1,
// strategy "standardAmounts").
package kraken

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

const exchangeName = "kraken"

// LedgerRow is one row of a Kraken ledger response.
type LedgerRow struct {
	LedgerID string `json:"ledger_id"`
	RefID    string `json:"refid"`
	Time     int64  `json:"time"` // unix seconds
	Type     string `json:"type"` // trade, deposit, withdrawal, transfer, fee
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
	Fee      string `json:"fee"`
	Balance  string `json:"balance"`
}

// HTTPDoer lets tests substitute a fake transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Signer produces the private-endpoint auth headers for a request. The
// credentials themselves are resolved via provider.ResolveExchangeCredentials
// and never touch provider code beyond this boundary.
type Signer interface {
	Sign(path string, body []byte) (headers map[string]string, err error)
}

// Client is the kraken provider client.
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

// New constructs a kraken provider client.
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
		// Kraken's private tier allows roughly one call per second; see
		// spec.md's per-source rate-limit config table.
		c.limiter.Configure(c.name, ratelimit.Config{RequestsPerSecond: 1, BurstLimit: 2})
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
		APIKeyEnvVar:   "KRAKEN_API_KEY",
		Priority:       10,
		Capabilities: provider.Capabilities{
			SupportedOperations:  []provider.Operation{provider.OpStreamTransactions},
			SupportedCursorTypes: []model.CursorType{model.CursorTimestamp, model.CursorPageToken},
			PreferredCursorType:  model.CursorTimestamp,
			ReplayWindow:         cursor.ReplayWindow{Minutes: 5},
			Streams:              []string{"ledger"},
		},
		DefaultConfig: provider.DefaultConfig{RequestsPerSecond: 1, BurstLimit: 2, Retries: 3, Timeout: 15 * time.Second},
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

// Execute has no one-shot operations for kraken; every read is a ledger page.
func (c *Client) Execute(ctx context.Context, op provider.Operation, params map[string]string) (provider.Result, error) {
	return provider.Result{}, fmt.Errorf("kraken: unsupported one-shot op %s", op)
}

// ExtractCursors derives a timestamp cursor from a fetched ledger row.
func (c *Client) ExtractCursors(r model.RawRecord) []model.CursorPosition {
	var row LedgerRow
	if err := json.Unmarshal(r.NormalizedData, &row); err != nil {
		return nil
	}
	return []model.CursorPosition{{Type: model.CursorTimestamp, Value: formatUnix(row.Time)}}
}

// ApplyReplayWindow shifts a resumed timestamp cursor back by 5 minutes.
func (c *Client) ApplyReplayWindow(cur model.Cursor) model.Cursor {
	out := cur
	if out.Primary.Type == model.CursorTimestamp {
		t := parseUnixOrZero(out.Primary.Value)
		out.Primary.Value = formatUnix(t - 5*60)
	}
	return out
}

func formatUnix(sec int64) string { return fmt.Sprintf("%d", sec) }

func parseUnixOrZero(s string) int64 {
	var n int64
	_, _ = fmt.Sscanf(s, "%d", &n)
	return n
}

var ledgerSchema = []schema.Rule{
	{Path: "ledger_id", Required: true},
	{Path: "refid", Required: true},
	{Path: "asset", Required: true},
}
