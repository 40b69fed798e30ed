// Package provider declares the provider abstraction of spec.md section 4.1:
// declarative metadata plus a uniform client interface every concrete
// provider (under internal/providers/*) implements.
//
// It generalizes the teacher's ProviderRegistry
// (src/chainadapter/provider/registry.go), which cached BlockchainProvider
// instances behind a factory keyed by providerType-chainID-networkID, into a
// registry that also carries the declarative capability metadata spec.md
// 4.1 requires (supported operations, cursor types, replay window) instead
// of only constructing clients.
package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jbelanger/exitbook/internal/cursor"
	"github.com/jbelanger/exitbook/internal/model"
)

// Operation names a one-shot or streaming call a provider can perform.
type Operation string

const (
	OpGetAddressBalances      Operation = "getAddressBalances"
	OpGetAddressTokenBalances Operation = "getAddressTokenBalances"
	OpHasAddressTransactions  Operation = "hasAddressTransactions"
	OpStreamTransactions      Operation = "streamTransactions"
)

// Capabilities is the declarative metadata spec.md 4.1 requires at registration.
type Capabilities struct {
	SupportedOperations  []Operation
	SupportedCursorTypes []model.CursorType
	PreferredCursorType  model.CursorType
	ReplayWindow         cursor.ReplayWindow
	Streams              []string // e.g. ["normal"], or ["normal","token","internal"]
}

func (c Capabilities) Supports(op Operation) bool {
	for _, o := range c.SupportedOperations {
		if o == op {
			return true
		}
	}
	return false
}

// DefaultConfig is the default rate/retry/timeout triple a provider declares.
type DefaultConfig struct {
	RequestsPerSecond float64
	BurstLimit        int
	Retries           int
	Timeout           time.Duration
}

// Metadata is everything a provider declares at registration, per spec.md 4.1.
type Metadata struct {
	Name             string
	Blockchain       string // chain name for blockchain providers, exchange name for exchange providers
	BaseURL          string
	RequiresAPIKey   bool
	APIKeyEnvVar     string
	Priority         int // higher is preferred when scoring candidates
	Capabilities     Capabilities
	DefaultConfig    DefaultConfig
}

// BatchResult is one page yielded by a streaming call.
type BatchResult struct {
	Data       []model.RawRecord
	Cursor     model.Cursor
	IsComplete bool
}

// Result is a one-shot call's outcome.
type Result struct {
	Data any
}

// Client is the uniform per-source interface spec.md 4.1 requires.
type Client interface {
	Name() string
	Metadata() Metadata

	Execute(ctx context.Context, op Operation, params map[string]string) (Result, error)

	// ExecuteStreaming returns a channel of batches. params carries the
	// stream's addressing target (e.g. "address" for a blockchain provider,
	// "accountRef" for an exchange). The channel is closed after a batch
	// with IsComplete=true, or after an error is sent on errc.
	ExecuteStreaming(ctx context.Context, op Operation, params map[string]string, resumeCursor *model.Cursor) (<-chan BatchResult, <-chan error)

	ExtractCursors(r model.RawRecord) []model.CursorPosition
	ApplyReplayWindow(c model.Cursor) model.Cursor
	IsHealthy(ctx context.Context) bool
}

// CacheKeyer is implemented by one-shot operations that declare themselves
// idempotent and therefore cacheable by the response cache (C2).
type CacheKeyer interface {
	CacheKey() string
}

// Registry is the process-wide table of registered providers, generalizing
// the teacher's factory-keyed ProviderRegistry to also expose Metadata
// lookups for scoring in the failover engine.
type Registry struct {
	mu        sync.RWMutex
	clients   map[string]Client
	metadata  map[string]Metadata
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients:  make(map[string]Client),
		metadata: make(map[string]Metadata),
	}
}

// ErrUnknownProvider is returned by Lookup for an unregistered name. Per
// spec.md's open question in section 9, the engine resolves unknown source
// names through this typed error rather than probing a dummy client.
type ErrUnknownProvider struct {
	Name string
}

func (e *ErrUnknownProvider) Error() string {
	return fmt.Sprintf("provider: unknown provider %q", e.Name)
}

// Register adds a client to the registry under its declared name.
func (r *Registry) Register(c Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.Name()
	if name == "" {
		return fmt.Errorf("provider: client has empty name")
	}
	if _, exists := r.clients[name]; exists {
		return fmt.Errorf("provider: %q already registered", name)
	}
	r.clients[name] = c
	r.metadata[name] = c.Metadata()
	return nil
}

// Lookup resolves a provider name to its client, or ErrUnknownProvider.
func (r *Registry) Lookup(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	if !ok {
		return nil, &ErrUnknownProvider{Name: name}
	}
	return c, nil
}

// CandidatesFor returns every registered provider that supports op for the
// given blockchain/exchange, ordered by declared Priority descending — the
// base ordering the failover engine's scoring refines further.
func (r *Registry) CandidatesFor(blockchain string, op Operation) []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Client
	for name, md := range r.metadata {
		if md.Blockchain != blockchain {
			continue
		}
		if !md.Capabilities.Supports(op) {
			continue
		}
		out = append(out, r.clients[name])
	}
	// stable insertion-order sort by priority, descending
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && r.metadata[out[j].Name()].Priority > r.metadata[out[j-1].Name()].Priority; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// All returns every registered client, for health/diagnostics sweeps.
func (r *Registry) All() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}
