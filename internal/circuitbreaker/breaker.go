// Package circuitbreaker implements the per-(blockchain, providerName)
// circuit breaker of spec.md section 4.3/8: opens after a consecutive
// failure threshold or an error-rate cap, stays open for a cool-down, then
// half-opens for a single probe.
//
// It generalizes the teacher's SimpleHealthTracker
// (src/chainadapter/rpc/health.go), which kept its own consecutive-failure
// counter and circuitOpenWindow by hand, into a maintained breaker
// (sony/gobreaker) wrapped with the same ProviderHealth bookkeeping
// (consecutiveFailures, avgResponseMs, totalSuccesses/Failures) the teacher
// tracked, so callers get both the library's state machine and the record
// shape spec.md's ProviderHealth requires.
package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/obslog"
)

// Config configures one breaker.
type Config struct {
	FailureThreshold uint32        // consecutive failures before opening
	ErrorRateCap     float64       // moving error rate cap (0..1), 0 disables
	MinRequests      uint32        // minimum requests before ErrorRateCap applies
	CoolDown         time.Duration // how long the circuit stays open
}

func (c Config) orDefaults() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.CoolDown == 0 {
		c.CoolDown = 30 * time.Second
	}
	if c.MinRequests == 0 {
		c.MinRequests = 10
	}
	return c
}

// entry bundles the library breaker with the ProviderHealth record it feeds.
type entry struct {
	breaker *gobreaker.CircuitBreaker[any]
	mu      sync.Mutex
	health  model.ProviderHealth
}

// Registry hands out one breaker per (blockchain, providerName) key.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry builds an empty breaker registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func key(blockchain, providerName string) string {
	return blockchain + "|" + providerName
}

// Configure installs (or replaces) the breaker for a key.
func (r *Registry) Configure(blockchain, providerName string, cfg Config) {
	cfg = cfg.orDefaults()
	k := key(blockchain, providerName)
	log := obslog.For("circuitbreaker")

	r.mu.Lock()
	defer r.mu.Unlock()

	e := &entry{health: model.ProviderHealth{ProviderKey: k, IsHealthy: true, CircuitState: model.CircuitClosed}}
	settings := gobreaker.Settings{
		Name:        k,
		MaxRequests: 1, // half-open admits exactly one probe, per spec.md 4.3
		Interval:    0,
		Timeout:     cfg.CoolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.FailureThreshold {
				return true
			}
			if cfg.ErrorRateCap > 0 && counts.Requests >= cfg.MinRequests {
				rate := float64(counts.TotalFailures) / float64(counts.Requests)
				return rate >= cfg.ErrorRateCap
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.mu.Lock()
			e.health.CircuitState = toModelState(to)
			if to == gobreaker.StateOpen {
				until := time.Now().Add(cfg.CoolDown)
				e.health.CircuitOpenUntil = &until
				log.Warn().Str("key", name).Msg("circuit opened")
			}
			e.mu.Unlock()
		},
	}
	e.breaker = gobreaker.NewCircuitBreaker[any](settings)
	r.entries[k] = e
}

func toModelState(s gobreaker.State) model.CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return model.CircuitOpen
	case gobreaker.StateHalfOpen:
		return model.CircuitHalfOpen
	default:
		return model.CircuitClosed
	}
}

func (r *Registry) entryFor(blockchain, providerName string) *entry {
	k := key(blockchain, providerName)
	r.mu.Lock()
	e, ok := r.entries[k]
	r.mu.Unlock()
	if ok {
		return e
	}
	r.Configure(blockchain, providerName, Config{})
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[k]
}

// Allow reports whether a live request may be attempted: false means the
// circuit is open. No live request is ever made against an open circuit
// (spec.md testable property 6).
func (r *Registry) Allow(blockchain, providerName string) bool {
	e := r.entryFor(blockchain, providerName)
	return e.breaker.State() != gobreaker.StateOpen
}

// Do runs fn through the breaker, recording latency and success/failure into
// the ProviderHealth record.
func (r *Registry) Do(ctx context.Context, blockchain, providerName string, fn func(context.Context) error) error {
	e := r.entryFor(blockchain, providerName)
	start := time.Now()
	_, err := e.breaker.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	elapsed := time.Since(start)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.health.ConsecutiveFailures++
		e.health.TotalFailures++
		e.health.LastError = err.Error()
		e.health.IsHealthy = e.health.ConsecutiveFailures == 0
	} else {
		e.health.ConsecutiveFailures = 0
		e.health.TotalSuccesses++
		e.health.IsHealthy = true
		if e.health.AvgResponseMs == 0 {
			e.health.AvgResponseMs = float64(elapsed.Milliseconds())
		} else {
			e.health.AvgResponseMs = (e.health.AvgResponseMs*9 + float64(elapsed.Milliseconds())) / 10
		}
	}
	e.health.LastCheckedAt = time.Now()
	e.health.CircuitState = toModelState(e.breaker.State())
	return err
}

// Health returns a copy of the current ProviderHealth record for the key.
func (r *Registry) Health(blockchain, providerName string) model.ProviderHealth {
	e := r.entryFor(blockchain, providerName)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health
}

// ErrCircuitOpen is a sentinel for callers that want to special-case an open
// circuit without going through Do.
var ErrCircuitOpen = fmt.Errorf("circuitbreaker: circuit open")
