// Package ratelimit implements the per-provider token bucket of spec.md
// section 4.2: the tightest of requestsPerSecond/Minute/Hour and burstLimit
// wins. It generalizes the teacher's hand-written sliding-window
// RateLimiter (internal/services/ratelimit in the teacher repo, built for
// password-attempt throttling) into a real token bucket built on
// golang.org/x/time/rate, keyed per provider instead of per wallet.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config mirrors spec.md's recognised rate-limit options.
type Config struct {
	RequestsPerSecond float64
	RequestsPerMinute float64
	RequestsPerHour   float64
	BurstLimit        int
}

// effectiveRate returns the tightest (lowest) requests-per-second implied by
// the configured windows.
func (c Config) effectiveRate() rate.Limit {
	best := rate.Inf
	if c.RequestsPerSecond > 0 {
		best = min(best, rate.Limit(c.RequestsPerSecond))
	}
	if c.RequestsPerMinute > 0 {
		best = min(best, rate.Limit(c.RequestsPerMinute/60.0))
	}
	if c.RequestsPerHour > 0 {
		best = min(best, rate.Limit(c.RequestsPerHour/3600.0))
	}
	if best == rate.Inf {
		return rate.Limit(10) // sane default so an unconfigured provider doesn't run unbounded
	}
	return best
}

func min(a, b rate.Limit) rate.Limit {
	if a < b {
		return a
	}
	return b
}

// Registry hands out one token bucket per provider name, constructing it
// lazily from Config on first use.
type Registry struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	configs  map[string]Config
}

// NewRegistry builds an empty rate limiter registry.
func NewRegistry() *Registry {
	return &Registry{
		buckets: make(map[string]*rate.Limiter),
		configs: make(map[string]Config),
	}
}

// Configure sets (or replaces) the bucket configuration for a provider.
func (r *Registry) Configure(providerName string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[providerName] = cfg
	burst := cfg.BurstLimit
	if burst <= 0 {
		burst = 1
	}
	r.buckets[providerName] = rate.NewLimiter(cfg.effectiveRate(), burst)
}

// Wait blocks until a token is available for providerName, or ctx is done.
// Providers that were never Configure-d get a permissive default bucket.
func (r *Registry) Wait(ctx context.Context, providerName string) error {
	return r.bucketFor(providerName).Wait(ctx)
}

// Allow reports, without blocking, whether a token is immediately available.
func (r *Registry) Allow(providerName string) bool {
	return r.bucketFor(providerName).Allow()
}

func (r *Registry) bucketFor(providerName string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[providerName]
	if !ok {
		b = rate.NewLimiter(rate.Limit(5), 5)
		r.buckets[providerName] = b
	}
	return b
}

// WaitWithTimeout is a convenience wrapper for callers that want a bound on
// how long they'll wait for a token rather than inheriting a long-lived ctx.
func (r *Registry) WaitWithTimeout(providerName string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return r.Wait(ctx, providerName)
}
