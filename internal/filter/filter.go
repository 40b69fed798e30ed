// Package filter is the optional scam/dust classifier of spec.md section 2
// (C10): it flags inflows that should be excluded from balance-affecting
// processing — airdropped spam tokens and sub-threshold dust transfers —
// without deleting the underlying raw row. Excluded transactions are
// recorded, not silently dropped, so a later policy change can recover them.
package filter

import (
	"context"

	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/money"
	"github.com/jbelanger/exitbook/internal/tokenmeta"
)

// Reason names why a transaction was excluded.
type Reason string

const (
	ReasonDust       Reason = "dust"
	ReasonScamToken  Reason = "scam_token"
	ReasonUnverified Reason = "unverified_token"
)

// Config tunes the filter's thresholds.
type Config struct {
	// DustThresholds is a minimum inflow amount per asset symbol below which
	// a transaction is classified as dust. Assets absent from the map are
	// never flagged as dust.
	DustThresholds map[string]money.Decimal
	// KnownScamContracts blocks inflows from specific (blockchain, contract)
	// pairs regardless of amount.
	KnownScamContracts map[string]bool // key: blockchain+":"+contractAddr
	// RequireVerifiedToken, when true, excludes any token-stream inflow
	// whose contract isn't resolvable via the token metadata cache.
	RequireVerifiedToken bool
}

// Filter classifies UniversalTransactions for exclusion.
type Filter struct {
	cfg   Config
	meta  *tokenmeta.Cache
}

// New builds a Filter.
func New(cfg Config, meta *tokenmeta.Cache) *Filter {
	if cfg.DustThresholds == nil {
		cfg.DustThresholds = map[string]money.Decimal{}
	}
	if cfg.KnownScamContracts == nil {
		cfg.KnownScamContracts = map[string]bool{}
	}
	return &Filter{cfg: cfg, meta: meta}
}

// Classify returns a non-empty Reason if tx should be excluded, based on its
// inflow legs only — outflows are never filtered, since they represent the
// account's own spend.
func (f *Filter) Classify(ctx context.Context, tx model.UniversalTransaction, contractAddr string) (Reason, bool) {
	if tx.Blockchain != nil && contractAddr != "" {
		if f.cfg.KnownScamContracts[tx.Blockchain.Name+":"+contractAddr] {
			return ReasonScamToken, true
		}
	}

	for _, in := range tx.Movements.Inflows {
		threshold, hasThreshold := f.cfg.DustThresholds[in.Asset.Symbol]
		if hasThreshold && in.GrossAmount.LessThan(threshold) {
			return ReasonDust, true
		}
	}

	if f.cfg.RequireVerifiedToken && tx.Blockchain != nil && contractAddr != "" {
		if _, err := f.meta.Lookup(ctx, tx.Blockchain.Name, contractAddr); err != nil {
			return ReasonUnverified, true
		}
	}

	return "", false
}
