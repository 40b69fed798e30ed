// Package processor implements the Processor & Interpretation Engine of
// spec.md section 4.7 (C7): it turns pending raw rows for an account into
// canonical UniversalTransactions. A batch provider (internal/processor's
// Chunk) decides chunk boundaries, a source-specific decoder normalizes
// each row into a strategy.Row, rows are grouped by correlation key, and a
// named interpretation strategy (internal/processor/strategy) produces the
// {inflows, outflows, fees} for each group.
package processor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jbelanger/exitbook/internal/eventbus"
	"github.com/jbelanger/exitbook/internal/filter"
	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/obslog"
	"github.com/jbelanger/exitbook/internal/processor/strategy"
	"github.com/jbelanger/exitbook/internal/store"
	"github.com/jbelanger/exitbook/internal/xerrors"
)

var log = obslog.For("processor")

// Profile describes how to process raw rows from one provider: how to
// decode them, which batch chunking discipline applies, and which
// interpretation strategy resolves each correlated group.
type Profile struct {
	ProviderName string
	Source       string // the UniversalTransaction.Source value (provider or exchange name)
	SourceType   model.SourceType
	Decode       RowDecoder
	BatchMode    BatchMode
	ChunkSize    int    // 0 uses defaultChunkSize
	Strategy     string // strategy registry key
}

// Registry resolves a Profile by provider name, so the processor can handle
// an account whose raw rows came from any registered provider without a
// type switch.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry builds a Registry pre-populated with the four grounded
// provider profiles.
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[string]Profile)}
	r.Register(Profile{ProviderName: "kraken", Source: "kraken", SourceType: model.SourceExchangeAPI, Decode: DecodeKraken, BatchMode: BatchAllAtOnce, Strategy: "standardAmounts"})
	r.Register(Profile{ProviderName: "coinbase", Source: "coinbase", SourceType: model.SourceExchangeAPI, Decode: DecodeCoinbase, BatchMode: BatchAllAtOnce, Strategy: "coinbaseGrossAmounts"})
	r.Register(Profile{ProviderName: "bitcoinrpc", Source: "bitcoin", SourceType: model.SourceBlockchain, Decode: DecodeBitcoinRPC, BatchMode: BatchHashGrouped, Strategy: "utxoOnChain"})
	r.Register(Profile{ProviderName: "evmrpc", Source: "ethereum", SourceType: model.SourceBlockchain, Decode: DecodeEVMRPC, BatchMode: BatchMultiStreamZipped, Strategy: "evmNative"})
	return r
}

// Register installs or overrides a Profile by provider name.
func (r *Registry) Register(p Profile) { r.profiles[p.ProviderName] = p }

// Lookup resolves a provider name to its Profile.
func (r *Registry) Lookup(providerName string) (Profile, bool) {
	p, ok := r.profiles[providerName]
	return p, ok
}

// Processor wires the raw data / session / transaction stores, the
// strategy registry, and the event bus into the per-account processing run.
type Processor struct {
	rawData  *store.RawDataStore
	sessions *store.SessionStore
	txs      *store.TransactionRepository
	excluded *store.ExcludedStore
	filter   *filter.Filter
	profiles *Registry
	strats   *strategy.Registry
	bus      *eventbus.Bus
}

// Config configures a new Processor.
type Config struct {
	RawData  *store.RawDataStore
	Sessions *store.SessionStore
	Txs      *store.TransactionRepository
	// Excluded and Filter are optional — when both are set, every produced
	// transaction is classified (spec.md section 2, C10) before persisting;
	// dust/scam-flagged transactions are recorded in Excluded instead of Txs.
	Excluded   *store.ExcludedStore
	Filter     *filter.Filter
	Profiles   *Registry
	Strategies *strategy.Registry
	Bus        *eventbus.Bus
}

// New builds a Processor.
func New(cfg Config) *Processor {
	profiles := cfg.Profiles
	if profiles == nil {
		profiles = NewRegistry()
	}
	strats := cfg.Strategies
	if strats == nil {
		strats = strategy.NewRegistry()
	}
	return &Processor{rawData: cfg.RawData, sessions: cfg.Sessions, txs: cfg.Txs, excluded: cfg.Excluded, filter: cfg.Filter, profiles: profiles, strats: strats, bus: cfg.Bus}
}

// Process runs spec.md 4.7 for one account: it is blocked while any session
// for the account is not completed, decodes and groups pending rows by
// provider, and persists one UniversalTransaction per correlated group.
// accountAddress is passed through to address-relative decoders (evmrpc);
// it is ignored by decoders that don't need it.
func (p *Processor) Process(ctx context.Context, accountID, providerName, accountAddress string) (int, error) {
	incomplete, err := p.sessions.HasIncompleteSession(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if incomplete {
		return 0, xerrors.New(xerrors.Integrity, xerrors.CodeSessionNotComplete, "account has an incomplete import session", nil)
	}

	profile, ok := p.profiles.Lookup(providerName)
	if !ok {
		return 0, xerrors.New(xerrors.Validation, xerrors.CodeUnknownProvider, "no processing profile for provider "+providerName, nil)
	}

	pending, err := p.rawData.PendingForAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	p.bus.Publish(eventbus.Event{Topic: eventbus.BatchStarted, AccountID: accountID, Payload: len(pending)})

	interpreter, ok := p.strats.Lookup(profile.Strategy)
	if !ok {
		return 0, xerrors.New(xerrors.Fatal, xerrors.CodeUnknownProvider, "no interpretation strategy registered: "+profile.Strategy, nil)
	}
	tolerance := ToleranceFor(profile.Source)

	var normalized []strategy.Row
	var rowByID = make(map[int64]model.RawRecord, len(pending))
	for _, raw := range pending {
		rowByID[raw.ID] = raw
		row, err := profile.Decode(raw, accountAddress)
		if err != nil {
			log.Warn().Int64("rowId", raw.ID).Str("eventId", raw.EventID).Err(err).Msg("normalization rejected row")
			if markErr := p.rawData.MarkFailed(ctx, raw.ID); markErr != nil {
				return 0, markErr
			}
			continue
		}
		normalized = append(normalized, row)
	}

	total := 0
	for _, chunk := range Chunk(normalized, profile.BatchMode, profile.ChunkSize) {
		groups := groupRows(chunk)

		var txBatch []model.UniversalTransaction
		var rawIDBatch []int64
		for groupKey, rows := range groups {
			interp, err := interpreter.Interpret(rows)
			if err != nil {
				return total, err
			}
			op := Classify(rows, interp)

			occurredAt := rows[0].OccurredAt
			for _, r := range rows {
				if r.OccurredAt.Before(occurredAt) && !r.OccurredAt.IsZero() {
					occurredAt = r.OccurredAt
				}
			}

			tx := model.UniversalTransaction{
				ID:         uuid.NewString(),
				AccountID:  accountID,
				ExternalID: groupKey,
				Source:     profile.Source,
				SourceType: profile.SourceType,
				Datetime:   occurredAt,
				Timestamp:  occurredAt.Unix(),
				Status:     model.TxSuccess,
				Operation:  op,
				Movements:  model.Movements{Inflows: interp.Inflows, Outflows: interp.Outflows},
				Fees:       interp.Fees,
			}

			if p.filter != nil && p.excluded != nil {
				// contractAddr is left blank: strategy.Row doesn't carry the
				// originating contract address through grouping, so only
				// the dust-threshold and known-scam-blockchain checks apply
				// here, not per-token scam/verification classification.
				if reason, excluded := p.filter.Classify(ctx, tx, ""); excluded {
					if err := p.excluded.Record(ctx, accountID, tx.ExternalID, string(reason)); err != nil {
						return total, err
					}
					for _, r := range rows {
						rawIDBatch = append(rawIDBatch, r.RowID)
					}
					continue
				}
			}

			if err := checkZeroSum(tx, tolerance); err != nil {
				return total, err
			}

			txBatch = append(txBatch, tx)
			for _, r := range rows {
				rawIDBatch = append(rawIDBatch, r.RowID)
			}

			if len(txBatch) >= 500 {
				if err := p.flush(ctx, txBatch, rawIDBatch); err != nil {
					return total, err
				}
				total += len(txBatch)
				txBatch = nil
				rawIDBatch = nil
			}
		}

		if len(txBatch) > 0 || len(rawIDBatch) > 0 {
			if err := p.flush(ctx, txBatch, rawIDBatch); err != nil {
				return total, err
			}
			total += len(txBatch)
		}
	}

	p.bus.Publish(eventbus.Event{Topic: eventbus.BatchCompleted, AccountID: accountID, Payload: total})
	return total, nil
}

// flush persists a transaction batch and only then marks its source raw
// rows processed, per spec.md 4.7's "durably saved first" ordering.
func (p *Processor) flush(ctx context.Context, txs []model.UniversalTransaction, rawIDs []int64) error {
	if err := p.txs.UpsertBatch(ctx, txs); err != nil {
		return fmt.Errorf("processor: flush transaction batch: %w", err)
	}
	return p.rawData.MarkProcessedBatch(ctx, rawIDs)
}
