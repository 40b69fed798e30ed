// Package orchestrator is the Ingestion Orchestrator of spec.md section 4.5
// (C5): for an extended-public-key blockchain import it ensures the default
// user, derives child addresses via a gap-limit scan, creates one child
// account per address, and runs the child accounts' streaming imports
// concurrently, bounded by MaxConcurrentAccounts (default 4); the first child
// failure cancels the others and fails the import. For a regular address or
// an exchange, it creates one account and one streaming import.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/jbelanger/exitbook/internal/eventbus"
	"github.com/jbelanger/exitbook/internal/failover"
	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/obslog"
	"github.com/jbelanger/exitbook/internal/orchestrator/keysource"
	"github.com/jbelanger/exitbook/internal/provider"
	"github.com/jbelanger/exitbook/internal/store"
)

var log = obslog.For("orchestrator")

// AccountStore is the subset of account persistence the orchestrator needs.
type AccountStore interface {
	EnsureDefaultUser(ctx context.Context) (string, error)
	FindOrCreateAccount(ctx context.Context, userID string, acc model.Account) (model.Account, error)
}

// Orchestrator wires the failover engine, session/raw-data stores, and
// account bootstrap into the import workflow.
type Orchestrator struct {
	engine     *failover.Engine
	accounts   AccountStore
	sessions   *store.SessionStore
	db         *sqlx.DB
	bus        *eventbus.Bus
	gapLimit   int
	maxWorkers int
}

// Config configures a new Orchestrator.
type Config struct {
	Engine   *failover.Engine
	Accounts AccountStore
	Sessions *store.SessionStore
	// DB backs the atomic {raw rows, session cursor} commit runStream
	// performs per batch (store.CommitStreamBatch), per spec.md 4.6.
	DB       *sqlx.DB
	Bus      *eventbus.Bus
	GapLimit int // default 20
	// MaxConcurrentAccounts bounds how many child accounts of an xpub import
	// run their streaming import concurrently. Default 4.
	MaxConcurrentAccounts int
}

// New builds an Orchestrator.
func New(cfg Config) *Orchestrator {
	gap := cfg.GapLimit
	if gap <= 0 {
		gap = 20
	}
	workers := cfg.MaxConcurrentAccounts
	if workers <= 0 {
		workers = 4
	}
	return &Orchestrator{engine: cfg.Engine, accounts: cfg.Accounts, sessions: cfg.Sessions, db: cfg.DB, bus: cfg.Bus, gapLimit: gap, maxWorkers: workers}
}

// ImportXPubRequest drives a gap-limit-scanned blockchain import.
type ImportXPubRequest struct {
	Blockchain string
	XPub       string
	Streams    []string // the blockchain provider's declared stream types
	Deriver    keysource.AddressDeriver
	Preferred  string // optional preferred provider name
}

// ImportXPub implements spec.md 4.5 steps 1-4 for an extended public key.
func (o *Orchestrator) ImportXPub(ctx context.Context, req ImportXPubRequest) error {
	userID, err := o.accounts.EnsureDefaultUser(ctx)
	if err != nil {
		return err
	}

	parent, err := o.accounts.FindOrCreateAccount(ctx, userID, model.Account{
		SourceType: model.SourceBlockchain,
		SourceName: req.Blockchain,
		Identifier: req.XPub,
	})
	if err != nil {
		return err
	}

	xpubSrc, err := keysource.NewXPubSource(req.XPub)
	if err != nil {
		return err
	}

	hasActivity := func(ctx context.Context, address string) (bool, error) {
		res, err := o.engine.Execute(ctx, failover.OneShotOptions{
			Blockchain: req.Blockchain,
			Op:         provider.OpHasAddressTransactions,
			Params:     map[string]string{"address": address},
			Preferred:  req.Preferred,
		})
		if err != nil {
			return false, err
		}
		has, _ := res.Data.(bool)
		return has, nil
	}

	addresses, err := keysource.GapLimitScan(ctx, xpubSrc, req.Deriver, hasActivity, o.gapLimit)
	if err != nil {
		return err
	}

	// Child accounts import concurrently, bounded by maxWorkers, per
	// spec.md 4.5 step 4. errgroup.WithContext cancels every in-flight
	// child as soon as one fails, preserving the fail-fast contract.
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(o.maxWorkers)

	for _, a := range addresses {
		if !a.HasActivity {
			continue
		}
		a := a
		parentID := parent.ID
		child, err := o.accounts.FindOrCreateAccount(ctx, userID, model.Account{
			SourceType:      model.SourceBlockchain,
			SourceName:      req.Blockchain,
			Identifier:      a.Address,
			ParentAccountID: &parentID,
		})
		if err != nil {
			return err
		}

		group.Go(func() error {
			if err := o.runStreamingImport(gctx, child, req.Blockchain, req.Streams, a.Address, req.Preferred); err != nil {
				return fmt.Errorf("orchestrator: child account %s (%s) import failed: %w", child.ID, a.Address, err)
			}
			return nil
		})
	}
	return group.Wait()
}

// ImportAddressRequest drives a single-account import for a regular address
// or an exchange account.
type ImportAddressRequest struct {
	Blockchain string // blockchain name, or exchange name
	SourceType model.SourceType
	Address    string // empty for exchanges
	Streams    []string
	Preferred  string
}

// ImportSingle implements spec.md 4.5's "regular addresses and exchanges"
// path: one account, one streaming import.
func (o *Orchestrator) ImportSingle(ctx context.Context, req ImportAddressRequest) error {
	userID, err := o.accounts.EnsureDefaultUser(ctx)
	if err != nil {
		return err
	}
	acc, err := o.accounts.FindOrCreateAccount(ctx, userID, model.Account{
		SourceType: req.SourceType,
		SourceName: req.Blockchain,
		Identifier: req.Address,
	})
	if err != nil {
		return err
	}
	return o.runStreamingImport(ctx, acc, req.Blockchain, req.Streams, req.Address, req.Preferred)
}

func (o *Orchestrator) runStreamingImport(ctx context.Context, acc model.Account, blockchain string, streams []string, address, preferred string) error {
	sessionID := uuid.NewString()
	if err := o.sessions.Start(ctx, sessionID, acc.ID); err != nil {
		return err
	}

	o.bus.Publish(eventbus.Event{Topic: eventbus.ImportStarted, AccountID: acc.ID, Payload: sessionID})

	for _, streamType := range streams {
		if err := o.runStream(ctx, acc, sessionID, blockchain, streamType, address, preferred); err != nil {
			_ = o.sessions.Fail(ctx, sessionID, err.Error())
			o.bus.Publish(eventbus.Event{Topic: eventbus.ImportFailed, AccountID: acc.ID, Payload: err.Error()})
			return err
		}
	}

	if err := o.sessions.Complete(ctx, sessionID); err != nil {
		return err
	}
	o.bus.Publish(eventbus.Event{Topic: eventbus.ImportCompleted, AccountID: acc.ID, Payload: sessionID})
	return nil
}

func (o *Orchestrator) runStream(ctx context.Context, acc model.Account, sessionID, blockchain, streamType, address, preferred string) error {
	resumeCursor, err := o.sessions.CursorFor(ctx, acc.ID, streamType)
	if err != nil {
		return err
	}

	params := map[string]string{"address": address, "stream": streamType}
	batches, errc := o.engine.Stream(ctx, failover.StreamOptions{
		Blockchain:   blockchain,
		Op:           provider.OpStreamTransactions,
		Params:       params,
		Preferred:    preferred,
		ResumeCursor: resumeCursor,
	})

	for {
		select {
		case b, ok := <-batches:
			if !ok {
				return drainStreamErr(errc)
			}
			for i := range b.Data {
				b.Data[i].AccountID = acc.ID
			}
			// Atomic per spec.md 4.6: the batch's raw rows and the session's
			// advanced cursor commit in one DB transaction, so a crash never
			// leaves a cursor pointing past rows that were never saved.
			if _, err := store.CommitStreamBatch(ctx, o.db, sessionID, streamType, b.Data, b.Cursor); err != nil {
				return err
			}
			log.Debug().Str("account", acc.ID).Str("stream", streamType).Int("fetched", b.Fetched).Int("yielded", b.Yielded).Msg("committed batch")
			if b.IsComplete {
				return nil
			}
		case err, ok := <-errc:
			if ok && err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func drainStreamErr(errc <-chan error) error {
	select {
	case err := <-errc:
		return err
	default:
		return nil
	}
}
