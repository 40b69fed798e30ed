package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip32"

	"github.com/jbelanger/exitbook/internal/eventbus"
	"github.com/jbelanger/exitbook/internal/failover"
	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/orchestrator/keysource"
	"github.com/jbelanger/exitbook/internal/provider"
	"github.com/jbelanger/exitbook/internal/respcache"
	"github.com/jbelanger/exitbook/internal/store"
)

// fakeAccountStore is an in-memory AccountStore, keyed by (userID,
// sourceName, identifier) the way store.AccountStore's real unique
// constraint is, so FindOrCreateAccount is idempotent across repeat calls.
type fakeAccountStore struct {
	mu       sync.Mutex
	accounts map[string]model.Account
	nextID   int
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{accounts: make(map[string]model.Account)}
}

func (f *fakeAccountStore) EnsureDefaultUser(ctx context.Context) (string, error) {
	return "user1", nil
}

func (f *fakeAccountStore) FindOrCreateAccount(ctx context.Context, userID string, acc model.Account) (model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := userID + "|" + acc.SourceName + "|" + acc.Identifier
	if existing, ok := f.accounts[key]; ok {
		return existing, nil
	}
	f.nextID++
	acc.ID = fmt.Sprintf("acct-%d", f.nextID)
	acc.UserID = userID
	f.accounts[key] = acc
	return acc, nil
}

// streamingProvider is a provider.Client fake that answers
// OpHasAddressTransactions from a caller-supplied activity function and
// dispatches OpStreamTransactions to a per-address handler, so a test can
// give each derived child account its own streaming behavior.
type streamingProvider struct {
	name           string
	blockchain     string
	hasActivity    func(address string) bool
	streamHandlers map[string]func(ctx context.Context) (<-chan provider.BatchResult, <-chan error)
	mu             sync.Mutex
}

func (p *streamingProvider) Name() string { return p.name }

func (p *streamingProvider) Metadata() provider.Metadata {
	return provider.Metadata{
		Name:       p.name,
		Blockchain: p.blockchain,
		Priority:   1,
		Capabilities: provider.Capabilities{
			SupportedOperations:  []provider.Operation{provider.OpHasAddressTransactions, provider.OpStreamTransactions},
			SupportedCursorTypes: []model.CursorType{model.CursorBlockNum},
		},
	}
}

func (p *streamingProvider) Execute(ctx context.Context, op provider.Operation, params map[string]string) (provider.Result, error) {
	if op != provider.OpHasAddressTransactions {
		return provider.Result{}, fmt.Errorf("streamingProvider: unsupported op %s", op)
	}
	return provider.Result{Data: p.hasActivity(params["address"])}, nil
}

func (p *streamingProvider) ExecuteStreaming(ctx context.Context, op provider.Operation, params map[string]string, resumeCursor *model.Cursor) (<-chan provider.BatchResult, <-chan error) {
	p.mu.Lock()
	handler := p.streamHandlers[params["address"]]
	p.mu.Unlock()
	if handler == nil {
		out := make(chan provider.BatchResult)
		errc := make(chan error, 1)
		close(out)
		errc <- fmt.Errorf("streamingProvider: no handler registered for address %s", params["address"])
		close(errc)
		return out, errc
	}
	return handler(ctx)
}

func (p *streamingProvider) ExtractCursors(r model.RawRecord) []model.CursorPosition { return nil }
func (p *streamingProvider) ApplyReplayWindow(c model.Cursor) model.Cursor            { return c }
func (p *streamingProvider) IsHealthy(ctx context.Context) bool                       { return true }

func newTestOrchestrator(t *testing.T, prov provider.Client, accounts *fakeAccountStore, maxWorkers int) (*Orchestrator, *sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(prov))
	engine := failover.New(failover.Config{Registry: reg, Cache: respcache.New(16)})

	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	t.Cleanup(func() { _ = mockDB.Close() })
	db := sqlx.NewDb(mockDB, "postgres")

	o := New(Config{
		Engine:                engine,
		Accounts:              accounts,
		Sessions:              store.NewSessionStore(db),
		DB:                    db,
		Bus:                   eventbus.New(),
		GapLimit:              2,
		MaxConcurrentAccounts: maxWorkers,
	})
	return o, db, mock
}

func deriveTestAddresses(t *testing.T, n int) []string {
	t.Helper()
	src, err := testXPubSourceForOrchestrator()
	require.NoError(t, err)
	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		pub, err := src.DerivePublicKey(fmt.Sprintf("0/%d", i))
		require.NoError(t, err)
		addrs[i] = fmt.Sprintf("addr-%x", pub)
	}
	return addrs
}

// expectSessionLifecycle registers n full Start -> CursorFor -> terminal
// status update sets, one per child account, for tests whose stream
// handlers never deliver a batch (so store.CommitStreamBatch never runs).
func expectSessionLifecycle(mock sqlmock.Sqlmock, n int) {
	for i := 0; i < n; i++ {
		mock.ExpectExec(`INSERT INTO import_sessions`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT cursors FROM import_sessions`).WillReturnRows(sqlmock.NewRows([]string{"cursors"}))
		mock.ExpectExec(`UPDATE import_sessions SET status`).WillReturnResult(sqlmock.NewResult(0, 1))
	}
}

// expectSessionLifecycleWithBatch is expectSessionLifecycle plus the
// Begin/UPDATE cursors/Commit that store.CommitStreamBatch runs whenever a
// child's stream forwards a batch, even an empty IsComplete-only one.
func expectSessionLifecycleWithBatch(mock sqlmock.Sqlmock, n int) {
	for i := 0; i < n; i++ {
		mock.ExpectExec(`INSERT INTO import_sessions`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT cursors FROM import_sessions`).WillReturnRows(sqlmock.NewRows([]string{"cursors"}))
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE import_sessions SET cursors`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectExec(`UPDATE import_sessions SET status`).WillReturnResult(sqlmock.NewResult(0, 1))
	}
}

// TestImportXPub_SkipsAddressesWithoutActivity exercises scenario S5: the
// gap-limit scan must only create (and import) child accounts for addresses
// the provider reports as active, even though GapLimitScan itself walks
// every index through the trailing inactive tail.
func TestImportXPub_SkipsAddressesWithoutActivity(t *testing.T) {
	addrs := deriveTestAddresses(t, 4)
	// addrs[0] active, addrs[1] active, addrs[2]/addrs[3] inactive (gap=2 stops scan).
	active := map[string]bool{addrs[0]: true, addrs[1]: true}

	var imported []string
	var mu sync.Mutex
	prov := &streamingProvider{
		name: "fakechain", blockchain: "bitcoin",
		hasActivity:    func(address string) bool { return active[address] },
		streamHandlers: map[string]func(ctx context.Context) (<-chan provider.BatchResult, <-chan error){},
	}
	for _, a := range addrs[:2] {
		a := a
		prov.streamHandlers[a] = func(ctx context.Context) (<-chan provider.BatchResult, <-chan error) {
			mu.Lock()
			imported = append(imported, a)
			mu.Unlock()
			out := make(chan provider.BatchResult, 1)
			errc := make(chan error, 1)
			out <- provider.BatchResult{IsComplete: true}
			close(out)
			close(errc)
			return out, errc
		}
	}

	accounts := newFakeAccountStore()
	o, _, mock := newTestOrchestrator(t, prov, accounts, 4)
	expectSessionLifecycleWithBatch(mock, 2)

	// Two children, each running Start -> CursorFor -> stream -> commit the
	// single complete batch -> Complete. The two inactive tail addresses
	// never get a child account or a session at all.
	err := o.ImportXPub(context.Background(), ImportXPubRequest{
		Blockchain: "bitcoin",
		XPub:       testXPubStringForOrchestrator(t),
		Streams:    []string{"normal"},
		Deriver: func(pubKey []byte) (string, error) {
			return fmt.Sprintf("addr-%x", pubKey), nil
		},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, addrs[:2], imported, "only the two active addresses must have a child account streamed")
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestImportXPub_ConcurrencyBoundSerializesWhenLimitIsOne confirms
// MaxConcurrentAccounts actually bounds concurrency: with the limit set to
// 1, two active child accounts must never stream at the same time.
func TestImportXPub_ConcurrencyBoundSerializesWhenLimitIsOne(t *testing.T) {
	addrs := deriveTestAddresses(t, 3)
	active := map[string]bool{addrs[0]: true, addrs[1]: true}

	var inFlight int32
	var maxObserved int32
	prov := &streamingProvider{
		name: "fakechain", blockchain: "bitcoin",
		hasActivity:    func(address string) bool { return active[address] },
		streamHandlers: map[string]func(ctx context.Context) (<-chan provider.BatchResult, <-chan error){},
	}
	for _, a := range addrs[:2] {
		prov.streamHandlers[a] = func(ctx context.Context) (<-chan provider.BatchResult, <-chan error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				cur := atomic.LoadInt32(&maxObserved)
				if n <= cur || atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
					break
				}
			}
			atomic.AddInt32(&inFlight, -1)
			out := make(chan provider.BatchResult, 1)
			errc := make(chan error, 1)
			out <- provider.BatchResult{IsComplete: true}
			close(out)
			close(errc)
			return out, errc
		}
	}

	accounts := newFakeAccountStore()
	o, _, mock := newTestOrchestrator(t, prov, accounts, 1)
	expectSessionLifecycleWithBatch(mock, 2)

	err := o.ImportXPub(context.Background(), ImportXPubRequest{
		Blockchain: "bitcoin",
		XPub:       testXPubStringForOrchestrator(t),
		Streams:    []string{"normal"},
		Deriver: func(pubKey []byte) (string, error) {
			return fmt.Sprintf("addr-%x", pubKey), nil
		},
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxObserved), int32(1), "MaxConcurrentAccounts=1 must serialize the two child imports")
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestImportXPub_FailFastCancelsSiblingAccounts exercises the fail-fast
// contract of spec.md 4.5 step 4: one child account's streaming failure
// must cancel every other in-flight child rather than letting them run to
// completion.
func TestImportXPub_FailFastCancelsSiblingAccounts(t *testing.T) {
	addrs := deriveTestAddresses(t, 3)
	active := map[string]bool{addrs[0]: true, addrs[1]: true}

	siblingCancelled := make(chan struct{}, 1)
	prov := &streamingProvider{
		name: "fakechain", blockchain: "bitcoin",
		hasActivity:    func(address string) bool { return active[address] },
		streamHandlers: map[string]func(ctx context.Context) (<-chan provider.BatchResult, <-chan error){},
	}
	boom := fmt.Errorf("fakechain: rpc timeout")
	prov.streamHandlers[addrs[0]] = func(ctx context.Context) (<-chan provider.BatchResult, <-chan error) {
		out := make(chan provider.BatchResult)
		errc := make(chan error, 1)
		close(out)
		errc <- boom
		close(errc)
		return out, errc
	}
	prov.streamHandlers[addrs[1]] = func(ctx context.Context) (<-chan provider.BatchResult, <-chan error) {
		out := make(chan provider.BatchResult)
		errc := make(chan error, 1)
		go func() {
			<-ctx.Done()
			siblingCancelled <- struct{}{}
			errc <- ctx.Err()
			close(out)
			close(errc)
		}()
		return out, errc
	}

	accounts := newFakeAccountStore()
	// Neither child ever delivers a batch (one errors immediately, the other
	// only observes cancellation), so both go through Start -> CursorFor ->
	// Fail with no CommitStreamBatch in between.
	o, _, mock := newTestOrchestrator(t, prov, accounts, 2)
	expectSessionLifecycle(mock, 2)

	err := o.ImportXPub(context.Background(), ImportXPubRequest{
		Blockchain: "bitcoin",
		XPub:       testXPubStringForOrchestrator(t),
		Streams:    []string{"normal"},
		Deriver: func(pubKey []byte) (string, error) {
			return fmt.Sprintf("addr-%x", pubKey), nil
		},
	})
	require.Error(t, err, "ImportXPub must surface the failing child's error")

	select {
	case <-siblingCancelled:
	default:
		t.Fatal("the healthy sibling account's stream must observe context cancellation once its sibling failed")
	}
}

// orchestratorTestSeed is a fixed, non-secret seed used only to build a
// deterministic throwaway master key for tests — never a real wallet's seed.
var orchestratorTestSeed = []byte("exitbook-orchestrator-test-seed-not-a-wallet!!!")

func orchestratorTestMasterKey() (*bip32.Key, error) {
	return bip32.NewMasterKey(orchestratorTestSeed[:32])
}

func testXPubSourceForOrchestrator() (*keysource.XPubSource, error) {
	key, err := orchestratorTestMasterKey()
	if err != nil {
		return nil, err
	}
	return keysource.NewXPubSource(key.PublicKey().B58Serialize())
}

func testXPubStringForOrchestrator(t *testing.T) string {
	t.Helper()
	key, err := orchestratorTestMasterKey()
	require.NoError(t, err)
	return key.PublicKey().B58Serialize()
}
