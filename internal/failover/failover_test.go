package failover

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbelanger/exitbook/internal/circuitbreaker"
	"github.com/jbelanger/exitbook/internal/cursor"
	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/provider"
	"github.com/jbelanger/exitbook/internal/respcache"
)

// fakeProvider is a minimal provider.Client for exercising the scoring and
// cascading logic without a real blockchain/exchange backend.
type fakeProvider struct {
	name       string
	blockchain string
	priority   int
	caps       provider.Capabilities
	replay     cursor.ReplayWindow

	mu         sync.Mutex
	executions []string // this provider's own name, appended once per Execute/ExecuteStreaming call

	executeFn func(ctx context.Context, op provider.Operation, params map[string]string) (provider.Result, error)
	streamFn  func(ctx context.Context, op provider.Operation, params map[string]string, resumeCursor *model.Cursor) (<-chan provider.BatchResult, <-chan error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Metadata() provider.Metadata {
	return provider.Metadata{
		Name:         f.name,
		Blockchain:   f.blockchain,
		Priority:     f.priority,
		Capabilities: f.caps,
	}
}

func (f *fakeProvider) Execute(ctx context.Context, op provider.Operation, params map[string]string) (provider.Result, error) {
	f.record()
	return f.executeFn(ctx, op, params)
}

func (f *fakeProvider) ExecuteStreaming(ctx context.Context, op provider.Operation, params map[string]string, resumeCursor *model.Cursor) (<-chan provider.BatchResult, <-chan error) {
	f.record()
	return f.streamFn(ctx, op, params, resumeCursor)
}

func (f *fakeProvider) record() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executions = append(f.executions, f.name)
}

func (f *fakeProvider) ExtractCursors(r model.RawRecord) []model.CursorPosition { return nil }

func (f *fakeProvider) ApplyReplayWindow(c model.Cursor) model.Cursor {
	return cursor.ApplyReplayWindow(c, f.name, f.replay)
}

func (f *fakeProvider) IsHealthy(ctx context.Context) bool { return true }

func blockchainCaps(ops ...provider.Operation) provider.Capabilities {
	return provider.Capabilities{
		SupportedOperations:  ops,
		SupportedCursorTypes: []model.CursorType{model.CursorBlockNum},
		PreferredCursorType:  model.CursorBlockNum,
	}
}

func newTestEngine(t *testing.T, clients ...provider.Client) *Engine {
	t.Helper()
	reg := provider.NewRegistry()
	for _, c := range clients {
		require.NoError(t, reg.Register(c))
	}
	return New(Config{
		Registry: reg,
		Breakers: circuitbreaker.NewRegistry(),
		Cache:    respcache.New(16),
	})
}

// TestExecute_CascadesToNextCandidateOnFailure exercises scenario S4: the
// higher-priority candidate errors, the engine must fall through to the
// next one and return its result rather than failing the whole call.
func TestExecute_CascadesToNextCandidateOnFailure(t *testing.T) {
	primary := &fakeProvider{
		name: "primary", blockchain: "bitcoin", priority: 10,
		caps: blockchainCaps(provider.OpGetAddressBalances),
		executeFn: func(ctx context.Context, op provider.Operation, params map[string]string) (provider.Result, error) {
			return provider.Result{}, fmt.Errorf("primary: connection refused")
		},
	}
	secondary := &fakeProvider{
		name: "secondary", blockchain: "bitcoin", priority: 5,
		caps: blockchainCaps(provider.OpGetAddressBalances),
		executeFn: func(ctx context.Context, op provider.Operation, params map[string]string) (provider.Result, error) {
			return provider.Result{Data: "ok"}, nil
		},
	}
	e := newTestEngine(t, primary, secondary)

	res, err := e.Execute(context.Background(), OneShotOptions{
		Blockchain: "bitcoin",
		Op:         provider.OpGetAddressBalances,
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Data)
	assert.Equal(t, []string{"primary"}, primary.executions)
	assert.Equal(t, []string{"secondary"}, secondary.executions)
}

// TestExecute_PreferredOverrideTriesPreferredFirst confirms a caller-supplied
// preferred provider is tried first regardless of declared priority.
func TestExecute_PreferredOverrideTriesPreferredFirst(t *testing.T) {
	highPriority := &fakeProvider{
		name: "high", blockchain: "bitcoin", priority: 100,
		caps: blockchainCaps(provider.OpGetAddressBalances),
		executeFn: func(ctx context.Context, op provider.Operation, params map[string]string) (provider.Result, error) {
			return provider.Result{Data: "high"}, nil
		},
	}
	preferred := &fakeProvider{
		name: "preferred", blockchain: "bitcoin", priority: 1,
		caps: blockchainCaps(provider.OpGetAddressBalances),
		executeFn: func(ctx context.Context, op provider.Operation, params map[string]string) (provider.Result, error) {
			return provider.Result{Data: "preferred"}, nil
		},
	}
	e := newTestEngine(t, highPriority, preferred)

	res, err := e.Execute(context.Background(), OneShotOptions{
		Blockchain: "bitcoin",
		Op:         provider.OpGetAddressBalances,
		Preferred:  "preferred",
	})
	require.NoError(t, err)
	assert.Equal(t, "preferred", res.Data)
	assert.Empty(t, highPriority.executions, "higher-priority candidate must not be tried when a preferred candidate is given and succeeds")
}

// TestExecute_AllCandidatesFailedReturnsExhaustedProviders asserts the
// terminal error path when every candidate errors.
func TestExecute_AllCandidatesFailedReturnsExhaustedProviders(t *testing.T) {
	a := &fakeProvider{
		name: "a", blockchain: "bitcoin", priority: 1,
		caps: blockchainCaps(provider.OpGetAddressBalances),
		executeFn: func(ctx context.Context, op provider.Operation, params map[string]string) (provider.Result, error) {
			return provider.Result{}, fmt.Errorf("a: down")
		},
	}
	e := newTestEngine(t, a)

	_, err := e.Execute(context.Background(), OneShotOptions{
		Blockchain: "bitcoin",
		Op:         provider.OpGetAddressBalances,
	})
	require.Error(t, err)
}

// TestExecute_NoCandidatesSupportOperationReturnsNoCompatibleProvider covers
// the case where a blockchain has registered providers but none declare the
// requested operation.
func TestExecute_NoCandidatesSupportOperationReturnsNoCompatibleProvider(t *testing.T) {
	a := &fakeProvider{
		name: "a", blockchain: "bitcoin", priority: 1,
		caps: blockchainCaps(provider.OpGetAddressBalances),
	}
	e := newTestEngine(t, a)

	_, err := e.Execute(context.Background(), OneShotOptions{
		Blockchain: "bitcoin",
		Op:         provider.OpStreamTransactions,
	})
	require.Error(t, err)
}

// TestCandidates_OpenCircuitExcludesCandidate covers testable property 6:
// no live request is ever attempted against an open circuit. A provider
// whose breaker has tripped open must not appear in candidates() at all.
func TestCandidates_OpenCircuitExcludesCandidate(t *testing.T) {
	breakers := circuitbreaker.NewRegistry()
	breakers.Configure("bitcoin", "flaky", circuitbreaker.Config{FailureThreshold: 2})

	flaky := &fakeProvider{name: "flaky", blockchain: "bitcoin", priority: 10, caps: blockchainCaps(provider.OpGetAddressBalances)}
	stable := &fakeProvider{name: "stable", blockchain: "bitcoin", priority: 1, caps: blockchainCaps(provider.OpGetAddressBalances)}

	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(flaky))
	require.NoError(t, reg.Register(stable))
	e := New(Config{Registry: reg, Breakers: breakers, Cache: respcache.New(16)})

	cands := e.candidates("bitcoin", provider.OpGetAddressBalances, "")
	require.Len(t, cands, 2, "circuit starts closed, both candidates present")
	assert.Equal(t, "flaky", cands[0].Name(), "higher priority ranks first while healthy")

	// Trip the breaker the same way a real provider's withBreaker would, by
	// recording consecutive failures through Do.
	failing := fmt.Errorf("flaky: timeout")
	_ = breakers.Do(context.Background(), "bitcoin", "flaky", func(context.Context) error { return failing })
	_ = breakers.Do(context.Background(), "bitcoin", "flaky", func(context.Context) error { return failing })

	require.False(t, breakers.Allow("bitcoin", "flaky"), "breaker must be open after FailureThreshold consecutive failures")

	cands = e.candidates("bitcoin", provider.OpGetAddressBalances, "")
	require.Len(t, cands, 1, "open-circuit candidate must be excluded entirely")
	assert.Equal(t, "stable", cands[0].Name())
}

// TestCandidates_PreferredIgnoresOpenCircuit documents current behavior: a
// preferred-provider override bypasses scoring (and therefore the circuit
// check) entirely, per candidates()'s early return. Preferred callers are
// expected to be a human operator's explicit choice, not an automatic one.
func TestCandidates_PreferredIgnoresOpenCircuit(t *testing.T) {
	breakers := circuitbreaker.NewRegistry()
	breakers.Configure("bitcoin", "flaky", circuitbreaker.Config{FailureThreshold: 1})
	flaky := &fakeProvider{name: "flaky", blockchain: "bitcoin", caps: blockchainCaps(provider.OpGetAddressBalances)}

	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(flaky))
	e := New(Config{Registry: reg, Breakers: breakers, Cache: respcache.New(16)})

	_ = breakers.Do(context.Background(), "bitcoin", "flaky", func(context.Context) error { return fmt.Errorf("down") })
	require.False(t, breakers.Allow("bitcoin", "flaky"))

	cands := e.candidates("bitcoin", provider.OpGetAddressBalances, "flaky")
	require.Len(t, cands, 1)
	assert.Equal(t, "flaky", cands[0].Name())
}

func closedBatchChans(batches []provider.BatchResult, errAfter error) (<-chan provider.BatchResult, <-chan error) {
	out := make(chan provider.BatchResult, len(batches))
	errc := make(chan error, 1)
	for _, b := range batches {
		out <- b
	}
	close(out)
	if errAfter != nil {
		errc <- errAfter
	}
	close(errc)
	return out, errc
}

// TestStream_CascadesAndPreservesAtLeastOnceDelivery exercises invariant 2
// (at-least-once across failover): the preferred candidate yields one batch
// then fails mid-stream; the engine must cascade to the next candidate,
// resuming from the last committed cursor, and every record fetched by
// either candidate (minus true duplicates) must reach the caller exactly
// once.
func TestStream_CascadesAndPreservesAtLeastOnceDelivery(t *testing.T) {
	primary := &fakeProvider{
		name: "primary", blockchain: "bitcoin", priority: 10,
		caps: blockchainCaps(provider.OpStreamTransactions),
	}
	primary.streamFn = func(ctx context.Context, op provider.Operation, params map[string]string, resumeCursor *model.Cursor) (<-chan provider.BatchResult, <-chan error) {
		return closedBatchChans([]provider.BatchResult{
			{
				Data: []model.RawRecord{
					{EventID: "e1", ExternalID: "tx1"},
					{EventID: "e2", ExternalID: "tx2"},
				},
				Cursor:     model.Cursor{Primary: model.CursorPosition{Type: model.CursorBlockNum, Value: "100"}},
				IsComplete: false,
			},
		}, fmt.Errorf("primary: connection reset"))
	}

	secondary := &fakeProvider{
		name: "secondary", blockchain: "bitcoin", priority: 5,
		caps:   blockchainCaps(provider.OpStreamTransactions),
		replay: cursor.ReplayWindow{Blocks: 10},
	}
	secondary.streamFn = func(ctx context.Context, op provider.Operation, params map[string]string, resumeCursor *model.Cursor) (<-chan provider.BatchResult, <-chan error) {
		require.NotNil(t, resumeCursor, "cascade must resume from the cursor primary last committed")
		// Overlaps e2 (the replay window re-delivers it) and adds e3, new.
		return closedBatchChans([]provider.BatchResult{
			{
				Data: []model.RawRecord{
					{EventID: "e2", ExternalID: "tx2"},
					{EventID: "e3", ExternalID: "tx3"},
				},
				Cursor:     model.Cursor{Primary: model.CursorPosition{Type: model.CursorBlockNum, Value: "101"}},
				IsComplete: true,
			},
		}, nil)
	}

	e := newTestEngine(t, primary, secondary)

	out, errc := e.Stream(context.Background(), StreamOptions{
		Blockchain: "bitcoin",
		Op:         provider.OpStreamTransactions,
	})

	var seen []string
	var streamErr error
	for out != nil || errc != nil {
		select {
		case b, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			for _, r := range b.Data {
				seen = append(seen, r.EventID)
			}
		case err, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			streamErr = err
		}
	}

	require.NoError(t, streamErr)
	// e2 was already forwarded by primary before it failed; the dedup window
	// persists across the cascade to secondary, so e2's replay-window
	// reoccurrence is suppressed and only e3 is new.
	assert.Equal(t, []string{"e1", "e2", "e3"}, seen, "every record fetched by either candidate reaches the caller exactly once")
}

// TestStream_DedupWindowSuppressesReplayedDuplicates confirms the dedup
// window actually does what the prior test's comment promises: a record
// whose eventId was already forwarded is filtered out of the next batch.
func TestStream_DedupWindowSuppressesReplayedDuplicates(t *testing.T) {
	primary := &fakeProvider{
		name: "primary", blockchain: "bitcoin", priority: 10,
		caps: blockchainCaps(provider.OpStreamTransactions),
	}
	primary.streamFn = func(ctx context.Context, op provider.Operation, params map[string]string, resumeCursor *model.Cursor) (<-chan provider.BatchResult, <-chan error) {
		return closedBatchChans([]provider.BatchResult{
			{
				Data:       []model.RawRecord{{EventID: "e1"}, {EventID: "e2"}},
				Cursor:     model.Cursor{Primary: model.CursorPosition{Type: model.CursorBlockNum, Value: "100"}},
				IsComplete: false,
			},
		}, fmt.Errorf("primary: reset"))
	}

	secondary := &fakeProvider{
		name: "secondary", blockchain: "bitcoin", priority: 5,
		caps:   blockchainCaps(provider.OpStreamTransactions),
		replay: cursor.ReplayWindow{Blocks: 10},
	}
	secondary.streamFn = func(ctx context.Context, op provider.Operation, params map[string]string, resumeCursor *model.Cursor) (<-chan provider.BatchResult, <-chan error) {
		return closedBatchChans([]provider.BatchResult{
			{
				Data:       []model.RawRecord{{EventID: "e2"}, {EventID: "e3"}},
				Cursor:     model.Cursor{Primary: model.CursorPosition{Type: model.CursorBlockNum, Value: "101"}},
				IsComplete: true,
			},
		}, nil)
	}

	e := newTestEngine(t, primary, secondary)
	out, errc := e.Stream(context.Background(), StreamOptions{Blockchain: "bitcoin", Op: provider.OpStreamTransactions})

	var seen []string
	for out != nil || errc != nil {
		select {
		case b, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			for _, r := range b.Data {
				seen = append(seen, r.EventID)
			}
		case err, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			require.NoError(t, err)
		}
	}

	assert.Equal(t, []string{"e1", "e2", "e3"}, seen, "e2 is filtered out of secondary's batch since it was already forwarded from primary's batch")
}
