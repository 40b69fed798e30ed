package keysource

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityDeriver(pub []byte) (string, error) {
	return fmt.Sprintf("addr-%x", pub), nil
}

// TestGapLimitScan_StopsAfterGapConsecutiveInactiveAddresses pins down
// spec.md 4.5 step 2: the scan derives addresses starting at index 0 and
// stops once `gap` consecutive addresses in a row show no activity, not on
// the first inactive one.
func TestGapLimitScan_StopsAfterGapConsecutiveInactiveAddresses(t *testing.T) {
	// active at 0, 1, 3; inactive everywhere else. With gap=2 the scan must
	// run through index 5 (indices 4 and 5 are the two consecutive inactive
	// addresses after index 3) then stop, never resetting the counter on an active address it hasn't
	// reached yet.
	active := map[uint32]bool{0: true, 1: true, 3: true}
	var checked []uint32
	hasActivity := func(ctx context.Context, address string) (bool, error) {
		checked = append(checked, uint32(len(checked)))
		return active[uint32(len(checked)-1)], nil
	}

	src, err := fakeXPubSource()
	require.NoError(t, err)

	addrs, err := GapLimitScan(context.Background(), src, identityDeriver, hasActivity, 2)
	require.NoError(t, err)

	// index 0 active, 1 active, 2 inactive (consecutiveEmpty=1), 3 active
	// (reset to 0), 4 inactive (=1), 5 inactive (=2, stop).
	require.Len(t, addrs, 6)
	assert.Equal(t, uint32(5), addrs[len(addrs)-1].Index)
	assert.True(t, addrs[0].HasActivity)
	assert.True(t, addrs[1].HasActivity)
	assert.False(t, addrs[2].HasActivity)
	assert.True(t, addrs[3].HasActivity)
	assert.False(t, addrs[4].HasActivity)
	assert.False(t, addrs[5].HasActivity)
}

// TestGapLimitScan_AllInactiveStopsAtGap confirms the minimal case: every
// address is inactive, so the scan stops after exactly `gap` addresses.
func TestGapLimitScan_AllInactiveStopsAtGap(t *testing.T) {
	hasActivity := func(ctx context.Context, address string) (bool, error) {
		return false, nil
	}
	src, err := fakeXPubSource()
	require.NoError(t, err)

	addrs, err := GapLimitScan(context.Background(), src, identityDeriver, hasActivity, 3)
	require.NoError(t, err)
	assert.Len(t, addrs, 3)
}

// TestGapLimitScan_PropagatesActivityCheckerError confirms a provider error
// mid-scan aborts the whole scan rather than being swallowed.
func TestGapLimitScan_PropagatesActivityCheckerError(t *testing.T) {
	boom := fmt.Errorf("provider: timeout")
	hasActivity := func(ctx context.Context, address string) (bool, error) {
		return false, boom
	}
	src, err := fakeXPubSource()
	require.NoError(t, err)

	_, err = GapLimitScan(context.Background(), src, identityDeriver, hasActivity, 5)
	require.ErrorIs(t, err, boom)
}

// TestGapLimitScan_DefaultsGapWhenNonPositive confirms the documented
// default of 20 when callers pass gap<=0.
func TestGapLimitScan_DefaultsGapWhenNonPositive(t *testing.T) {
	hasActivity := func(ctx context.Context, address string) (bool, error) {
		return false, nil
	}
	src, err := fakeXPubSource()
	require.NoError(t, err)

	addrs, err := GapLimitScan(context.Background(), src, identityDeriver, hasActivity, 0)
	require.NoError(t, err)
	assert.Len(t, addrs, 20)
}

// fakeXPubSource builds a well-formed public XPubSource for tests without
// hand-crafting base58 — it derives a throwaway master key deterministically
// from a fixed seed via go-bip32, the same library NewXPubSource parses.
func fakeXPubSource() (*XPubSource, error) {
	key, err := testMasterKey()
	if err != nil {
		return nil, err
	}
	pub := key.PublicKey()
	return NewXPubSource(pub.B58Serialize())
}
