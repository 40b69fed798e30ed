package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/money"
)

// TestCoinbaseGrossAmounts_UNIWithdrawal covers scenario S2: a single gross
// withdrawal row whose amount already includes the fee.
func TestCoinbaseGrossAmounts_UNIWithdrawal(t *testing.T) {
	amount, err := money.NewFromString("-18")
	require.NoError(t, err)
	fee, err := money.NewFromString("0.16425517")
	require.NoError(t, err)

	group := []Row{
		{RowID: 1, Asset: "UNI", Amount: amount, Fee: fee, Type: "withdrawal"},
	}

	interp, err := CoinbaseGrossAmounts{}.Interpret(group)
	require.NoError(t, err)

	require.Len(t, interp.Outflows, 1)
	assert.Equal(t, "18", interp.Outflows[0].GrossAmount.String())
	assert.Equal(t, "17.83574483", interp.Outflows[0].NetAmount.String())

	require.Len(t, interp.Fees, 1)
	assert.Equal(t, "0.16425517", interp.Fees[0].Amount.String())
	assert.Equal(t, model.FeeScopePlatform, interp.Fees[0].Scope)
	assert.Equal(t, model.SettlementOnChain, interp.Fees[0].Settlement)
}

// TestCoinbaseGrossAmounts_DeduplicatesFeeAcrossCorrelatedLegs covers the
// "keep only the first occurrence by row id" rule for trade legs that each
// report the same platform fee.
func TestCoinbaseGrossAmounts_DeduplicatesFeeAcrossCorrelatedLegs(t *testing.T) {
	out, _ := money.NewFromString("-10")
	in, _ := money.NewFromString("5")
	fee, _ := money.NewFromString("0.1")

	group := []Row{
		{RowID: 2, Asset: "BTC", Amount: out, Fee: fee, Type: "trade"},
		{RowID: 1, Asset: "BTC", Amount: in, Fee: fee, Type: "trade"},
	}

	interp, err := CoinbaseGrossAmounts{}.Interpret(group)
	require.NoError(t, err)

	require.Len(t, interp.Fees, 1, "fee reported on both correlated legs should only be kept once")
	assert.Equal(t, "0.1", interp.Fees[0].Amount.String())
}
