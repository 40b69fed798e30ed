package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/money"
)

func TestEVMNative_OutflowWithGasFee(t *testing.T) {
	amount, err := money.NewFromString("-1.5")
	require.NoError(t, err)
	fee, err := money.NewFromString("0.002")
	require.NoError(t, err)

	interp, err := EVMNative{}.Interpret([]Row{{RowID: 1, Asset: "ETH", Amount: amount, Fee: fee}})
	require.NoError(t, err)

	require.Len(t, interp.Outflows, 1)
	assert.Equal(t, "1.5", interp.Outflows[0].GrossAmount.String())
	assert.Equal(t, "1.498", interp.Outflows[0].NetAmount.String())
	require.Len(t, interp.Fees, 1)
	assert.Equal(t, model.SettlementOnChain, interp.Fees[0].Settlement)
}

func TestEVMNative_InflowHasNoFee(t *testing.T) {
	amount, err := money.NewFromString("2")
	require.NoError(t, err)

	interp, err := EVMNative{}.Interpret([]Row{{RowID: 1, Asset: "ETH", Amount: amount}})
	require.NoError(t, err)

	require.Len(t, interp.Inflows, 1)
	assert.Empty(t, interp.Fees)
}
