package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/money"
)

// TestUTXOOnChain_Send covers scenario S3: inputs total 0.6, outputs are
// 0.4996 to a recipient and 0.1 change back to the wallet.
func TestUTXOOnChain_Send(t *testing.T) {
	inputTotal, err := money.NewFromString("0.6")
	require.NoError(t, err)
	recipient, err := money.NewFromString("0.4996")
	require.NoError(t, err)
	change, err := money.NewFromString("0.1")
	require.NoError(t, err)

	group := []Row{
		{
			RowID: 1,
			Asset: "BTC",
			UTXO: &UTXOLeg{
				WalletInputTotal: inputTotal,
				Outputs: []UTXOOutput{
					{Address: "recipient", Amount: recipient, IsOwn: false},
					{Address: "change", Amount: change, IsOwn: true},
				},
			},
		},
	}

	interp, err := UTXOOnChain{}.Interpret(group)
	require.NoError(t, err)

	require.Len(t, interp.Outflows, 1)
	assert.Equal(t, "0.5", interp.Outflows[0].GrossAmount.String())
	assert.Equal(t, "0.4996", interp.Outflows[0].NetAmount.String())

	require.Len(t, interp.Fees, 1)
	assert.Equal(t, "0.0004", interp.Fees[0].Amount.String())
	assert.Equal(t, model.FeeScopeNetwork, interp.Fees[0].Scope)
	assert.Equal(t, model.SettlementOnChain, interp.Fees[0].Settlement)
}
