package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/money"
	"github.com/jbelanger/exitbook/internal/processor/strategy"
)

func TestClassify_WithdrawalHasOutflowOnly(t *testing.T) {
	interp := strategy.Interpretation{Outflows: []model.AssetMovement{{Asset: money.NewCurrency("BTC", false), GrossAmount: money.Zero}}}
	op := Classify(nil, interp)
	assert.Equal(t, model.OpTransfer, op.Category)
	assert.Equal(t, "withdrawal", op.Type)
}

func TestClassify_DepositHasInflowOnly(t *testing.T) {
	interp := strategy.Interpretation{Inflows: []model.AssetMovement{{Asset: money.NewCurrency("BTC", false)}}}
	op := Classify(nil, interp)
	assert.Equal(t, "deposit", op.Type)
}

func TestClassify_TradeHasBothLegs(t *testing.T) {
	interp := strategy.Interpretation{
		Inflows:  []model.AssetMovement{{Asset: money.NewCurrency("BTC", false)}},
		Outflows: []model.AssetMovement{{Asset: money.NewCurrency("USD", true)}},
	}
	op := Classify(nil, interp)
	assert.Equal(t, model.OpTrade, op.Category)
}

func TestClassify_StakingRewardRowTypeWins(t *testing.T) {
	rows := []strategy.Row{{Type: "staking"}}
	interp := strategy.Interpretation{Inflows: []model.AssetMovement{{Asset: money.NewCurrency("ETH", false)}}}
	op := Classify(rows, interp)
	assert.Equal(t, model.OpReward, op.Category)
	assert.Equal(t, "stakingReward", op.Type)
}
