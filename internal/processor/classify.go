package processor

import (
	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/processor/strategy"
)

// rewardRowTypes are source-reported row types that indicate a staking or
// similar yield reward rather than an ordinary deposit.
var rewardRowTypes = map[string]bool{
	"staking": true,
	"reward":  true,
	"earn":    true,
}

// Classify implements spec.md 4.7 step 4: classify the operation from fund
// flow, with row type as a hint for the reward case a pure flow-shape
// reading can't distinguish from an ordinary deposit.
func Classify(rows []strategy.Row, interp strategy.Interpretation) model.Operation {
	for _, r := range rows {
		if rewardRowTypes[r.Type] {
			return model.Operation{Category: model.OpReward, Type: "stakingReward"}
		}
	}

	switch {
	case len(interp.Inflows) > 0 && len(interp.Outflows) > 0:
		return model.Operation{Category: model.OpTrade, Type: "trade"}
	case len(interp.Outflows) > 0:
		return model.Operation{Category: model.OpTransfer, Type: "withdrawal"}
	case len(interp.Inflows) > 0:
		return model.Operation{Category: model.OpTransfer, Type: "deposit"}
	default:
		return model.Operation{Category: model.OpTransfer, Type: "transfer"}
	}
}
