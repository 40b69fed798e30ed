package strategy

import "github.com/jbelanger/exitbook/internal/model"

// EVMNative interprets a single EVM "normal" native-asset transfer: the
// decoder has already signed Amount by direction relative to the account's
// own address, and attached the paid gas fee (native asset, settlement
// onChain) on outflow legs.
type EVMNative struct{}

// Interpret expects one row per transfer; correlated groups (e.g. an
// internal transfer alongside its parent normal transfer) are rare for this
// strategy and are folded leg-by-leg rather than netted.
func (EVMNative) Interpret(group []Row) (Interpretation, error) {
	var out Interpretation
	for _, row := range group {
		abs := row.Amount.Abs()
		if row.Amount.IsNegative() {
			net := abs.Sub(row.Fee)
			out.Outflows = append(out.Outflows, model.AssetMovement{Asset: currency(row.Asset), GrossAmount: abs, NetAmount: net})
			if !row.Fee.IsZero() {
				out.Fees = append(out.Fees, model.Fee{Asset: currency(row.Asset), Amount: row.Fee, Scope: model.FeeScopeNetwork, Settlement: model.SettlementOnChain})
			}
			continue
		}
		out.Inflows = append(out.Inflows, model.AssetMovement{Asset: currency(row.Asset), GrossAmount: abs, NetAmount: abs})
	}
	return out, nil
}
