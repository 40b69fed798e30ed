package strategy

import "github.com/jbelanger/exitbook/internal/model"

// StandardAmounts implements spec.md 4.7's "standardAmounts" rule: amount is
// already net, fee is a separate row, settlement is always 'balance' and
// scope 'platform'. Grounded on scenario S1 (Kraken ledger: a withdrawal row
// plus a correlated fee row sharing refid).
type StandardAmounts struct{}

// Interpret folds a correlated group of Kraken-shaped ledger rows into one
// {inflows, outflows, fees}.
func (StandardAmounts) Interpret(group []Row) (Interpretation, error) {
	var out Interpretation
	for _, row := range group {
		if row.Type == "fee" {
			out.Fees = append(out.Fees, model.Fee{
				Asset:      currency(row.Asset),
				Amount:     row.Amount.Abs(),
				Scope:      model.FeeScopePlatform,
				Settlement: model.SettlementBalance,
			})
			continue
		}
		abs := row.Amount.Abs()
		movement := model.AssetMovement{Asset: currency(row.Asset), GrossAmount: abs, NetAmount: abs}
		if row.Amount.IsNegative() {
			out.Outflows = append(out.Outflows, movement)
		} else {
			out.Inflows = append(out.Inflows, movement)
		}
	}
	return out, nil
}
