package strategy

import (
	"fmt"
	"sort"

	"github.com/jbelanger/exitbook/internal/model"
)

// CoinbaseGrossAmounts implements spec.md 4.7's "coinbaseGrossAmounts" rule:
// withdrawal rows report a gross amount that already includes the fee
// (netAmount = |amount| - fee, settlement='onChain'); trade/deposit rows
// report an amount already net of any on-chain cost (settlement='balance').
// Fees reported identically on multiple correlated legs are kept only on
// the first occurrence by row id. Grounded on scenario S2.
type CoinbaseGrossAmounts struct{}

// Interpret folds a correlated group of Coinbase-shaped transaction rows.
func (CoinbaseGrossAmounts) Interpret(group []Row) (Interpretation, error) {
	ordered := make([]Row, len(group))
	copy(ordered, group)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].RowID < ordered[j].RowID })

	var out Interpretation
	seenFee := make(map[string]bool)

	for _, row := range ordered {
		abs := row.Amount.Abs()

		if row.Type == "withdrawal" {
			net := abs.Sub(row.Fee)
			out.Outflows = append(out.Outflows, model.AssetMovement{Asset: currency(row.Asset), GrossAmount: abs, NetAmount: net})
			if !row.Fee.IsZero() {
				key := fmt.Sprintf("%s:%s", row.Asset, row.Fee.String())
				if !seenFee[key] {
					seenFee[key] = true
					out.Fees = append(out.Fees, model.Fee{
						Asset:      currency(row.Asset),
						Amount:     row.Fee,
						Scope:      model.FeeScopePlatform,
						Settlement: model.SettlementOnChain,
					})
				}
			}
			continue
		}

		movement := model.AssetMovement{Asset: currency(row.Asset), GrossAmount: abs, NetAmount: abs}
		if row.Amount.IsNegative() {
			out.Outflows = append(out.Outflows, movement)
		} else {
			out.Inflows = append(out.Inflows, movement)
		}
		if !row.Fee.IsZero() {
			key := fmt.Sprintf("%s:%s", row.Asset, row.Fee.String())
			if !seenFee[key] {
				seenFee[key] = true
				out.Fees = append(out.Fees, model.Fee{
					Asset:      currency(row.Asset),
					Amount:     row.Fee,
					Scope:      model.FeeScopePlatform,
					Settlement: model.SettlementBalance,
				})
			}
		}
	}
	return out, nil
}
