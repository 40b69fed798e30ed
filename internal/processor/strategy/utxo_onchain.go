package strategy

import (
	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/money"
)

// UTXOOnChain computes the gross/net/fee split for a UTXO (Bitcoin-style)
// on-chain send from its inputs and outputs: gross is everything the
// wallet's own inputs funded minus what returned to the wallet as change,
// net is what actually reached non-own outputs, and the difference is the
// network fee. Grounded on scenario S3.
type UTXOOnChain struct{}

// Interpret expects one row per transaction hash; a group with more than
// one row is a correlation-key collision and only the first is honored.
func (UTXOOnChain) Interpret(group []Row) (Interpretation, error) {
	var out Interpretation
	if len(group) == 0 || group[0].UTXO == nil {
		return out, nil
	}
	row := group[0]
	leg := row.UTXO
	asset := currency(row.Asset)

	change := money.Zero
	recipient := money.Zero
	for _, o := range leg.Outputs {
		if o.IsOwn {
			change = change.Add(o.Amount)
		} else {
			recipient = recipient.Add(o.Amount)
		}
	}

	gross := leg.WalletInputTotal.Sub(change)
	net := recipient
	fee := gross.Sub(net)

	out.Outflows = append(out.Outflows, model.AssetMovement{Asset: asset, GrossAmount: gross, NetAmount: net})
	if !fee.IsZero() {
		out.Fees = append(out.Fees, model.Fee{Asset: asset, Amount: fee, Scope: model.FeeScopeNetwork, Settlement: model.SettlementOnChain})
	}
	return out, nil
}
