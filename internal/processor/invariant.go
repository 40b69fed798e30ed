package processor

import (
	"fmt"

	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/money"
	"github.com/jbelanger/exitbook/internal/xerrors"
)

// checkZeroSum enforces spec.md 4.7's invariant: for every asset that
// appears on both sides of a transaction (the only shape the formula is
// meaningful for — single-sided withdrawals and deposits have nothing to
// net against), sum(inflows.gross) - sum(outflows.gross) - sum(onChain
// fees of that asset) must be zero within the source's tolerance.
func checkZeroSum(tx model.UniversalTransaction, tol Tolerance) error {
	grossIn := map[string]money.Decimal{}
	grossOut := map[string]money.Decimal{}
	onChainFee := map[string]money.Decimal{}

	for _, in := range tx.Movements.Inflows {
		grossIn[in.Asset.Symbol] = grossIn[in.Asset.Symbol].Add(in.GrossAmount)
	}
	for _, out := range tx.Movements.Outflows {
		grossOut[out.Asset.Symbol] = grossOut[out.Asset.Symbol].Add(out.GrossAmount)
	}
	for _, f := range tx.Fees {
		if f.Settlement == model.SettlementOnChain {
			onChainFee[f.Asset.Symbol] = onChainFee[f.Asset.Symbol].Add(f.Amount)
		}
	}

	for asset, in := range grossIn {
		out, hasOut := grossOut[asset]
		if !hasOut {
			continue
		}
		diff := in.Sub(out).Sub(onChainFee[asset])
		if !money.WithinTolerance(diff, money.Zero, tol.Error) {
			return xerrors.New(xerrors.Integrity, xerrors.CodeZeroSumViolation,
				fmt.Sprintf("zero-sum invariant violated for asset %s on tx %s: diff=%s", asset, tx.ExternalID, diff.String()), nil)
		}
	}
	return nil
}
