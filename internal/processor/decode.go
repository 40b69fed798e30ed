package processor

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/money"
	"github.com/jbelanger/exitbook/internal/processor/strategy"
	"github.com/jbelanger/exitbook/internal/providers/bitcoinrpc"
	"github.com/jbelanger/exitbook/internal/providers/coinbase"
	"github.com/jbelanger/exitbook/internal/providers/evmrpc"
	"github.com/jbelanger/exitbook/internal/providers/kraken"
	"github.com/jbelanger/exitbook/internal/xerrors"
)

// RowDecoder turns one raw_data row into the normalized Row a strategy
// interprets. ownAddress is the account's chain address, needed by
// address-relative providers (evmrpc) to sign the transfer direction; it is
// ignored by providers that already carry direction (kraken, coinbase,
// bitcoinrpc's own-output flag).
type RowDecoder func(r model.RawRecord, ownAddress string) (strategy.Row, error)

// selectPayload implements spec.md 4.7 step 1: normalizedData is required
// and validated for blockchain rows (no silent fallback); exchanges may
// fall back to providerData when normalizedData is empty.
func selectPayload(r model.RawRecord) ([]byte, error) {
	if len(r.NormalizedData) > 0 {
		return r.NormalizedData, nil
	}
	if r.SourceType == model.SourceBlockchain {
		return nil, xerrors.NewValidation(xerrors.CodeMissingNormalized, "blockchain row missing normalizedData", r.ID, r.EventID, "", nil)
	}
	return r.ProviderData, nil
}

func parseAmount(r model.RawRecord, s, field string) (money.Decimal, error) {
	if s == "" {
		return money.Zero, nil
	}
	d, err := money.NewFromString(s)
	if err != nil {
		return money.Zero, xerrors.NewValidation(xerrors.CodeSchemaInvalid, "invalid "+field+" amount", r.ID, r.EventID, field, err)
	}
	return d, nil
}

// DecodeKraken decodes a kraken ledger row (strategy "standardAmounts").
func DecodeKraken(r model.RawRecord, _ string) (strategy.Row, error) {
	payload, err := selectPayload(r)
	if err != nil {
		return strategy.Row{}, err
	}
	var lr kraken.LedgerRow
	if err := json.Unmarshal(payload, &lr); err != nil {
		return strategy.Row{}, xerrors.NewValidation(xerrors.CodeSchemaInvalid, "invalid kraken ledger row", r.ID, r.EventID, "", err)
	}
	amount, err := parseAmount(r, lr.Amount, "amount")
	if err != nil {
		return strategy.Row{}, err
	}
	return strategy.Row{
		RowID:         r.ID,
		EventID:       r.EventID,
		CorrelationID: lr.RefID,
		Asset:         lr.Asset,
		Amount:        amount,
		Type:          lr.Type,
		OccurredAt:    time.Unix(lr.Time, 0).UTC(),
	}, nil
}

// DecodeCoinbase decodes a coinbase transaction row (strategy
// "coinbaseGrossAmounts").
func DecodeCoinbase(r model.RawRecord, _ string) (strategy.Row, error) {
	payload, err := selectPayload(r)
	if err != nil {
		return strategy.Row{}, err
	}
	var tr coinbase.TxRow
	if err := json.Unmarshal(payload, &tr); err != nil {
		return strategy.Row{}, xerrors.NewValidation(xerrors.CodeSchemaInvalid, "invalid coinbase transaction row", r.ID, r.EventID, "", err)
	}
	amount, err := parseAmount(r, tr.Amount, "amount")
	if err != nil {
		return strategy.Row{}, err
	}
	fee, err := parseAmount(r, tr.Fee, "fee")
	if err != nil {
		return strategy.Row{}, err
	}
	corr := tr.OrderID
	if corr == "" {
		corr = tr.ID
	}
	occurredAt, _ := time.Parse(time.RFC3339, tr.Time)
	return strategy.Row{
		RowID:         r.ID,
		EventID:       r.EventID,
		CorrelationID: corr,
		Asset:         tr.Asset,
		Amount:        amount,
		Fee:           fee,
		Type:          tr.Type,
		OccurredAt:    occurredAt,
	}, nil
}

// DecodeBitcoinRPC decodes a bitcoinrpc normalized transaction (strategy
// "utxoOnChain").
func DecodeBitcoinRPC(r model.RawRecord, _ string) (strategy.Row, error) {
	payload, err := selectPayload(r)
	if err != nil {
		return strategy.Row{}, err
	}
	var nt bitcoinrpc.NormalizedTx
	if err := json.Unmarshal(payload, &nt); err != nil {
		return strategy.Row{}, xerrors.NewValidation(xerrors.CodeSchemaInvalid, "invalid bitcoinrpc normalized tx", r.ID, r.EventID, "", err)
	}
	inputTotal, err := parseAmount(r, nt.WalletInputTotal, "wallet_input_total")
	if err != nil {
		return strategy.Row{}, err
	}
	outputs := make([]strategy.UTXOOutput, len(nt.Outputs))
	for i, o := range nt.Outputs {
		amt, err := parseAmount(r, o.Amount, "outputs.amount")
		if err != nil {
			return strategy.Row{}, err
		}
		outputs[i] = strategy.UTXOOutput{Address: o.Address, Amount: amt, IsOwn: o.IsOwn}
	}
	return strategy.Row{
		RowID:         r.ID,
		EventID:       r.EventID,
		CorrelationID: nt.TxHash,
		Asset:         "BTC",
		OccurredAt:    r.CreatedAt,
		UTXO:          &strategy.UTXOLeg{WalletInputTotal: inputTotal, Outputs: outputs},
	}, nil
}

// DecodeEVMRPC decodes an evmrpc transfer (strategy "evmNative"). Direction
// is signed relative to ownAddress since the provider reports from/to
// addresses rather than a pre-signed amount.
func DecodeEVMRPC(r model.RawRecord, ownAddress string) (strategy.Row, error) {
	payload, err := selectPayload(r)
	if err != nil {
		return strategy.Row{}, err
	}
	var t evmrpc.Transfer
	if err := json.Unmarshal(payload, &t); err != nil {
		return strategy.Row{}, xerrors.NewValidation(xerrors.CodeSchemaInvalid, "invalid evmrpc transfer", r.ID, r.EventID, "", err)
	}
	amount, err := parseAmount(r, t.Amount, "amount")
	if err != nil {
		return strategy.Row{}, err
	}
	fee, err := parseAmount(r, t.Fee, "fee")
	if err != nil {
		return strategy.Row{}, err
	}
	if strings.EqualFold(t.From, ownAddress) {
		amount = amount.Neg()
	} else {
		fee = money.Zero // gas is only attached to the sending leg
	}
	asset := t.Asset
	if asset == "" {
		asset = "ETH"
	}
	return strategy.Row{
		RowID:         r.ID,
		EventID:       r.EventID,
		CorrelationID: t.TxHash,
		Asset:         asset,
		Amount:        amount,
		Fee:           fee,
		OccurredAt:    r.CreatedAt,
	}, nil
}
