// Package strategy implements the per-source interpretation strategies of
// spec.md section 4.7 step 3: converting a group of raw rows sharing a
// correlation key into { inflows[], outflows[], fees[] }. Implementations
// live in this package, selected at registration time by name, per spec.md
// section 9's "dynamic dispatch of interpretation strategies" design note —
// narrow interface, per-source modules, no class hierarchy.
package strategy

import (
	"time"

	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/money"
)

// Row is the normalized view of one raw_data row a strategy interprets. It
// is deliberately narrower than model.RawRecord: strategies never see
// provider wire format, only the decoded fields relevant to fund flow.
type Row struct {
	RowID         int64
	EventID       string
	CorrelationID string
	Asset         string
	Amount        money.Decimal // signed: negative = outflow, positive = inflow
	Fee           money.Decimal
	Type          string // source-specific row type, e.g. "trade", "withdrawal", "fee"
	OccurredAt    time.Time
	UTXO          *UTXOLeg // set only for UTXO on-chain rows; Amount/Fee/Type unused then
}

// UTXOOutput is one output of a UTXO transaction as the provider reports it.
type UTXOOutput struct {
	Address string
	Amount  money.Decimal
	IsOwn   bool
}

// UTXOLeg carries the inputs/outputs of a UTXO transaction, the shape
// bitcoinrpc.NormalizedTx decodes into for the utxoOnChain strategy.
type UTXOLeg struct {
	WalletInputTotal money.Decimal
	Outputs          []UTXOOutput
}

// Interpretation is the {inflows, outflows, fees} triple a strategy emits
// for one correlated group.
type Interpretation struct {
	Inflows  []model.AssetMovement
	Outflows []model.AssetMovement
	Fees     []model.Fee
}

// Interpreter is the narrow interface spec.md 4.7/9 specifies:
// interpret(group, ctx) -> {inflows, outflows, fees}.
type Interpreter interface {
	Interpret(group []Row) (Interpretation, error)
}

// Registry dispatches interpretation by strategy name, keyed the way
// spec.md 9 prescribes for provider kinds: "dispatch via a registry keyed
// by name", applied here to strategies instead of provider clients.
type Registry struct {
	strategies map[string]Interpreter
}

// NewRegistry builds a Registry pre-populated with the two named strategies
// spec.md 4.7 recognises plus utxoOnChain and evmNative.
func NewRegistry() *Registry {
	return &Registry{strategies: map[string]Interpreter{
		"standardAmounts":      StandardAmounts{},
		"coinbaseGrossAmounts": CoinbaseGrossAmounts{},
		"utxoOnChain":          UTXOOnChain{},
		"evmNative":            EVMNative{},
	}}
}

// Register installs a custom strategy under name, for sources beyond the
// two spec.md names explicitly.
func (r *Registry) Register(name string, i Interpreter) {
	r.strategies[name] = i
}

// Lookup resolves name to an Interpreter.
func (r *Registry) Lookup(name string) (Interpreter, bool) {
	i, ok := r.strategies[name]
	return i, ok
}

func currency(symbol string) money.Currency {
	return money.NewCurrency(symbol, false)
}
