package processor

import "github.com/shopspring/decimal"

// Tolerance is a per-source pair of warn/error thresholds, expressed as
// decimal fractions (0.005 = 0.5%), for the zero-sum invariant check of
// spec.md 4.7/9.
type Tolerance struct {
	Warn  decimal.Decimal
	Error decimal.Decimal
}

// defaultTolerances are the per-source defaults spec.md section 9 names;
// any source absent here uses "others" (±1.5%/±5%).
var defaultTolerances = map[string]Tolerance{
	"kraken":   {Warn: decimal.NewFromFloat(0.005), Error: decimal.NewFromFloat(0.02)},
	"coinbase": {Warn: decimal.NewFromFloat(0.01), Error: decimal.NewFromFloat(0.03)},
}

var othersTolerance = Tolerance{Warn: decimal.NewFromFloat(0.015), Error: decimal.NewFromFloat(0.05)}

// ToleranceFor resolves the tolerance pair for a source name.
func ToleranceFor(source string) Tolerance {
	if t, ok := defaultTolerances[source]; ok {
		return t
	}
	return othersTolerance
}
