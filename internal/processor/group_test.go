package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jbelanger/exitbook/internal/processor/strategy"
)

func TestGroupRows_ByCorrelationID(t *testing.T) {
	rows := []strategy.Row{
		{RowID: 1, CorrelationID: "R1"},
		{RowID: 2, CorrelationID: "R1"},
		{RowID: 3, CorrelationID: "R2"},
	}
	groups := groupRows(rows)
	assert.Len(t, groups, 2)
	assert.Len(t, groups["R1"], 2)
	assert.Len(t, groups["R2"], 1)
}

func TestGroupRows_EmptyCorrelationIsIdentity(t *testing.T) {
	rows := []strategy.Row{{RowID: 5}, {RowID: 6}}
	groups := groupRows(rows)
	assert.Len(t, groups, 2, "rows without a correlation id should never merge")
}
