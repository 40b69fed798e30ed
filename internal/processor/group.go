package processor

import (
	"fmt"

	"github.com/jbelanger/exitbook/internal/processor/strategy"
)

// groupRows implements spec.md 4.7 step 2: group normalized rows by
// correlation key (byCorrelationId / byHash / byOrderId all collapse to the
// same mechanism here, since every decoder already resolves its own
// correlation id into Row.CorrelationID); a row whose decoder left
// CorrelationID empty is its own one-row group (identity grouping).
//
// Grouping only ever merges rows within the same chunk — a chunk's
// boundary is chosen by the batch provider precisely so that a correlated
// group never spans two chunks.
func groupRows(rows []strategy.Row) map[string][]strategy.Row {
	groups := make(map[string][]strategy.Row)
	for _, row := range rows {
		key := row.CorrelationID
		if key == "" {
			key = fmt.Sprintf("row:%d", row.RowID)
		}
		groups[key] = append(groups[key], row)
	}
	return groups
}
