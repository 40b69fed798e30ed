package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jbelanger/exitbook/internal/processor/strategy"
)

func rowsWithCorrelation(ids ...string) []strategy.Row {
	rows := make([]strategy.Row, len(ids))
	for i, id := range ids {
		rows[i] = strategy.Row{RowID: int64(i), CorrelationID: id}
	}
	return rows
}

func TestChunk_AllAtOnceIsOneChunk(t *testing.T) {
	rows := rowsWithCorrelation("a", "b", "c")
	chunks := Chunk(rows, BatchAllAtOnce, 1)
	assert.Len(t, chunks, 1)
	assert.Len(t, chunks[0], 3)
}

// TestChunk_HashGroupedExtendsPastSizeLimit verifies that a chunk never
// splits a correlated group even when it exceeds the configured chunk size.
func TestChunk_HashGroupedExtendsPastSizeLimit(t *testing.T) {
	rows := append(rowsWithCorrelation("a"), rowsWithCorrelation("b", "b", "b")...)
	rows = append(rows, rowsWithCorrelation("c")...)

	chunks := Chunk(rows, BatchHashGrouped, 2)
	require := assert.New(t)
	require.Len(chunks, 2)
	// first chunk extends to include all three "b" rows, not just 2
	ids := make([]string, len(chunks[0]))
	for i, r := range chunks[0] {
		ids[i] = r.CorrelationID
	}
	require.Equal([]string{"a", "b", "b", "b"}, ids)
	require.Equal([]string{"c"}, []string{chunks[1][0].CorrelationID})
}

func TestChunk_EmptyInputYieldsNoChunks(t *testing.T) {
	assert.Nil(t, Chunk(nil, BatchHashGrouped, 10))
}

// TestChunk_MultiStreamZippedReunitesSplitStreamRows simulates a two-stream
// provider (e.g. evmrpc's "normal" and "token" streams) whose rows arrive in
// raw_data in fetch order: every "normal" row for the account's history,
// then every "token" row. Two rows sharing a hash ("tx1") land far apart in
// that order. BatchMultiStreamZipped must still put them in the same chunk.
func TestChunk_MultiStreamZippedReunitesSplitStreamRows(t *testing.T) {
	rows := append(rowsWithCorrelation("tx1", "tx2", "tx3"), rowsWithCorrelation("tx1", "tx4")...)

	chunks := Chunk(rows, BatchMultiStreamZipped, 10)
	require := assert.New(t)
	require.Len(chunks, 1)

	tx1Count := 0
	for _, r := range chunks[0] {
		if r.CorrelationID == "tx1" {
			tx1Count++
		}
	}
	require.Equal(2, tx1Count, "both tx1 rows, fetched from different streams, must land in the same chunk")
}

func TestZipByCorrelation_GroupsByFirstAppearanceStably(t *testing.T) {
	rows := append(rowsWithCorrelation("tx1", "tx2", "tx3"), rowsWithCorrelation("tx1", "tx4")...)

	zipped := zipByCorrelation(rows)
	ids := make([]string, len(zipped))
	for i, r := range zipped {
		ids[i] = r.CorrelationID
	}
	// tx1's two rows become adjacent, grouped at tx1's first appearance;
	// tx2, tx3, tx4 keep their relative order around it.
	assert.Equal(t, []string{"tx1", "tx1", "tx2", "tx3", "tx4"}, ids)
}

func TestZipByCorrelation_RowsWithoutCorrelationIDKeepPosition(t *testing.T) {
	rows := rowsWithCorrelation("tx1", "", "tx1", "")
	zipped := zipByCorrelation(rows)
	ids := make([]string, len(zipped))
	for i, r := range zipped {
		ids[i] = r.CorrelationID
	}
	assert.Equal(t, []string{"tx1", "tx1", "", ""}, ids)
}
