package bitcoinrpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/provider"
)

// ExecuteStreaming pages through an address's transaction history by block
// height, emitting one RawRecord per transaction on the "normal" stream.
func (c *Client) ExecuteStreaming(ctx context.Context, op provider.Operation, params map[string]string, resumeCursor *model.Cursor) (<-chan provider.BatchResult, <-chan error) {
	out := make(chan provider.BatchResult)
	errc := make(chan error, 1)

	if op != provider.OpStreamTransactions {
		errc <- fmt.Errorf("bitcoinrpc: unsupported streaming op %s", op)
		close(out)
		close(errc)
		return out, errc
	}

	go func() {
		defer close(out)
		defer close(errc)

		var fromBlock uint64
		address := params["address"]
		if resumeCursor != nil {
			fromBlock = parseUintOrZero(resumeCursor.Primary.Value)
		}

		for {
			if err := ctx.Err(); err != nil {
				errc <- err
				return
			}
			if c.limiter != nil {
				if err := c.limiter.Wait(ctx, c.name); err != nil {
					errc <- err
					return
				}
			}

			var page blockTxPage
			err := c.withBreaker(ctx, func(ctx context.Context) error {
				p, err := c.fetchTxPage(ctx, address, fromBlock)
				if err != nil {
					return err
				}
				page = p
				return nil
			})
			if err != nil {
				errc <- err
				return
			}

			records := make([]model.RawRecord, 0, len(page.Txs))
			for _, tx := range page.Txs {
				normalized, err := json.Marshal(tx)
				if err != nil {
					errc <- fmt.Errorf("bitcoinrpc: marshal normalized tx: %w", err)
					return
				}
				raw, _ := json.Marshal(tx)
				records = append(records, model.RawRecord{
					ProviderName:   c.name,
					SourceType:     model.SourceBlockchain,
					EventID:        tx.TxHash,
					ExternalID:     tx.TxHash,
					ProviderData:   raw,
					NormalizedData: normalized,
					StreamType:     "normal",
				})
			}

			nextCursor := model.Cursor{
				Primary: model.CursorPosition{Type: model.CursorBlockNum, Value: fmt.Sprintf("%d", page.NextBlock), ProviderName: c.name},
				Meta:    model.CursorMeta{ProviderName: c.name},
			}

			select {
			case out <- provider.BatchResult{Data: records, Cursor: nextCursor, IsComplete: page.Done}:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}

			if page.Done {
				return
			}
			fromBlock = page.NextBlock
		}
	}()

	return out, errc
}
