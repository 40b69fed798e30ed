package evmrpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/provider"
)

// ExecuteStreaming pages one of the "normal" / "token" / "internal" transfer
// streams (selected via params["stream"], default "normal") by block height.
// The orchestrator drives one ExecuteStreaming call per declared stream,
// each independently cursored and committed to raw_data; the processor
// (internal/processor's BatchMultiStreamZipped chunk mode) is what zips the
// streams' rows back together by correlation id (the transaction hash)
// before chunking, since raw_data's insertion order is fetch order, not
// correlation order.
func (c *Client) ExecuteStreaming(ctx context.Context, op provider.Operation, params map[string]string, resumeCursor *model.Cursor) (<-chan provider.BatchResult, <-chan error) {
	out := make(chan provider.BatchResult)
	errc := make(chan error, 1)

	if op != provider.OpStreamTransactions {
		errc <- fmt.Errorf("evmrpc: unsupported streaming op %s", op)
		close(out)
		close(errc)
		return out, errc
	}

	streamType := params["stream"]
	if streamType == "" {
		streamType = "normal"
	}
	address := params["address"]

	go func() {
		defer close(out)
		defer close(errc)

		var fromBlock uint64
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

			var page streamPage
			err := c.withBreaker(ctx, func(ctx context.Context) error {
				p, err := c.fetchStreamPage(ctx, address, streamType, fromBlock)
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

			records := make([]model.RawRecord, 0, len(page.Transfers))
			for _, t := range page.Transfers {
				normalized, err := json.Marshal(t)
				if err != nil {
					errc <- fmt.Errorf("evmrpc: marshal transfer: %w", err)
					return
				}
				eventID := fmt.Sprintf("%s:%d", t.TxHash, t.LogIndex)
				records = append(records, model.RawRecord{
					ProviderName:   c.name,
					SourceType:     model.SourceBlockchain,
					EventID:        eventID,
					ExternalID:     t.TxHash,
					ProviderData:   normalized,
					NormalizedData: normalized,
					StreamType:     streamType,
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
