package coinbase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/provider"
)

// ExecuteStreaming pages the transaction-history endpoint by opaque page
// token, emitting one RawRecord per row on the "transactions" stream.
func (c *Client) ExecuteStreaming(ctx context.Context, op provider.Operation, params map[string]string, resumeCursor *model.Cursor) (<-chan provider.BatchResult, <-chan error) {
	out := make(chan provider.BatchResult)
	errc := make(chan error, 1)

	if op != provider.OpStreamTransactions {
		errc <- fmt.Errorf("coinbase: unsupported streaming op %s", op)
		close(out)
		close(errc)
		return out, errc
	}

	go func() {
		defer close(out)
		defer close(errc)

		var pageToken string
		if resumeCursor != nil {
			pageToken = resumeCursor.Primary.Value
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

			var page txPage
			err := c.withBreaker(ctx, func(ctx context.Context) error {
				p, err := c.fetchTxPage(ctx, pageToken)
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

			records := make([]model.RawRecord, 0, len(page.Rows))
			for _, row := range page.Rows {
				normalized, err := json.Marshal(row)
				if err != nil {
					errc <- fmt.Errorf("coinbase: marshal tx row: %w", err)
					return
				}
				correlationID := row.OrderID
				if correlationID == "" {
					correlationID = row.ID
				}
				records = append(records, model.RawRecord{
					ProviderName:   c.name,
					SourceType:     model.SourceExchangeAPI,
					EventID:        row.ID,
					ExternalID:     correlationID,
					ProviderData:   normalized,
					NormalizedData: normalized,
					StreamType:     "transactions",
				})
			}

			nextCursor := model.Cursor{
				Primary: model.CursorPosition{Type: model.CursorPageToken, Value: page.NextPage, ProviderName: c.name},
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
			pageToken = page.NextPage
		}
	}()

	return out, errc
}
