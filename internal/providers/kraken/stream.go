package kraken

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/provider"
)

// ExecuteStreaming pages the private ledger endpoint by timestamp, emitting
// one RawRecord per ledger row on the "ledger" stream. Rows sharing a refid
// are correlated downstream by the processor's byCorrelationId grouping, not
// here — the provider's job ends at faithful, schema-validated normalization.
func (c *Client) ExecuteStreaming(ctx context.Context, op provider.Operation, params map[string]string, resumeCursor *model.Cursor) (<-chan provider.BatchResult, <-chan error) {
	out := make(chan provider.BatchResult)
	errc := make(chan error, 1)

	if op != provider.OpStreamTransactions {
		errc <- fmt.Errorf("kraken: unsupported streaming op %s", op)
		close(out)
		close(errc)
		return out, errc
	}

	go func() {
		defer close(out)
		defer close(errc)

		var since int64
		if resumeCursor != nil {
			since = parseUnixOrZero(resumeCursor.Primary.Value)
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

			var page ledgerPage
			err := c.withBreaker(ctx, func(ctx context.Context) error {
				p, err := c.fetchLedgerPage(ctx, since)
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
					errc <- fmt.Errorf("kraken: marshal ledger row: %w", err)
					return
				}
				records = append(records, model.RawRecord{
					ProviderName:   c.name,
					SourceType:     model.SourceExchangeAPI,
					EventID:        row.LedgerID,
					ExternalID:     row.RefID,
					ProviderData:   normalized,
					NormalizedData: normalized,
					StreamType:     "ledger",
				})
			}

			nextCursor := model.Cursor{
				Primary: model.CursorPosition{Type: model.CursorTimestamp, Value: formatUnix(page.NextTime), ProviderName: c.name},
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
			since = page.NextTime
		}
	}()

	return out, errc
}
