package failover

import (
	"context"

	"github.com/jbelanger/exitbook/internal/cursor"
	"github.com/jbelanger/exitbook/internal/model"
	"github.com/jbelanger/exitbook/internal/provider"
	"github.com/jbelanger/exitbook/internal/xerrors"
)

// StreamOptions configures a streaming call.
type StreamOptions struct {
	Blockchain    string
	Op            provider.Operation
	Params        map[string]string
	Preferred     string
	ResumeCursor  *model.Cursor
}

// StreamBatch is one deduplicated batch yielded to the caller, annotated
// with the fetched/yielded counts spec.md 4.3 requires for duplicate
// suppression reporting.
type StreamBatch struct {
	Data       []model.RawRecord
	Cursor     model.Cursor
	IsComplete bool
	Fetched    int
	Yielded    int
	Provider   string
}

// Stream drives the streaming path of spec.md 4.3: resolve a resumable
// candidate, iterate its batches through the dedup window, and cascade to
// the next candidate on batch error, reapplying its replay window.
func (e *Engine) Stream(ctx context.Context, opts StreamOptions) (<-chan StreamBatch, <-chan error) {
	out := make(chan StreamBatch)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		cands := e.candidates(opts.Blockchain, opts.Op, opts.Preferred)
		if len(cands) == 0 {
			errc <- xerrors.New(xerrors.ExhaustedProviders, xerrors.CodeNoCompatibleProvider, "no candidate providers support this operation", nil)
			return
		}

		dedup := newSeenSet(e.dedupWindow)
		if opts.ResumeCursor != nil {
			dedup.seed(opts.ResumeCursor.LastRecordID)
		}

		activeCursor := opts.ResumeCursor
		tried := make(map[string]bool)

		for {
			cand := e.nextResumableCandidate(cands, activeCursor, tried)
			if cand == nil {
				if activeCursor != nil && len(tried) < len(cands) {
					errc <- xerrors.New(xerrors.ExhaustedProviders, xerrors.CodeNoCompatibleProvider, "no remaining candidate can resume this cursor", nil)
				} else {
					errc <- xerrors.New(xerrors.ExhaustedProviders, xerrors.CodeAllProvidersFailed, "all candidate providers failed", nil)
				}
				return
			}
			tried[cand.Name()] = true

			candCursor := activeCursor
			if candCursor != nil && candCursor.Primary.ProviderName != "" && candCursor.Primary.ProviderName != cand.Name() {
				shifted := cand.ApplyReplayWindow(*candCursor)
				candCursor = &shifted
			}

			lastCursor, done, err := e.drainCandidate(ctx, cand, opts, candCursor, dedup, out)
			if err == nil && done {
				return
			}
			if err == nil && ctx.Err() != nil {
				errc <- ctx.Err()
				return
			}
			// Batch error: cascade to the next candidate, resuming from the
			// last committed cursor with its replay window applied.
			activeCursor = lastCursor
			if err != nil {
				log.Warn().Str("provider", cand.Name()).Err(err).Msg("stream batch failed, cascading to next candidate")
			}
		}
	}()

	return out, errc
}

// nextResumableCandidate returns the first untried candidate that can
// resume cur (or any candidate, if cur is nil).
func (e *Engine) nextResumableCandidate(cands []provider.Client, cur *model.Cursor, tried map[string]bool) provider.Client {
	for _, c := range cands {
		if tried[c.Name()] {
			continue
		}
		if cur == nil {
			return c
		}
		if cursor.CanResume(*cur, c.Name(), c.Metadata().Capabilities.SupportedCursorTypes) {
			return c
		}
	}
	return nil
}

// drainCandidate reads batches from one candidate's stream until it
// completes or errors, applying dedup and forwarding to out. Batches the
// candidate sent before its error are still forwarded; the error is returned
// once its batch channel closes. It returns the last committed cursor (for
// cascading) and whether the stream completed.
func (e *Engine) drainCandidate(ctx context.Context, cand provider.Client, opts StreamOptions, resumeCursor *model.Cursor, dedup *seenSet, out chan<- StreamBatch) (*model.Cursor, bool, error) {
	batches, errc := cand.ExecuteStreaming(ctx, opts.Op, opts.Params, resumeCursor)
	var lastCursor *model.Cursor
	if resumeCursor != nil {
		c := *resumeCursor
		lastCursor = &c
	}
	var pendingErr error

	for {
		select {
		case b, ok := <-batches:
			if !ok {
				if pendingErr != nil {
					return lastCursor, false, pendingErr
				}
				return lastCursor, false, drainErr(errc)
			}
			filtered := make([]model.RawRecord, 0, len(b.Data))
			for _, r := range b.Data {
				if r.EventID != "" && dedup.seenOrAdd(r.EventID) {
					continue
				}
				filtered = append(filtered, r)
			}
			// Completion batches are always forwarded, even empty, per
			// spec.md 4.3 step 3: it is the sole end-of-stream signal.
			if len(filtered) > 0 || b.IsComplete {
				c := b.Cursor
				c.Primary.ProviderName = cand.Name()
				select {
				case out <- StreamBatch{Data: filtered, Cursor: c, IsComplete: b.IsComplete, Fetched: len(b.Data), Yielded: len(filtered), Provider: cand.Name()}:
				case <-ctx.Done():
					return lastCursor, false, ctx.Err()
				}
				lastCursor = &c
			}
			if b.IsComplete {
				return lastCursor, true, nil
			}
		case err, ok := <-errc:
			errc = nil
			if ok && err != nil {
				pendingErr = err
			}
		case <-ctx.Done():
			return lastCursor, false, ctx.Err()
		}
	}
}

func drainErr(errc <-chan error) error {
	select {
	case err := <-errc:
		return err
	default:
		return nil
	}
}
