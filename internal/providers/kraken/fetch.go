package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jbelanger/exitbook/internal/providers/schema"
)

type ledgerPage struct {
	Rows     []LedgerRow `json:"ledger"`
	NextTime int64       `json:"next_time"`
	Done     bool        `json:"done"`
}

func (c *Client) fetchLedgerPage(ctx context.Context, sinceUnix int64) (ledgerPage, error) {
	path := fmt.Sprintf("/0/private/Ledgers?start=%d", sinceUnix)
	var headers map[string]string
	if c.signer != nil {
		h, err := c.signer.Sign(path, nil)
		if err != nil {
			return ledgerPage{}, fmt.Errorf("kraken: sign request: %w", err)
		}
		headers = h
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return ledgerPage{}, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ledgerPage{}, fmt.Errorf("kraken: request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ledgerPage{}, fmt.Errorf("kraken: read body: %w", err)
	}
	if resp.StatusCode >= 500 {
		return ledgerPage{}, fmt.Errorf("kraken: server error %d", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return ledgerPage{}, fmt.Errorf("kraken: rate limited (429)")
	}
	if resp.StatusCode >= 400 {
		return ledgerPage{}, fmt.Errorf("kraken: client error %d", resp.StatusCode)
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return ledgerPage{}, fmt.Errorf("kraken: decode ledger page: %w", err)
	}
	if rows, ok := decoded["ledger"].([]any); ok {
		for _, row := range rows {
			m, _ := row.(map[string]any)
			if err := schema.Validate(m, ledgerSchema); err != nil {
				return ledgerPage{}, err
			}
		}
	}

	var page ledgerPage
	if err := json.Unmarshal(body, &page); err != nil {
		return ledgerPage{}, err
	}
	return page, nil
}
