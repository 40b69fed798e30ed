package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jbelanger/exitbook/internal/providers/schema"
)

type txPage struct {
	Rows     []TxRow `json:"transactions"`
	NextPage string  `json:"next_page"`
	Done     bool    `json:"done"`
}

func (c *Client) fetchTxPage(ctx context.Context, pageToken string) (txPage, error) {
	path := "/v2/accounts/transactions"
	if pageToken != "" {
		path += "?starting_after=" + pageToken
	}
	var headers map[string]string
	if c.signer != nil {
		h, err := c.signer.Sign(path, nil)
		if err != nil {
			return txPage{}, fmt.Errorf("coinbase: sign request: %w", err)
		}
		headers = h
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return txPage{}, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return txPage{}, fmt.Errorf("coinbase: request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return txPage{}, fmt.Errorf("coinbase: read body: %w", err)
	}
	if resp.StatusCode >= 500 {
		return txPage{}, fmt.Errorf("coinbase: server error %d", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return txPage{}, fmt.Errorf("coinbase: rate limited (429)")
	}
	if resp.StatusCode >= 400 {
		return txPage{}, fmt.Errorf("coinbase: client error %d", resp.StatusCode)
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return txPage{}, fmt.Errorf("coinbase: decode tx page: %w", err)
	}
	if rows, ok := decoded["transactions"].([]any); ok {
		for _, row := range rows {
			m, _ := row.(map[string]any)
			if err := schema.Validate(m, txSchema); err != nil {
				return txPage{}, err
			}
		}
	}

	var page txPage
	if err := json.Unmarshal(body, &page); err != nil {
		return txPage{}, err
	}
	return page, nil
}
