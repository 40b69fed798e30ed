package evmrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jbelanger/exitbook/internal/providers/schema"
)

func (c *Client) fetchNativeBalance(ctx context.Context, address string) (string, error) {
	raw, err := c.get(ctx, fmt.Sprintf("%s/address/%s/balance", c.baseURL, address))
	if err != nil {
		return "", err
	}
	var decoded struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("evmrpc: decode balance: %w", err)
	}
	return decoded.Balance, nil
}

func (c *Client) fetchTokenBalances(ctx context.Context, address string) (map[string]string, error) {
	raw, err := c.get(ctx, fmt.Sprintf("%s/address/%s/tokenbalances", c.baseURL, address))
	if err != nil {
		return nil, err
	}
	var decoded map[string]string
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("evmrpc: decode token balances: %w", err)
	}
	return decoded, nil
}

func (c *Client) fetchHasTransactions(ctx context.Context, address string) (bool, error) {
	raw, err := c.get(ctx, fmt.Sprintf("%s/address/%s/txcount", c.baseURL, address))
	if err != nil {
		return false, err
	}
	var decoded struct {
		Count int `json:"tx_count"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return false, fmt.Errorf("evmrpc: decode txcount: %w", err)
	}
	return decoded.Count > 0, nil
}

type streamPage struct {
	Transfers []Transfer `json:"transfers"`
	NextBlock uint64     `json:"next_block"`
	Done      bool       `json:"done"`
}

var transferSchema = []schema.Rule{
	{Path: "tx_hash", Required: true},
	{Path: "block_height", Required: true},
	{Path: "from", Required: true},
	{Path: "to", Required: true},
}

func (c *Client) fetchStreamPage(ctx context.Context, address, streamType string, fromBlock uint64) (streamPage, error) {
	raw, err := c.get(ctx, fmt.Sprintf("%s/address/%s/transfers/%s?from_block=%d", c.baseURL, address, streamType, fromBlock))
	if err != nil {
		return streamPage{}, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return streamPage{}, fmt.Errorf("evmrpc: decode %s page: %w", streamType, err)
	}
	if transfers, ok := decoded["transfers"].([]any); ok {
		for _, t := range transfers {
			m, _ := t.(map[string]any)
			if err := schema.Validate(m, transferSchema); err != nil {
				return streamPage{}, err
			}
		}
	}
	var page streamPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return streamPage{}, err
	}
	for i := range page.Transfers {
		page.Transfers[i].StreamType = streamType
	}
	return page, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("evmrpc: request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("evmrpc: read body: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("evmrpc: server error %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("evmrpc: client error %d", resp.StatusCode)
	}
	return body, nil
}
