package bitcoinrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jbelanger/exitbook/internal/providers/schema"
)

type balanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

func (c *Client) fetchBalance(ctx context.Context, address string) (balanceResponse, error) {
	raw, err := c.get(ctx, fmt.Sprintf("%s/address/%s/balance", c.baseURL, address))
	if err != nil {
		return balanceResponse{}, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return balanceResponse{}, fmt.Errorf("bitcoinrpc: decode balance: %w", err)
	}
	if err := schema.Validate(decoded, []schema.Rule{{Path: "address", Required: true}, {Path: "balance", Required: true}}); err != nil {
		return balanceResponse{}, err
	}
	var out balanceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return balanceResponse{}, err
	}
	return out, nil
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
		return false, fmt.Errorf("bitcoinrpc: decode txcount: %w", err)
	}
	return decoded.Count > 0, nil
}

type blockTxPage struct {
	Txs       []NormalizedTx `json:"transactions"`
	NextBlock uint64         `json:"next_block"`
	Done      bool           `json:"done"`
}

func (c *Client) fetchTxPage(ctx context.Context, address string, fromBlock uint64) (blockTxPage, error) {
	raw, err := c.get(ctx, fmt.Sprintf("%s/address/%s/txs?from_block=%d", c.baseURL, address, fromBlock))
	if err != nil {
		return blockTxPage{}, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return blockTxPage{}, fmt.Errorf("bitcoinrpc: decode tx page: %w", err)
	}
	if txs, ok := decoded["transactions"].([]any); ok {
		for _, tx := range txs {
			m, _ := tx.(map[string]any)
			if err := schema.Validate(m, schemaRules); err != nil {
				return blockTxPage{}, err
			}
		}
	}
	var page blockTxPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return blockTxPage{}, err
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
		return nil, fmt.Errorf("bitcoinrpc: request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bitcoinrpc: read body: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("bitcoinrpc: server error %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("bitcoinrpc: client error %d", resp.StatusCode)
	}
	return body, nil
}
