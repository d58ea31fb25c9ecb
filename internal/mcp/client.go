// Package mcp exposes the board to programmatic agents as MCP tools over
// stdio. The gateway is an adapter: every tool call turns into an HTTP
// request against a running taskforced, and every failure comes back as a
// textual error payload instead of a raw exception.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a minimal HTTP client for the taskforced API.
type Client struct {
	baseURL string
	key     string
	httpc   *http.Client
}

// NewClient targets the API at baseURL. key is the optional Bearer key.
func NewClient(baseURL, key string) *Client {
	return &Client{
		baseURL: baseURL,
		key:     key,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// call performs one API request and returns the raw response body.
// Non-2xx responses are returned as errors carrying the body text.
func (c *Client) call(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("mcp client: encode: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api"+path, body)
	if err != nil {
		return nil, fmt.Errorf("mcp client: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcp client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mcp client: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, raw)
	}
	return raw, nil
}
