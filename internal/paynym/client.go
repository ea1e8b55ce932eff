package paynym

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is an authenticated client for the paynym directory REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("auth-token", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// Nym fetches a profile by payment code. The body is returned raw so the
// handler can cache and relay it without re-serialization.
func (c *Client) Nym(ctx context.Context, code string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodPost, "/nym", map[string]string{"nym": code})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("paynym Nym %s: status %d", code, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// BaseURL returns the configured API root (used by the reverse proxy).
func (c *Client) BaseURL() string { return c.baseURL }

// Token returns the API token (used by the reverse proxy to inject auth).
func (c *Client) Token() string { return c.token }
