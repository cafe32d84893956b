package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clawinfra/evosync/internal/cloudsync"
	"github.com/clawinfra/evosync/internal/queue"
)

// Client talks to a running daemon's local API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient creates a client for the daemon at base (e.g. http://localhost:8421).
func NewClient(base, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

// StatusError is a non-2xx response from the daemon.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

// Do sends in (if non-nil) as JSON and decodes the response into out (if
// non-nil). The raw body is returned either way.
func (c *Client) Do(ctx context.Context, method, path string, in, out interface{}) ([]byte, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reach daemon at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8*maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return raw, &StatusError{Status: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, fmt.Errorf("decode response: %w", err)
		}
	}
	return raw, nil
}

// Status fetches GET /api/status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var st StatusResponse
	_, err := c.Do(ctx, http.MethodGet, "/api/status", nil, &st)
	return st, err
}

// Items lists the local queue, optionally filtered by status.
func (c *Client) Items(ctx context.Context, status queue.Status) ([]queue.Item, error) {
	path := "/api/queue"
	if status != "" {
		path += "?" + url.Values{"status": {string(status)}}.Encode()
	}
	var resp struct {
		Items []queue.Item `json:"items"`
	}
	_, err := c.Do(ctx, http.MethodGet, path, nil, &resp)
	return resp.Items, err
}

// Sync triggers POST /api/sync.
func (c *Client) Sync(ctx context.Context) (cloudsync.Result, error) {
	var res cloudsync.Result
	_, err := c.Do(ctx, http.MethodPost, "/api/sync", nil, &res)
	return res, err
}

// Retry triggers POST /api/sync/retry.
func (c *Client) Retry(ctx context.Context) (int, cloudsync.Result, error) {
	var resp struct {
		Reset  int              `json:"reset"`
		Result cloudsync.Result `json:"result"`
	}
	_, err := c.Do(ctx, http.MethodPost, "/api/sync/retry", nil, &resp)
	return resp.Reset, resp.Result, err
}

// Clear triggers POST /api/sync/clear.
func (c *Client) Clear(ctx context.Context) (int, error) {
	var resp map[string]int
	_, err := c.Do(ctx, http.MethodPost, "/api/sync/clear", nil, &resp)
	return resp["removed"], err
}

// SetAutoSync toggles auto sync and returns the resulting state.
func (c *Client) SetAutoSync(ctx context.Context, enabled bool) (bool, error) {
	var resp map[string]bool
	_, err := c.Do(ctx, http.MethodPut, "/api/sync/auto", map[string]bool{"enabled": enabled}, &resp)
	return resp["enabled"], err
}
