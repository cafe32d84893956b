// Package remote is the HTTP client for the sync service. Every call takes
// its bearer token from a security.TokenSource and every failure comes back
// as a classified *Error; nothing here panics on bad input from the wire.
package remote

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/clawinfra/evosync/internal/queue"
	"github.com/clawinfra/evosync/internal/security"
)

const maxErrorBody = 512

// Client talks to the remote sync endpoints.
type Client struct {
	baseURL    string
	tokens     security.TokenSource
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithMaxRetries sets how many tries one call gets for transport failures.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithBaseDelay sets the first backoff delay; later ones double.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.baseDelay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, tokens security.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "remote")
	return c
}

// SyncItem submits one queue item.
func (c *Client) SyncItem(ctx context.Context, it queue.Item) error {
	payload := PayloadFor(it)
	header := http.Header{}
	header.Set("Idempotency-Key", IdempotencyKey(it))
	return c.do(ctx, "sync item", http.MethodPost, "/sync/queue", header, payload, nil)
}

// ProcessPending asks the remote to process what it has accepted so far.
func (c *Client) ProcessPending(ctx context.Context) (ProcessResult, error) {
	var res ProcessResult
	err := c.do(ctx, "process pending", http.MethodPost, "/sync/process", nil, nil, &res)
	return res, err
}

// Stats returns the remote queue counters.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := c.do(ctx, "stats", http.MethodGet, "/sync/stats", nil, nil, &st)
	return st, err
}

// RetryItem asks the remote to retry one of its own items.
func (c *Client) RetryItem(ctx context.Context, id string) error {
	path := "/sync/queue/" + url.PathEscape(id) + "/retry"
	return c.do(ctx, "retry item", http.MethodPost, path, nil, nil, nil)
}

// RetryAllFailed asks the remote to retry every failed item.
func (c *Client) RetryAllFailed(ctx context.Context) (int, error) {
	var res countResponse
	err := c.do(ctx, "retry failed", http.MethodPost, "/sync/retry-failed", nil, nil, &res)
	return res.Count, err
}

// ClearCompleted deletes completed items on the remote.
func (c *Client) ClearCompleted(ctx context.Context) (int, error) {
	var res countResponse
	err := c.do(ctx, "clear completed", http.MethodDelete, "/sync/completed", nil, nil, &res)
	return res.Count, err
}

// Queue lists remote items, optionally filtered by status.
func (c *Client) Queue(ctx context.Context, status queue.Status) ([]Item, error) {
	path := "/sync/queue"
	if status != "" {
		path += "?" + url.Values{"status": {string(status)}}.Encode()
	}
	var items []Item
	if err := c.do(ctx, "queue", http.MethodGet, path, nil, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// IdempotencyKey derives a stable key from an item's content, so the remote
// can drop a resubmission of the same mutation.
func IdempotencyKey(it queue.Item) string {
	h, _ := blake2b.New256(nil)
	for _, part := range []string{
		it.TableName,
		it.RecordID,
		string(it.Operation),
		it.CreatedAt.UTC().Format(time.RFC3339Nano),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write(it.Data)
	return hex.EncodeToString(h.Sum(nil))
}

// do runs one call with retry and exponential backoff on transport failures.
func (c *Client) do(ctx context.Context, op, method, path string, header http.Header, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return &Error{Kind: KindApplication, Op: op, Message: "marshal request", Err: err}
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay << (attempt - 1)
			c.logger.Debug("retrying remote request",
				"op", op,
				"attempt", attempt+1,
				"delay", delay)

			select {
			case <-ctx.Done():
				return &Error{Kind: KindTransport, Op: op, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		err := c.doOnce(ctx, op, method, path, header, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if KindOf(err) != KindTransport {
			return err
		}
		c.logger.Warn("remote request failed",
			"op", op,
			"attempt", attempt+1,
			"error", err)
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, op, method, path string, header http.Header, body []byte, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return &Error{Kind: KindAuth, Op: op, Err: err}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Kind: KindApplication, Op: op, Message: "create request", Err: err}
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindTransport, Op: op, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindTransport, Op: op, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{
			Kind:       classifyStatus(resp.StatusCode),
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, respBody),
		}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Kind: KindApplication, Op: op, StatusCode: resp.StatusCode, Message: "parse response", Err: err}
	}
	return nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", security.ErrMissingToken
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	if tok == "" {
		return "", security.ErrMissingToken
	}
	return tok, nil
}

// errorMessage pulls a human message out of an error response body.
func errorMessage(code int, body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		if er.Error != "" {
			return er.Error
		}
		if er.Message != "" {
			return er.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return http.StatusText(code)
	}
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	return msg
}
