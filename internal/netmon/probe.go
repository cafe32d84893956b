package netmon

import (
	"context"
	"net/http"
	"time"
)

// HTTPProber treats any HTTP response from URL as proof of connectivity.
// Only transport failures (DNS, dial, TLS, timeout) count as offline.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// NewHTTPProber creates a prober with its own short-timeout client.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close() //nolint:errcheck
	return true
}
