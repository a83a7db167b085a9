package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ProxyClient asks the same-origin signed URL proxy for a URL. It is the
// voice controller's SignedURLSource; the API key stays with the proxy.
type ProxyClient struct {
	endpoint string
	http     *http.Client
}

// NewProxyClient creates a client for the proxy at endpoint.
func NewProxyClient(endpoint string, hc *http.Client) *ProxyClient {
	if hc == nil {
		hc = &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &ProxyClient{endpoint: endpoint, http: hc}
}

// SignedURL returns the proxy's signed URL. Any non-2xx answer is an error
// carrying the proxy's error message.
func (p *ProxyClient) SignedURL(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("signed url proxy: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("signed url proxy: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var body struct {
		SignedURL string `json:"signed_url"`
		Error     string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("signed url proxy: read body: %w", err)
	}
	_ = json.Unmarshal(data, &body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(body.Error)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("signed url proxy: status %d: %s", resp.StatusCode, msg)
	}
	if body.SignedURL == "" {
		return "", errors.New("signed url proxy: response missing signed_url")
	}
	return body.SignedURL, nil
}
