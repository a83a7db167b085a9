// Package elevenlabs talks to the ElevenLabs Conversational AI service: the
// signed URL REST endpoint and the realtime conversation WebSocket.
package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultAPIBase is the public ElevenLabs REST API.
const DefaultAPIBase = "https://api.elevenlabs.io"

var (
	// ErrNotConfigured means the API key or agent id is missing.
	ErrNotConfigured = errors.New("elevenlabs not configured")
	// ErrUnavailable wraps transport and decoding failures.
	ErrUnavailable = errors.New("failed to contact elevenlabs")
)

// APIError is a non-2xx answer from ElevenLabs.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("elevenlabs api error: %d", e.StatusCode)
}

// Fetcher obtains signed conversation URLs with the server-side API key.
type Fetcher struct {
	apiBase string
	apiKey  string
	agentID string
	http    *http.Client
	logger  *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.http = hc
	}
}

// WithFetcherLogger sets the logger.
func WithFetcherLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// NewFetcher creates a Fetcher. apiBase defaults to DefaultAPIBase.
func NewFetcher(apiBase, apiKey, agentID string, opts ...FetcherOption) *Fetcher {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = DefaultAPIBase
	}
	f := &Fetcher{
		apiBase: strings.TrimRight(apiBase, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		agentID: strings.TrimSpace(agentID),
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Configured reports whether both the API key and agent id are set.
func (f *Fetcher) Configured() bool {
	return f.apiKey != "" && f.agentID != ""
}

// SignedURL returns a short-lived signed WebSocket URL for the agent.
func (f *Fetcher) SignedURL(ctx context.Context) (string, error) {
	if !f.Configured() {
		return "", ErrNotConfigured
	}

	endpoint := f.apiBase + "/v1/convai/conversation/get-signed-url?agent_id=" + url.QueryEscape(f.agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	req.Header.Set("xi-api-key", f.apiKey)

	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		f.logger.Error("ElevenLabs signed URL error", "status", resp.StatusCode, "body", strings.TrimSpace(string(body)))
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
	}
	return out.SignedURL, nil
}
