package elevenlabs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/ashureev/onboarding-voice/internal/testutil"
)

func apiKeyForVCR() string {
	if key := os.Getenv("ELEVENLABS_API_KEY"); key != "" {
		return key
	}
	return "test-key"
}

func TestFetcherSignedURL(t *testing.T) {
	if os.Getenv("ELEVENLABS_API_KEY") == "" && testutil.Recording() {
		t.Skip("Skipping test: ELEVENLABS_API_KEY not set")
	}

	f := NewFetcher("", apiKeyForVCR(), "agent_onboarding_hr", WithHTTPClient(testutil.CassetteClient(t, "signed_url")))

	got, err := f.SignedURL(context.Background())
	if err != nil {
		t.Fatalf("SignedURL() error = %v", err)
	}
	if !strings.HasPrefix(got, "wss://") || !strings.Contains(got, "agent_id=agent_onboarding_hr") {
		t.Errorf("SignedURL() = %q", got)
	}
}

func TestFetcherUnauthorized(t *testing.T) {
	if testutil.Recording() {
		t.Skip("Skipping test: cassette is hand-maintained")
	}

	f := NewFetcher("", "bad-key", "agent_onboarding_hr", WithHTTPClient(testutil.CassetteClient(t, "signed_url_unauthorized")))

	_, err := f.SignedURL(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", apiErr.StatusCode)
	}
}

func TestFetcherNotConfigured(t *testing.T) {
	t.Parallel()

	for _, f := range []*Fetcher{
		NewFetcher("", "", "agent"),
		NewFetcher("", "key", ""),
	} {
		if _, err := f.SignedURL(context.Background()); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("error = %v, want ErrNotConfigured", err)
		}
	}
}

func TestFetcherSendsKeyAndAgent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/convai/conversation/get-signed-url" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("agent_id") != "a1" {
			t.Errorf("agent_id = %q", r.URL.Query().Get("agent_id"))
		}
		if r.Header.Get("xi-api-key") != "secret" {
			t.Errorf("xi-api-key = %q", r.Header.Get("xi-api-key"))
		}
		_, _ = w.Write([]byte(`{"signed_url":"wss://example/convai?sig=1"}`))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, "secret", "a1", WithHTTPClient(srv.Client()))
	got, err := f.SignedURL(context.Background())
	if err != nil {
		t.Fatalf("SignedURL() error = %v", err)
	}
	if got != "wss://example/convai?sig=1" {
		t.Errorf("SignedURL() = %q", got)
	}
}

func TestFetcherUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, "secret", "a1", WithHTTPClient(srv.Client()))
	if _, err := f.SignedURL(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}

	srv.Close()
	if _, err := f.SignedURL(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable after server stopped", err)
	}
}
