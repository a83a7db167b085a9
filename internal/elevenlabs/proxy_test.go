package elevenlabs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestProxyClient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr string
	}{
		{name: "ok", status: http.StatusOK, body: `{"signed_url":"wss://x"}`, want: "wss://x"},
		{name: "not configured", status: http.StatusInternalServerError, body: `{"error":"ElevenLabs not configured"}`, wantErr: "ElevenLabs not configured"},
		{name: "upstream", status: http.StatusBadGateway, body: `{"error":"ElevenLabs API error: 401"}`, wantErr: "401"},
		{name: "missing url", status: http.StatusOK, body: `{}`, wantErr: "missing signed_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := NewProxyClient(srv.URL, srv.Client()).SignedURL(context.Background())
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SignedURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("SignedURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
