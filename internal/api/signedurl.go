package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ashureev/onboarding-voice/internal/elevenlabs"
	"github.com/go-chi/chi/v5"
)

// SignedURLFetcher obtains a signed conversation URL with the server's key.
type SignedURLFetcher interface {
	SignedURL(ctx context.Context) (string, error)
}

// SignedURLHandler is the same-origin proxy that keeps the ElevenLabs API key
// off the browser.
type SignedURLHandler struct {
	fetcher SignedURLFetcher
	limiter *RateLimiter
}

// NewSignedURLHandler creates the proxy. limiter may be nil.
func NewSignedURLHandler(fetcher SignedURLFetcher, limiter *RateLimiter) *SignedURLHandler {
	return &SignedURLHandler{fetcher: fetcher, limiter: limiter}
}

// RegisterRoutes registers the signed URL route.
func (h *SignedURLHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/elevenlabs/signed-url", h.SignedURL)
}

// SignedURL returns {"signed_url": ...} or a 500/502 with {"error": ...}.
func (h *SignedURLHandler) SignedURL(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow(clientIP(r)) {
		Error(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	signedURL, err := h.fetcher.SignedURL(r.Context())
	if err != nil {
		var apiErr *elevenlabs.APIError
		switch {
		case errors.Is(err, elevenlabs.ErrNotConfigured):
			Error(w, http.StatusInternalServerError, "ElevenLabs not configured")
		case errors.As(err, &apiErr):
			Error(w, http.StatusBadGateway, fmt.Sprintf("ElevenLabs API error: %d", apiErr.StatusCode))
		default:
			slog.Error("ElevenLabs signed URL error", "error", err)
			Error(w, http.StatusBadGateway, "Failed to contact ElevenLabs")
		}
		return
	}

	JSON(w, http.StatusOK, map[string]string{"signed_url": signedURL})
}
