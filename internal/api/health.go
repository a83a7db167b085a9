package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// Pinger verifies a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db              Pinger
	voiceConfigured bool
	liveVisits      func() int
}

// NewHealthHandler creates a health handler. db may be nil when the journal
// is disabled; liveVisits may be nil.
func NewHealthHandler(db Pinger, voiceConfigured bool, liveVisits func() int) *HealthHandler {
	return &HealthHandler{db: db, voiceConfigured: voiceConfigured, liveVisits: liveVisits}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			slog.Error("Health check failed", "error", err)
			status["status"] = "degraded"
			checks["database"] = "unreachable"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	if h.voiceConfigured {
		checks["elevenlabs"] = "configured"
	} else {
		checks["elevenlabs"] = "not_configured"
	}
	if h.liveVisits != nil {
		status["live_visits"] = h.liveVisits()
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
