// Package session validates join page session tokens.
package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/onboarding-voice/internal/backend"
	"github.com/ashureev/onboarding-voice/internal/domain"
)

// Authenticator is the subset of the backend client used for validation.
type Authenticator interface {
	ValidateSession(ctx context.Context, token string) (*backend.ValidateSessionResponse, error)
}

// Validator turns a session token into a domain.Session.
type Validator struct {
	auth   Authenticator
	logger *slog.Logger
}

// NewValidator creates a Validator.
func NewValidator(auth Authenticator, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{auth: auth, logger: logger}
}

// Validate makes a single validation call. Every failure yields an invalid
// session; it never returns an error so the page always has something to render.
func (v *Validator) Validate(ctx context.Context, token string) domain.Session {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.InvalidSession(token)
	}

	resp, err := v.auth.ValidateSession(ctx, token)
	if err != nil {
		v.logger.Warn("Session validation failed", "session_token", token, "error", err)
		return domain.InvalidSession(token)
	}
	if !resp.Valid || resp.NewHire == nil {
		v.logger.Info("Session token rejected", "session_token", token)
		return domain.InvalidSession(token)
	}

	s := domain.Session{
		SessionID:         token,
		Valid:             true,
		NewHireID:         resp.NewHire.ID,
		NewHireName:       resp.NewHire.FullName,
		PreferredLanguage: domain.ParseLanguage(resp.NewHire.PreferredLanguage),
		Status:            resp.NewHire.Status,
	}
	if resp.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil {
			s.ExpiresAt = t
		}
	}
	return s
}
