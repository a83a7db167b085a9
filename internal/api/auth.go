package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/onboarding-voice/internal/backend"
)

// Authenticator resolves the HR user behind a forwarded bearer token.
type Authenticator interface {
	CurrentUser(ctx context.Context) (*backend.UserInfo, error)
}

// RequireHR rejects requests without a bearer token the backend accepts. The
// Authorization header is forwarded on every backend call made with the
// request context.
func RequireHR(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				Error(w, http.StatusUnauthorized, "Not authenticated")
				return
			}

			ctx := backend.WithAuthorization(r.Context(), header)
			user, err := auth.CurrentUser(ctx)
			if err != nil {
				if isAuthRejection(err) {
					w.Header().Set("WWW-Authenticate", "Bearer")
					Error(w, http.StatusUnauthorized, "Invalid or expired token")
					return
				}
				slog.Error("Failed to verify HR credentials", "error", err)
				Error(w, http.StatusBadGateway, "Failed to verify credentials")
				return
			}

			slog.Debug("HR request authorized", "user_id", user.ID, "path", r.URL.Path)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isAuthRejection(err error) bool {
	var statusErr *backend.StatusError
	return errors.As(err, &statusErr) &&
		(statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden)
}
