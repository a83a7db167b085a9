package backend

import (
	"context"
	"net/http"
)

type contextKey int

const authorizationKey contextKey = iota

// WithAuthorization returns a context whose backend requests carry the given
// Authorization header. HR endpoints use it to act as the calling user.
func WithAuthorization(ctx context.Context, header string) context.Context {
	return context.WithValue(ctx, authorizationKey, header)
}

// AuthorizationFromContext extracts the forwarded Authorization header.
func AuthorizationFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(authorizationKey).(string); ok {
		return v
	}
	return ""
}

// UserInfo is returned by GET /auth/me.
type UserInfo struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FullName   string `json:"full_name"`
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
}

// CurrentUser resolves the HR user behind the forwarded Authorization header.
func (c *Client) CurrentUser(ctx context.Context) (*UserInfo, error) {
	var out UserInfo
	if err := c.do(ctx, "current user", http.MethodGet, "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
