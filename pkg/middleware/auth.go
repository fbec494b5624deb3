package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/quotagate/pkg/contextkeys"
	"github.com/platinummonkey/quotagate/pkg/httputil"
)

// TokenAuthenticator resolves an access token to a user ID
type TokenAuthenticator interface {
	Authenticate(token string) (int64, error)
}

// AuthMiddleware provides bearer token authentication
type AuthMiddleware struct {
	tokens   TokenAuthenticator
	optional bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens TokenAuthenticator, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:   tokens,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication. The authenticated user ID
// is stored in the request context.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "Not authenticated")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			httputil.WriteUnauthorized(w, "Not authenticated")
			return
		}

		userID, err := m.tokens.Authenticate(strings.TrimSpace(token))
		if err != nil {
			httputil.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx := contextkeys.WithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the authenticated user ID stored by AuthMiddleware
func UserID(r *http.Request) (int64, bool) {
	return contextkeys.GetUserID(r.Context())
}
