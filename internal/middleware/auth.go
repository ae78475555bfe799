package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/liamwears/reelstream/internal/auth"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// IdentityContextKey is the key for storing the caller identity in context
const IdentityContextKey ContextKey = "identity"

// Classifier resolves a bearer token into a caller identity
type Classifier interface {
	Classify(ctx context.Context, token string) (auth.Identity, error)
}

// AuthMiddleware attaches caller identities and enforces access levels
type AuthMiddleware struct {
	gate Classifier
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(gate Classifier) *AuthMiddleware {
	return &AuthMiddleware{gate: gate}
}

// Resolve attaches the caller identity when a valid token is present. It
// never rejects; a bad token on a public route is treated as anonymous.
func (m *AuthMiddleware) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.gate.Classify(r.Context(), extractBearerToken(r))
		if err != nil {
			id = auth.Anonymous()
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireLevel rejects callers below level with a JSON 401 or 403 before
// the wrapped handler runs.
func (m *AuthMiddleware) RequireLevel(level auth.Level) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := m.gate.Classify(r.Context(), extractBearerToken(r))
			if err == nil {
				err = auth.Authorize(id, level)
			}

			switch {
			case errors.Is(err, auth.ErrForbidden):
				writeJSONError(w, http.StatusForbidden, "Access denied. Admin only.")
				return
			case err != nil:
				writeJSONError(w, http.StatusUnauthorized, "Authentication required")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// WithIdentity returns a copy of ctx carrying id
func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, id)
}

// IdentityFromContext retrieves the caller identity from request context.
// Missing identities are anonymous.
func IdentityFromContext(ctx context.Context) auth.Identity {
	if id, ok := ctx.Value(IdentityContextKey).(auth.Identity); ok {
		return id
	}
	return auth.Anonymous()
}

// extractBearerToken pulls the token from "Authorization: Bearer <token>".
// Returns empty string if header is missing or malformed.
func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
