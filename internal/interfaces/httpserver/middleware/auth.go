package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/recallhq/recall-server/internal/domain/identity"
)

type principalKey struct{}

// AuthMiddleware resolves the bearer credential to a principal and
// binds it to the request context. Unauthenticated requests never reach
// a handler.
func AuthMiddleware(resolver identity.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth for health check and metrics
			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}

			principal, err := resolver.Resolve(r.Context(), parts[1])
			if err != nil {
				http.Error(w, "Invalid credentials", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated principal from context.
func GetPrincipal(ctx context.Context) (identity.Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(identity.Principal)
	return principal, ok
}
