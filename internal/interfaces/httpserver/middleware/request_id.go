package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type requestIDKey struct{}

// requestID returns the caller's X-Request-ID when it is a valid UUID,
// otherwise a freshly minted one. Arbitrary caller strings are not
// trusted into logs.
func requestID(r *http.Request) string {
	header := r.Header.Get("X-Request-ID")
	if _, err := uuid.Parse(header); err == nil {
		return header
	}
	return uuid.NewString()
}

// RequestIDMiddleware tags every request with an ID, echoes it in the
// response header, and binds a logger carrying it to the context.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := requestID(r)

			logger := log.With().Str("request_id", id).Logger()
			ctx := logger.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRequestID extracts the request ID from context.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
