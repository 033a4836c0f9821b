// Package middleware holds the HTTP middleware chain for the admin and
// executor surfaces: request metadata injection and bearer-token auth.
package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"rulegate/pkg/requestcontext"
)

// RequestMeta stamps each request with a request ID and a pinned request time
// so downstream services and audit entries share one clock reading.
func RequestMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = requestcontext.WithRequestID(ctx, requestID)
		ctx = requestcontext.WithTime(ctx, time.Now().UTC())

		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
