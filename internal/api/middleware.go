package api

import (
	"context"
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey int

const keySourceKey ctxKey = iota

// Where an accepted API key came from; recorded on submitted jobs.
const (
	KeySourceHeader = "x-api-key"
	KeySourceBearer = "bearer"
)

// APIKeyAuth is middleware that validates requests against a backend API key.
// It checks the X-API-Key header first, then falls back to Authorization: Bearer <key>.
// Accepted requests carry the key source in their context.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, source := r.Header.Get("X-API-Key"), KeySourceHeader

			if key == "" {
				authHeader := r.Header.Get("Authorization")
				if strings.HasPrefix(authHeader, "Bearer ") {
					key, source = strings.TrimPrefix(authHeader, "Bearer "), KeySourceBearer
				}
			}

			if key == "" {
				log.Printf("[API] %s %s rejected: no API key (request %s)", r.Method, r.URL.Path, middleware.GetReqID(r.Context()))
				respondJSON(w, http.StatusUnauthorized, map[string]string{
					"error": "Missing API key. Provide X-API-Key header or Authorization: Bearer <key>",
				})
				return
			}

			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
				log.Printf("[API] %s %s rejected: invalid %s key (request %s)", r.Method, r.URL.Path, source, middleware.GetReqID(r.Context()))
				respondJSON(w, http.StatusForbidden, map[string]string{
					"error": "Invalid API key",
				})
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), keySourceKey, source)))
		})
	}
}

// KeySource returns how the request authenticated, or "" when auth is disabled.
func KeySource(ctx context.Context) string {
	source, _ := ctx.Value(keySourceKey).(string)
	return source
}
