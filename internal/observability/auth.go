package observability

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"rikapay/apps/gateway/internal/domain"
)

var publicPaths = map[string]bool{
	"/healthz": true,
	"/version": true,
}

// APIKey guards the API with a shared key. The key may be sent as X-API-Key,
// as a bearer token, or (for browser WebSocket clients that cannot set
// headers) as the api_key query parameter. An empty key disables the check.
func APIKey(requiredKey string) func(http.Handler) http.Handler {
	required := strings.TrimSpace(requiredKey)
	if required == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			if subtle.ConstantTimeCompare([]byte(presentedKey(r)), []byte(required)) != 1 {
				LoggerFromContext(r.Context()).Info("rejected request with missing or invalid api key")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(domain.APIErrorBody{Error: domain.APIError{
					Code:    "unauthorized",
					Message: "missing or invalid api key",
				}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func presentedKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if r.Header.Get("Upgrade") != "" {
		return strings.TrimSpace(r.URL.Query().Get("api_key"))
	}
	return ""
}
