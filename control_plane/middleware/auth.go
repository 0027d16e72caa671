package middleware

import (
	"crypto/hmac"
	"encoding/json"
	"log"
	"net/http"

	"github.com/itskum47/FleetForge/control_plane/redirect"
)

// ClusterAuthMiddleware guards node-to-node endpoints with the shared cluster token.
// An empty token disables the check (single-node and dev setups).
func ClusterAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			got := r.Header.Get(redirect.TokenHeader)

			// STRICT: Fail fast if missing
			if got == "" {
				writeUnauthorized(w, "missing cluster token")
				return
			}
			if !hmac.Equal([]byte(got), []byte(token)) {
				log.Printf("[AUTH] Rejected internal call from %s (request %s): bad cluster token",
					r.RemoteAddr, r.Header.Get(redirect.RequestIDHeader))
				writeUnauthorized(w, "invalid cluster token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(redirect.InvokeResponse{Code: "unauthorized", Error: msg})
}
