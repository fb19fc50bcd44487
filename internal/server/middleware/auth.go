// Package middleware contains HTTP middleware for the rustci server.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"rustci/internal/auth"
	"rustci/pkg/api"
)

// BearerAuth rejects requests that do not carry "Authorization: Bearer <token>".
// An empty token disables authentication. token may be a clear token or
// "sha256:<hex>"; a malformed hash rejects every request.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		verifier, err := auth.NewVerifier(token)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if err != nil || !ok || !verifier.Verify(got) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="rustci"`)
				writeError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error: message,
		Code:  http.StatusText(code),
	})
}
