package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth guards routes behind a static token. An empty token
// disables the check entirely, which is the default for local use.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
