package middleware

import (
	"crypto/subtle"
	"net/http"
)

// AdminSecretHeader carries the shared admin secret.
const AdminSecretHeader = "x-admin-secret"

// IsAdmin reports whether r carries the configured admin secret. An empty
// configured secret never matches.
func IsAdmin(r *http.Request, secret string) bool {
	if secret == "" {
		return false
	}
	got := r.Header.Get(AdminSecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

// AdminSecret rejects requests without the admin secret with 401.
func AdminSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsAdmin(r, secret) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
