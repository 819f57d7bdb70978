// Package middleware provides HTTP middlewares for admin authentication,
// tenant resolution, request logging and rate limiting.
package middleware

import (
	"encoding/json"
	"net/http"
)

type ctxKey string

const tenantKey ctxKey = "tenant"

// writeError answers with the JSON error envelope used by every endpoint.
func writeError(w http.ResponseWriter, status int, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": kind})
}
