package middleware

import (
	"context"
	"net/http"

	"github.com/atinyakov/qrmenu/internal/tenant"
)

// Tenant resolves the tenant of each request from the ?tenant= query
// parameter or the request host and stores it in the context.
func Tenant(resolver *tenant.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := r.Header.Get("X-Forwarded-Host")
			if host == "" {
				host = r.Host
			}
			t := resolver.Resolve(r.URL.Query().Get("tenant"), host)
			ctx := context.WithValue(r.Context(), tenantKey, t)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantFromContext returns the tenant stored by Tenant, or an empty string.
func TenantFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(tenantKey).(string); ok {
		return s
	}
	return ""
}
