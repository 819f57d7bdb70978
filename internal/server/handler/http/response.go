package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/qrmenu/internal/middleware"
	"github.com/atinyakov/qrmenu/internal/repository"
	"github.com/atinyakov/qrmenu/internal/service"
	"github.com/atinyakov/qrmenu/internal/tenant"
)

// Error kinds reported in the "error" field of a failed response.
const (
	KindInvalidJSON         = "invalid-json"
	KindInvalid             = "invalid"
	KindWeakPassword        = "weak-password"
	KindBadRequest          = "bad-request"
	KindNoAdminDelete       = "no-admin-delete"
	KindUnauthorized        = "unauthorized"
	KindNoPassword          = "no-password"
	KindInvalidPassword     = "invalid-password"
	KindNotAllowed          = "not-allowed"
	KindNotPending          = "not-pending"
	KindExists              = "exists"
	KindPending             = "pending"
	KindConflict            = "conflict"
	KindMissingGitHubConfig = "missing-github-config"
	KindGitHubError         = "github-error"
	KindApproveFailed       = "approve-failed"
	KindMigrateFailed       = "migrate-failed"
	KindStoreUnavailable    = "store-unavailable"
	KindInternal            = "internal"
	KindNotFound            = "not-found"
	KindMethodNotAllowed    = "method-not-allowed"
)

type errorResponse struct {
	OK      bool           `json:"ok"`
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind string, details map[string]any) {
	writeJSON(w, status, errorResponse{OK: false, Error: kind, Details: details})
}

var businessErrors = []struct {
	err    error
	status int
	kind   string
}{
	{service.ErrInvalid, http.StatusBadRequest, KindInvalid},
	{service.ErrWeakPassword, http.StatusBadRequest, KindWeakPassword},
	{service.ErrInvalidMenu, http.StatusBadRequest, KindBadRequest},
	{service.ErrAdminDelete, http.StatusBadRequest, KindNoAdminDelete},
	{service.ErrUnauthorized, http.StatusUnauthorized, KindUnauthorized},
	{service.ErrNoPassword, http.StatusUnauthorized, KindNoPassword},
	{service.ErrInvalidPassword, http.StatusUnauthorized, KindInvalidPassword},
	{service.ErrNotAllowed, http.StatusForbidden, KindNotAllowed},
	{service.ErrNotPending, http.StatusNotFound, KindNotPending},
	{service.ErrExists, http.StatusConflict, KindExists},
	{service.ErrPending, http.StatusConflict, KindPending},
}

// writeServiceError maps err to a status and error kind. storeKind replaces
// store-unavailable for endpoints that report upstream failures differently.
// Details only ever carry step names and upstream status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error, storeKind string) {
	for _, be := range businessErrors {
		if errors.Is(err, be.err) {
			writeError(w, be.status, be.kind, nil)
			return
		}
	}

	details := map[string]any{}
	var se *repository.StatusError
	if errors.As(err, &se) {
		details["status"] = se.Status
	}

	log.Warn("request failed",
		zap.String("path", r.URL.Path),
		zap.String("tenant", middleware.TenantFromContext(r.Context())),
		zap.Error(err))

	var step *service.StepError
	switch {
	case errors.Is(err, repository.ErrMisconfigured):
		writeError(w, http.StatusInternalServerError, KindMissingGitHubConfig, nil)
	case errors.As(err, &step):
		details["step"] = step.Step
		writeError(w, http.StatusInternalServerError, KindApproveFailed, details)
	case errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, KindConflict, nilIfEmpty(details))
	case errors.Is(err, repository.ErrUnavailable):
		status := http.StatusBadGateway
		if storeKind == KindGitHubError {
			status = http.StatusInternalServerError
		}
		writeError(w, status, storeKind, nilIfEmpty(details))
	default:
		writeError(w, http.StatusInternalServerError, KindInternal, nil)
	}
}

func nilIfEmpty(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}

// decodeJSON reads the request body into v.
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// tenantFor prefers a tenant named in the request body over the one
// resolved from the query and host.
func tenantFor(r *http.Request, fromBody string) string {
	if t := tenant.Normalize(fromBody); t != "" {
		return t
	}
	return middleware.TenantFromContext(r.Context())
}
