// Package http provides the JSON HTTP API of the menu service: account
// registration and approval, login, and the public menu.
package http

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/qrmenu/internal/middleware"
	"github.com/atinyakov/qrmenu/internal/service"
)

// UserService defines the account operations required by UsersHandler.
type UserService interface {
	Register(ctx context.Context, tenant, username, password string) (string, error)
	Approve(ctx context.Context, tenant, username string) (string, bool, error)
	Reject(ctx context.Context, tenant, username string) (string, bool, error)
	DeleteUser(ctx context.Context, tenant, username string) (string, bool, error)
	SetPassword(ctx context.Context, tenant, username, password string) (string, error)
	ChangePassword(ctx context.Context, tenant, username, current, next string) (string, error)
	Login(ctx context.Context, tenant, username, password string) (string, error)
	ListUsers(ctx context.Context, tenant string) (*service.UserList, error)
	Migrate(ctx context.Context, tenant string) (*service.MigrationResult, error)
}

// SelfTest reports which store settings are present, for GET /api/users?mode=selftest.
type SelfTest struct {
	GitHubOwner bool
	GitHubRepo  bool
	GitHubToken bool
}

// UsersHandler serves the /api/users* endpoints.
type UsersHandler struct {
	Users       UserService
	AdminSecret string
	SelfTest    SelfTest
	Log         *zap.Logger
}

// userRequest is the body accepted by every /api/users-* endpoint.
type userRequest struct {
	Tenant          string `json:"tenant"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	CurrentPassword string `json:"currentPassword"`
}

func (h *UsersHandler) decode(w http.ResponseWriter, r *http.Request) (userRequest, string, bool) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidJSON, nil)
		return req, "", false
	}
	return req, tenantFor(r, req.Tenant), true
}

// Register files a registration request.
func (h *UsersHandler) Register(w http.ResponseWriter, r *http.Request) {
	req, t, ok := h.decode(w, r)
	if !ok {
		return
	}
	u, err := h.Users.Register(r.Context(), t, req.Username, req.Password)
	if err != nil {
		writeServiceError(w, r, h.Log, err, KindStoreUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "pendingUser": u, "tenant": t})
}

// Approve grants a pending user access. A failing write is reported as
// approve-failed with the step that failed; the call can be repeated.
func (h *UsersHandler) Approve(w http.ResponseWriter, r *http.Request) {
	req, t, ok := h.decode(w, r)
	if !ok {
		return
	}
	u, changed, err := h.Users.Approve(r.Context(), t, req.Username)
	if err != nil {
		writeServiceError(w, r, h.Log, err, KindStoreUnavailable)
		return
	}
	writeChanged(w, t, u, changed)
}

// Reject drops a pending registration.
func (h *UsersHandler) Reject(w http.ResponseWriter, r *http.Request) {
	req, t, ok := h.decode(w, r)
	if !ok {
		return
	}
	u, changed, err := h.Users.Reject(r.Context(), t, req.Username)
	if err != nil {
		writeServiceError(w, r, h.Log, err, KindStoreUnavailable)
		return
	}
	writeChanged(w, t, u, changed)
}

// Delete removes an approved user.
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	req, t, ok := h.decode(w, r)
	if !ok {
		return
	}
	u, changed, err := h.Users.DeleteUser(r.Context(), t, req.Username)
	if err != nil {
		writeServiceError(w, r, h.Log, err, KindStoreUnavailable)
		return
	}
	writeChanged(w, t, u, changed)
}

func writeChanged(w http.ResponseWriter, tenant, username string, changed bool) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"tenant":   tenant,
		"username": username,
		"changed":  changed,
	})
}

// SetPassword resets a password with the admin secret, or changes it when
// the body proves the current password.
func (h *UsersHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	req, t, ok := h.decode(w, r)
	if !ok {
		return
	}

	var (
		u   string
		err error
	)
	switch {
	case middleware.IsAdmin(r, h.AdminSecret):
		u, err = h.Users.SetPassword(r.Context(), t, req.Username, req.Password)
	case req.CurrentPassword != "":
		u, err = h.Users.ChangePassword(r.Context(), t, req.Username, req.CurrentPassword, req.Password)
	default:
		writeError(w, http.StatusUnauthorized, KindUnauthorized, nil)
		return
	}
	if err != nil {
		writeServiceError(w, r, h.Log, err, KindStoreUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tenant": t, "username": u})
}

// Login checks a user's credentials.
func (h *UsersHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, t, ok := h.decode(w, r)
	if !ok {
		return
	}
	u, err := h.Users.Login(r.Context(), t, req.Username, req.Password)
	if err != nil {
		writeServiceError(w, r, h.Log, err, KindStoreUnavailable)
		return
	}
	h.Log.Info("login", zap.String("tenant", t), zap.String("username", u))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "username": u, "tenant": t})
}

// List returns approved and pending usernames. With the admin secret the
// response also names the users that have a password.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	t := middleware.TenantFromContext(r.Context())
	admin := middleware.IsAdmin(r, h.AdminSecret)

	body := map[string]any{"ok": true, "tenant": t}
	if r.URL.Query().Get("mode") == "selftest" {
		body["selftest"] = map[string]any{
			"hasSecret": admin,
			"keys": map[string]bool{
				"GITHUB_OWNER_present": h.SelfTest.GitHubOwner,
				"GITHUB_REPO_present":  h.SelfTest.GitHubRepo,
				"GITHUB_TOKEN_present": h.SelfTest.GitHubToken,
			},
			"tenant": t,
		}
	}

	list, err := h.Users.ListUsers(r.Context(), t)
	if err != nil {
		writeServiceError(w, r, h.Log, err, KindStoreUnavailable)
		return
	}
	body["allowed"] = list.Allowed
	body["pending"] = list.Pending
	if admin {
		body["passwords"] = list.WithPassword
	}
	writeJSON(w, http.StatusOK, body)
}

// Migrate moves a legacy users.json to the split layout.
func (h *UsersHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, KindInvalidJSON, nil)
			return
		}
	}
	t := tenantFor(r, req.Tenant)
	res, err := h.Users.Migrate(r.Context(), t)
	var step *service.StepError
	if errors.As(err, &step) {
		h.Log.Warn("migration failed", zap.String("tenant", t), zap.String("step", step.Step), zap.Error(err))
		writeError(w, http.StatusInternalServerError, KindMigrateFailed, map[string]any{"step": step.Step})
		return
	}
	if err != nil {
		writeServiceError(w, r, h.Log, err, KindStoreUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"tenant":    t,
		"migrated":  res.Migrated,
		"passwords": res.Passwords,
		"pending":   res.Pending,
	})
}
