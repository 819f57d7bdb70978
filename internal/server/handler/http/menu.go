package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atinyakov/qrmenu/internal/middleware"
	"github.com/atinyakov/qrmenu/internal/models"
	"github.com/atinyakov/qrmenu/internal/tenant"
)

// MenuService defines the menu operations required by MenuHandler.
type MenuService interface {
	SaveMenu(ctx context.Context, tenant string, items []models.MenuItem) (string, error)
	GetMenu(ctx context.Context, tenant string) ([]models.MenuItem, error)
}

// MenuHandler serves saving and reading the public menu.
type MenuHandler struct {
	Menus MenuService
	Log   *zap.Logger
}

// SaveMenuRequest is the body of POST /api/save-menu.
type SaveMenuRequest struct {
	Tenant string            `json:"tenant"`
	Items  []models.MenuItem `json:"items"`
}

// Save replaces the tenant's menu.
func (h *MenuHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req SaveMenuRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, KindBadRequest, nil)
		return
	}
	path, err := h.Menus.SaveMenu(r.Context(), tenantFor(r, req.Tenant), req.Items)
	if err != nil {
		writeServiceError(w, r, h.Log, err, KindGitHubError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "path": path})
}

// Get returns the menu of the request's tenant as a JSON array.
func (h *MenuHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, middleware.TenantFromContext(r.Context()))
}

// GetFile serves /menus/{tenant}.json, the path the SPA reads.
func (h *MenuHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutSuffix(chi.URLParam(r, "file"), ".json")
	t := tenant.Normalize(name)
	if !ok || t == "" {
		writeError(w, http.StatusNotFound, KindNotFound, nil)
		return
	}
	h.serve(w, r, t)
}

func (h *MenuHandler) serve(w http.ResponseWriter, r *http.Request, t string) {
	items, err := h.Menus.GetMenu(r.Context(), t)
	if err != nil {
		writeServiceError(w, r, h.Log, err, KindStoreUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// Health reports that the server is up.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
