package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/axolop/axolop-crm/internal/platform/httpx"
)

// PermissionsHandler exposes the capability catalog.
type PermissionsHandler struct{}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler() *PermissionsHandler {
	return &PermissionsHandler{}
}

// MountRoutes registers capability routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.listCapabilities)
}

func (h *PermissionsHandler) listCapabilities(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"capabilities": Catalog()})
}
