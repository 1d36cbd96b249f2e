package agency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/axolop/axolop-crm/internal/access"
	"github.com/axolop/axolop-crm/internal/platform/httpx"
	"github.com/axolop/axolop-crm/internal/rbac"
)

// AgencyService is the behaviour Handler needs from Service.
type AgencyService interface {
	Get(ctx context.Context, id uuid.UUID) (access.Agency, error)
	Rename(ctx context.Context, actor uuid.UUID, id uuid.UUID, in RenameInput) (access.Agency, error)
}

// Handler serves agency endpoints under an agency context.
type Handler struct {
	logger  *slog.Logger
	service AgencyService
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service AgencyService, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers agency routes. The router must already carry the
// access middleware so an agency context is present.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(rbac.CapAgencyView)).Get("/", h.show)
	r.With(h.rbac.RequireWrite()).Patch("/", h.rename)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	ac := access.AgencyFromContext(r.Context())
	if ac.Agency != nil {
		httpx.JSON(w, http.StatusOK, ac.Agency)
		return
	}
	agency, err := h.service.Get(r.Context(), ac.AgencyID)
	if err != nil {
		h.fail(w, "show agency", err)
		return
	}
	httpx.JSON(w, http.StatusOK, agency)
}

func (h *Handler) rename(w http.ResponseWriter, r *http.Request) {
	ac := access.AgencyFromContext(r.Context())
	var in RenameInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	agency, err := h.service.Rename(r.Context(), ac.Identity.UserID, ac.AgencyID, in)
	if err != nil {
		h.fail(w, "rename agency", err)
		return
	}
	httpx.JSON(w, http.StatusOK, agency)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, access.ErrAgencyNotFound) {
		err = fmt.Errorf("%w: %v", httpx.ErrNotFound, err)
	}
	if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
