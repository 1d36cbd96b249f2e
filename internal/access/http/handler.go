package accesshttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/axolop/axolop-crm/internal/access"
	"github.com/axolop/axolop-crm/internal/platform/httpx"
	"github.com/axolop/axolop-crm/internal/rbac"
)

// Handler reports the caller's resolved access state.
type Handler struct {
	portalURL string
}

// NewHandler builds Handler instance. portalURL is the billing portal linked
// from warning banners.
func NewHandler(portalURL string) *Handler {
	return &Handler{portalURL: portalURL}
}

// MountRoutes registers access routes under an agency context.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/access", h.show)
}

type accessResponse struct {
	AgencyID     uuid.UUID                  `json:"agency_id"`
	Available    bool                       `json:"available"`
	Member       bool                       `json:"member"`
	Role         access.Role                `json:"role,omitempty"`
	Flags        access.PermissionFlags     `json:"flags"`
	Warning      access.AccountWarningState `json:"warning"`
	Banner       *access.Banner             `json:"banner,omitempty"`
	Capabilities []string                   `json:"capabilities"`
	ReadOnly     bool                       `json:"read_only"`
	EvaluatedAt  time.Time                  `json:"evaluated_at"`
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	ac := access.AgencyFromContext(r.Context())
	resp := accessResponse{
		AgencyID:     ac.AgencyID,
		Available:    ac.Available,
		Member:       ac.IsMember(),
		Flags:        ac.Flags,
		Warning:      ac.Warning,
		Banner:       ac.Warning.Banner(h.portalURL),
		Capabilities: rbac.Capabilities(ac),
		ReadOnly:     !ac.Available || ac.Flags.ReadOnly() || ac.Warning.NeedsPaymentWall,
		EvaluatedAt:  ac.EvaluatedAt,
	}
	if ac.Membership != nil {
		resp.Role = ac.Membership.Role
	}
	httpx.JSON(w, http.StatusOK, resp)
}
