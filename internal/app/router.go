package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	accesshttp "github.com/axolop/axolop-crm/internal/access/http"
	"github.com/axolop/axolop-crm/internal/agency"
	audithttp "github.com/axolop/axolop-crm/internal/audit/http"
	"github.com/axolop/axolop-crm/internal/billing"
	"github.com/axolop/axolop-crm/internal/observability"
	"github.com/axolop/axolop-crm/internal/rbac"
	"github.com/axolop/axolop-crm/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	AccessMiddleware   *accesshttp.Middleware
	AccessHandler      *accesshttp.Handler
	AgencyHandler      *agency.Handler
	AuditHandler       *audithttp.Handler
	BillingHandler     *billing.Handler
	JobHandler         *jobs.Handler
	PermissionsHandler *rbac.PermissionsHandler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.BillingHandler != nil {
		r.Route("/webhooks", params.BillingHandler.MountRoutes)
	}

	r.Route("/api", func(r chi.Router) {
		if params.PermissionsHandler != nil {
			r.Route("/capabilities", params.PermissionsHandler.MountRoutes)
		}
		if params.AccessMiddleware == nil {
			return
		}
		r.Route("/agencies/{agencyID}", func(r chi.Router) {
			r.Use(params.AccessMiddleware.Handler)
			if params.AccessHandler != nil {
				params.AccessHandler.MountRoutes(r)
			}
			if params.AgencyHandler != nil {
				params.AgencyHandler.MountRoutes(r)
			}
			if params.AuditHandler != nil {
				params.AuditHandler.MountRoutes(r)
			}
		})
	})

	return r
}
