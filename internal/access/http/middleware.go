// Package accesshttp exposes agency access resolution over HTTP.
package accesshttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/axolop/axolop-crm/internal/access"
	"github.com/axolop/axolop-crm/internal/auth"
	"github.com/axolop/axolop-crm/internal/platform/httpx"
	"github.com/axolop/axolop-crm/internal/shared"
)

// WarningHeader carries the account warning level on every agency response.
const WarningHeader = "X-Account-Warning"

// Loader builds agency contexts.
type Loader interface {
	Load(ctx context.Context, sess access.Session, agencyID uuid.UUID) (*access.AgencyContext, error)
}

// Middleware resolves the caller's agency context for routes carrying an
// {agencyID} URL parameter.
type Middleware struct {
	loader Loader
	logger *slog.Logger
}

// NewMiddleware builds Middleware instance.
func NewMiddleware(loader Loader, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{loader: loader, logger: logger}
}

// Handler installs the agency context. Unauthenticated callers get 401 and
// unknown agencies 404; upstream failures degrade to the restricted context
// and the request continues read-only.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agencyID, err := uuid.Parse(chi.URLParam(r, "agencyID"))
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: agency", httpx.ErrNotFound))
			return
		}
		token, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			unauthorized(w, err)
			return
		}

		ctx := access.WithRequestMemo(r.Context())
		ac, err := m.loader.Load(ctx, access.Session{Token: token}, agencyID)
		switch {
		case errors.Is(err, access.ErrUnauthenticated):
			unauthorized(w, err)
			return
		case errors.Is(err, access.ErrAgencyNotFound):
			httpx.RespondError(w, fmt.Errorf("%w: agency", httpx.ErrNotFound))
			return
		case err != nil:
			m.logger.Warn("agency context degraded",
				slog.String("agency_id", agencyID.String()),
				slog.String("path", r.URL.Path),
				slog.Any("error", err))
		}
		if ac == nil {
			ac = access.Unavailable(agencyID, err)
		}

		w.Header().Set(WarningHeader, string(ac.Warning.WarningLevel))
		ctx = shared.ContextWithIdentity(ctx, ac.Identity)
		ctx = access.ContextWithAgency(ctx, ac)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="axolop"`)
	httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
}
