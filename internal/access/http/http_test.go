package accesshttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axolop/axolop-crm/internal/access"
	"github.com/axolop/axolop-crm/internal/rbac"
	"github.com/axolop/axolop-crm/internal/shared"
)

type loaderFunc func(ctx context.Context, sess access.Session, agencyID uuid.UUID) (*access.AgencyContext, error)

func (f loaderFunc) Load(ctx context.Context, sess access.Session, agencyID uuid.UUID) (*access.AgencyContext, error) {
	return f(ctx, sess, agencyID)
}

func newRouter(loader Loader) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/agencies/{agencyID}", func(r chi.Router) {
		r.Use(NewMiddleware(loader, nil).Handler)
		NewHandler("https://billing.example.test/portal").MountRoutes(r)
		r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
			id, _ := shared.IdentityFromContext(r.Context())
			_, _ = w.Write([]byte(id.Email))
		})
	})
	return r
}

func get(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func pastDueContext(agencyID uuid.UUID, days int) *access.AgencyContext {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	sub := &access.Subscription{AgencyID: agencyID, Status: access.StatusPastDue, CurrentPeriodEnd: now.Add(-time.Duration(days) * 24 * time.Hour)}
	warning, _ := access.Evaluate(sub, now)
	return &access.AgencyContext{
		AgencyID:     agencyID,
		Identity:     shared.Identity{UserID: uuid.New(), Email: "owner@agency.test"},
		Membership:   &access.Membership{AgencyID: agencyID, Role: access.RoleOwner, SeatStatus: access.SeatSeated},
		Subscription: sub,
		Flags:        access.PermissionFlags{IsAdmin: true, CanEdit: true},
		Warning:      warning,
		Available:    true,
		EvaluatedAt:  now,
	}
}

func TestAccessEndpointReportsState(t *testing.T) {
	agencyID := uuid.New()
	var gotToken string
	h := newRouter(loaderFunc(func(ctx context.Context, sess access.Session, id uuid.UUID) (*access.AgencyContext, error) {
		gotToken = sess.Token
		return pastDueContext(id, 6), nil
	}))

	rec := get(t, h, "/api/agencies/"+agencyID.String()+"/access", "jwt-token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jwt-token", gotToken)
	assert.Equal(t, "urgent", rec.Header().Get(WarningHeader))

	var body accessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, agencyID, body.AgencyID)
	assert.True(t, body.Available)
	assert.True(t, body.Member)
	assert.Equal(t, access.RoleOwner, body.Role)
	assert.False(t, body.ReadOnly)
	assert.Equal(t, 6, body.Warning.DaysPastDue)
	require.NotNil(t, body.Banner)
	assert.Equal(t, 1, body.Banner.DaysRemaining)
	assert.Equal(t, "https://billing.example.test/portal", body.Banner.ActionURL)
	assert.Contains(t, body.Capabilities, rbac.CapAgencyEdit)
}

func TestMiddlewareRejectsMissingBearer(t *testing.T) {
	called := false
	h := newRouter(loaderFunc(func(ctx context.Context, sess access.Session, id uuid.UUID) (*access.AgencyContext, error) {
		called = true
		return nil, nil
	}))

	rec := get(t, h, "/api/agencies/"+uuid.NewString()+"/access", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
	assert.False(t, called)
}

func TestMiddlewareMapsLoaderErrors(t *testing.T) {
	cases := map[error]int{
		access.ErrUnauthenticated: http.StatusUnauthorized,
		access.ErrAgencyNotFound:  http.StatusNotFound,
	}
	for loadErr, status := range cases {
		h := newRouter(loaderFunc(func(ctx context.Context, sess access.Session, id uuid.UUID) (*access.AgencyContext, error) {
			return nil, loadErr
		}))
		rec := get(t, h, "/api/agencies/"+uuid.NewString()+"/access", "token")
		assert.Equal(t, status, rec.Code, loadErr.Error())
	}
}

func TestMiddlewareRejectsMalformedAgencyID(t *testing.T) {
	h := newRouter(loaderFunc(func(ctx context.Context, sess access.Session, id uuid.UUID) (*access.AgencyContext, error) {
		t.Fatal("loader must not run")
		return nil, nil
	}))
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/agencies/not-a-uuid/access", "token").Code)
}

func TestMiddlewareDegradesOnUpstreamFailure(t *testing.T) {
	agencyID := uuid.New()
	h := newRouter(loaderFunc(func(ctx context.Context, sess access.Session, id uuid.UUID) (*access.AgencyContext, error) {
		err := errors.Join(access.ErrUpstreamUnavailable, errors.New("db timeout"))
		return access.Unavailable(id, err), err
	}))

	rec := get(t, h, "/api/agencies/"+agencyID.String()+"/access", "token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "critical", rec.Header().Get(WarningHeader))

	var body accessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Available)
	assert.True(t, body.ReadOnly)
	assert.Empty(t, body.Capabilities)
	assert.Equal(t, access.Restricted(), body.Flags)
	assert.True(t, body.Warning.NeedsPaymentWall)
}

func TestMiddlewareStoresIdentity(t *testing.T) {
	agencyID := uuid.New()
	h := newRouter(loaderFunc(func(ctx context.Context, sess access.Session, id uuid.UUID) (*access.AgencyContext, error) {
		return pastDueContext(id, 0), nil
	}))

	rec := get(t, h, "/api/agencies/"+agencyID.String()+"/whoami", "token")
	assert.Equal(t, "owner@agency.test", rec.Body.String())
	assert.Equal(t, "info", rec.Header().Get(WarningHeader))
}
