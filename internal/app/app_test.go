package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axolop/axolop-crm/internal/access"
	accesshttp "github.com/axolop/axolop-crm/internal/access/http"
	"github.com/axolop/axolop-crm/internal/agency"
	"github.com/axolop/axolop-crm/internal/observability"
	"github.com/axolop/axolop-crm/internal/rbac"
	"github.com/axolop/axolop-crm/internal/shared"
	_ "github.com/axolop/axolop-crm/testing"
)

type stubLoader struct {
	ac  *access.AgencyContext
	err error
}

func (s stubLoader) Load(ctx context.Context, sess access.Session, agencyID uuid.UUID) (*access.AgencyContext, error) {
	if s.ac != nil {
		s.ac.AgencyID = agencyID
	}
	return s.ac, s.err
}

type stubAgencyService struct{}

func (stubAgencyService) Get(ctx context.Context, id uuid.UUID) (access.Agency, error) {
	return access.Agency{ID: id, Name: "Acme Growth"}, nil
}

func (stubAgencyService) Rename(ctx context.Context, actor uuid.UUID, id uuid.UUID, in agency.RenameInput) (access.Agency, error) {
	return access.Agency{ID: id, Name: in.Name}, nil
}

func newTestRouter(loader accesshttp.Loader) http.Handler {
	metrics := observability.NewMetrics()
	guards := rbac.Middleware{Recorder: metrics}
	return NewRouter(RouterParams{
		Config:             &Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second, AppRateLimit: 1000},
		AccessMiddleware:   accesshttp.NewMiddleware(loader, nil),
		AccessHandler:      accesshttp.NewHandler("https://billing.example.test"),
		AgencyHandler:      agency.NewHandler(nil, stubAgencyService{}, guards),
		PermissionsHandler: rbac.NewPermissionsHandler(),
		Metrics:            metrics,
	})
}

func do(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthAndMetrics(t *testing.T) {
	h := newTestRouter(stubLoader{})

	rec := do(h, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = do(h, http.MethodGet, "/api/capabilities", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), rbac.CapAgencyEdit)

	rec = do(h, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "axolop_http_requests_total")
}

func TestRouterAgencyRoutes(t *testing.T) {
	member := &access.AgencyContext{
		Identity:   shared.Identity{UserID: uuid.New()},
		Membership: &access.Membership{Role: access.RoleMember, SeatStatus: access.SeatSeated},
		Flags:      access.PermissionFlags{IsSeatedUser: true},
		Warning:    access.AccountWarningState{Status: access.StatusActive, WarningLevel: access.WarningNone},
		Available:  true,
	}
	h := newTestRouter(stubLoader{ac: member})
	path := "/api/agencies/" + uuid.NewString()

	rec := do(h, http.MethodGet, path, "token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "none", rec.Header().Get(accesshttp.WarningHeader))
	assert.Contains(t, rec.Body.String(), "Acme Growth")

	rec = do(h, http.MethodPatch, path, "token", `{"name":"Renamed"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(h, http.MethodGet, path+"/access", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	scrape := do(h, http.MethodGet, "/metrics", "", "")
	assert.Contains(t, scrape.Body.String(), `axolop_access_denials_total{guard="require_write",reason="read_only"} 1`)
}

func TestRouterDegradedContextIsReadOnly(t *testing.T) {
	h := newTestRouter(stubLoader{err: access.ErrUpstreamUnavailable})
	path := "/api/agencies/" + uuid.NewString()

	rec := do(h, http.MethodGet, path+"/access", "token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "critical", rec.Header().Get(accesshttp.WarningHeader))
	assert.Contains(t, rec.Body.String(), `"read_only":true`)

	rec = do(h, http.MethodPatch, path, "token", `{"name":"Renamed"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("BILLING_WEBHOOK_SECRET", "")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("AUTH_JWT_SECRET", "short")
	t.Setenv("BILLING_WEBHOOK_SECRET", "whsec")
	_, err = LoadConfig()
	assert.Error(t, err)

	t.Setenv("AUTH_JWT_SECRET", strings.Repeat("s", 32))
	t.Setenv("ACCESS_CACHE_TTL", "90s")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.AccessCacheTTL)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.False(t, cfg.IsProduction())
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", logLevel(&Config{LogLevel: "debug"}).String())
	assert.Equal(t, "INFO", logLevel(nil).String())
	assert.Equal(t, "WARN", logLevel(&Config{LogLevel: "WARNING"}).String())
}
