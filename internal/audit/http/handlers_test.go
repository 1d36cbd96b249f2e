package audithttp

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axolop/axolop-crm/internal/access"
	"github.com/axolop/axolop-crm/internal/audit"
	"github.com/axolop/axolop-crm/internal/rbac"
	"github.com/axolop/axolop-crm/internal/shared"
)

type stubTimeline struct {
	pages []audit.Result
	calls []audit.TimelineFilters
	err   error
}

func (s *stubTimeline) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.calls = append(s.calls, filters)
	if s.err != nil {
		return audit.Result{}, s.err
	}
	if len(s.pages) == 0 {
		return audit.Result{Rows: []audit.TimelineRow{}}, nil
	}
	idx := filters.Page - 1
	if idx >= len(s.pages) {
		idx = len(s.pages) - 1
	}
	return s.pages[idx], nil
}

func newRouter(svc TimelineService, ac *access.AgencyContext) http.Handler {
	h := NewHandler(nil, svc, rbac.Middleware{})
	h.now = func() time.Time { return time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(access.ContextWithAgency(req.Context(), ac)))
		})
	})
	h.MountRoutes(r)
	return r
}

func agencyContext(admin bool) *access.AgencyContext {
	id := uuid.New()
	role := access.RoleMember
	if admin {
		role = access.RoleAdmin
	}
	m := &access.Membership{AgencyID: id, Role: role, SeatStatus: access.SeatSeated}
	return &access.AgencyContext{
		AgencyID:   id,
		Identity:   shared.Identity{UserID: uuid.New()},
		Membership: m,
		Flags:      access.FlagsFor(m),
		Available:  true,
	}
}

func TestTimelineRequiresAdmin(t *testing.T) {
	svc := &stubTimeline{}
	rec := httptest.NewRecorder()
	newRouter(svc, agencyContext(false)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, svc.calls)
}

func TestTimelineParsesFilters(t *testing.T) {
	svc := &stubTimeline{}
	ac := agencyContext(true)
	actor := uuid.New()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/audit?from=2025-06-01&to=2025-06-10&actor="+actor.String()+"&action=agency.renamed&page=2&page_size=10", nil)
	newRouter(svc, ac).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.calls, 1)
	got := svc.calls[0]
	assert.Equal(t, ac.AgencyID, got.AgencyID)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), got.From)
	assert.Equal(t, time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC), got.To)
	assert.Equal(t, actor, got.Actor)
	assert.Equal(t, "agency.renamed", got.Action)
	assert.Equal(t, 2, got.Page)
	assert.Equal(t, 10, got.PageSize)
}

func TestTimelineDefaultsWindow(t *testing.T) {
	svc := &stubTimeline{}
	rec := httptest.NewRecorder()
	newRouter(svc, agencyContext(true)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	got := svc.calls[0]
	assert.Equal(t, time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC), got.To)
	assert.Equal(t, got.To.Add(-defaultDateRange), got.From)
	assert.Equal(t, 1, got.Page)

	var body audit.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Rows)
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	for _, query := range []string{
		"from=yesterday",
		"to=2025-13-01",
		"from=2025-06-10&to=2025-06-01",
		"from=2023-01-01&to=2025-06-01",
		"actor=nobody",
		"page=0",
		"page=99999999999",
		"page_size=-3",
	} {
		svc := &stubTimeline{}
		rec := httptest.NewRecorder()
		newRouter(svc, agencyContext(true)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?"+query, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
		assert.Empty(t, svc.calls, query)
	}
}

func TestTimelineServiceErrorIsHidden(t *testing.T) {
	svc := &stubTimeline{err: errors.New("pq: relation audit_logs does not exist")}
	rec := httptest.NewRecorder()
	newRouter(svc, agencyContext(true)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "audit_logs")
}

func TestExportWalksPages(t *testing.T) {
	at := time.Date(2025, 6, 14, 8, 30, 0, 0, time.UTC)
	actor := uuid.New()
	svc := &stubTimeline{pages: []audit.Result{
		{Rows: []audit.TimelineRow{{At: at, ActorID: actor, Action: "agency.renamed", Entity: "agency", EntityID: "a1", Meta: map[string]any{"to": "New"}}}, Paging: audit.PagingInfo{Page: 1, HasNext: true}},
		{Rows: []audit.TimelineRow{{At: at.Add(-time.Hour), ActorID: actor, Action: "agency.renamed", Entity: "agency", EntityID: "a1"}}, Paging: audit.PagingInfo{Page: 2}},
	}}

	rec := httptest.NewRecorder()
	newRouter(svc, agencyContext(true)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit.csv", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Len(t, svc.calls, 2)

	records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "at", records[0][0])
	assert.Equal(t, "2025-06-14T08:30:00Z", records[1][0])
	assert.Equal(t, `{"to":"New"}`, records[1][5])
	assert.Equal(t, "", records[2][5])
}
