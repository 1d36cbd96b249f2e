package perf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/axolop/axolop-crm/internal/access"
	accesshttp "github.com/axolop/axolop-crm/internal/access/http"
	"github.com/axolop/axolop-crm/internal/shared"
)

type staticLoader struct {
	sub *access.Subscription
	now time.Time
}

func (l staticLoader) Load(ctx context.Context, sess access.Session, agencyID uuid.UUID) (*access.AgencyContext, error) {
	m := &access.Membership{AgencyID: agencyID, Role: access.RoleMember, SeatStatus: access.SeatSeated}
	warning, err := access.Evaluate(l.sub, l.now)
	return &access.AgencyContext{
		AgencyID:    agencyID,
		Identity:    shared.Identity{UserID: uuid.New()},
		Membership:  m,
		Flags:       access.FlagsFor(m),
		Warning:     warning,
		Available:   true,
		EvaluatedAt: l.now,
	}, err
}

func accessRouter(now time.Time) http.Handler {
	sub := &access.Subscription{Status: access.StatusPastDue, CurrentPeriodEnd: now.Add(-3 * 24 * time.Hour)}
	r := chi.NewRouter()
	r.Route("/agencies/{agencyID}", func(r chi.Router) {
		r.Use(accesshttp.NewMiddleware(staticLoader{sub: sub, now: now}, nil).Handler)
		accesshttp.NewHandler("https://billing.example.test").MountRoutes(r)
	})
	return r
}

func TestAccessLatencyTargets(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	router := accessRouter(now)
	path := "/agencies/" + uuid.NewString() + "/access"

	samples := make([]time.Duration, 0, 200)
	for i := 0; i < cap(samples); i++ {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer bench")
		rec := httptest.NewRecorder()
		start := time.Now()
		router.ServeHTTP(rec, req)
		samples = append(samples, time.Since(start))
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}
	if p95 := percentile95(samples); p95 > 50*time.Millisecond {
		t.Fatalf("access endpoint latency regression: p95=%s", p95)
	}
}

func BenchmarkEvaluate(b *testing.B) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	subs := []*access.Subscription{
		nil,
		{Status: access.StatusActive, CurrentPeriodEnd: now.Add(24 * time.Hour)},
		{Status: access.StatusPastDue, CurrentPeriodEnd: now.Add(-5 * 24 * time.Hour)},
		{Status: access.StatusUnpaid, CurrentPeriodEnd: now.Add(-30 * 24 * time.Hour)},
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = access.Evaluate(subs[i%len(subs)], now)
	}
}

func BenchmarkAccessEndpoint(b *testing.B) {
	router := accessRouter(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	path := "/agencies/" + uuid.NewString() + "/access"
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer bench")
		router.ServeHTTP(httptest.NewRecorder(), req)
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	return sorted[index]
}
