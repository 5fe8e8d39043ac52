package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-analytics/internal/cache"
	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/ignite/outreach-analytics/internal/filter"
	"github.com/ignite/outreach-analytics/internal/health"
	"github.com/ignite/outreach-analytics/internal/orchestrator"
	"github.com/ignite/outreach-analytics/internal/pkg/logger"
	"github.com/ignite/outreach-analytics/internal/pkg/metrics"
	"github.com/ignite/outreach-analytics/internal/service/analytics"
	"github.com/ignite/outreach-analytics/internal/warming"
)

// stubSource serves fixed rows per domain.
type stubSource struct {
	rows map[domain.Domain][]domain.CounterRow
	fail map[domain.Domain]error
}

func (s *stubSource) FetchCounters(_ context.Context, q analytics.CounterQuery) ([]domain.CounterRow, error) {
	if err := s.fail[q.Domain]; err != nil {
		return nil, err
	}
	want := map[string]bool{}
	for _, id := range q.EntityIDs {
		want[id] = true
	}
	var out []domain.CounterRow
	for _, r := range s.rows[q.Domain] {
		if len(want) > 0 && !want[r.EntityID] {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

type testEnv struct {
	router  http.Handler
	monitor *health.Monitor
	loader  *cache.Loader
	source  *stubSource
}

func setupTestServer(t *testing.T, withWarmer bool) *testEnv {
	t.Helper()
	today := domain.TruncateDay(time.Now())
	src := &stubSource{
		rows: map[domain.Domain][]domain.CounterRow{
			domain.Campaigns: {
				{EntityID: "c1", Date: today, Counters: domain.PerformanceCounters{Sent: 100, Delivered: 95, Opened: 40}},
			},
			domain.SendingDomains: {
				{EntityID: "d1", Date: today, Counters: domain.PerformanceCounters{Sent: 200, Delivered: 190}},
			},
			domain.Mailboxes: {
				{EntityID: "a@d1.io", ParentID: "d1", Date: today, Counters: domain.PerformanceCounters{Sent: 120, Delivered: 118}},
			},
		},
		fail: map[domain.Domain]error{},
	}

	mon := health.New(health.DefaultConfig(), health.WithLogger(logger.Nop()))
	loader := cache.NewLoader(cache.NewMemoryStore(), nil, cache.WithLogger(logger.Nop()))
	pool := orchestrator.New(orchestrator.Config{
		MaxConcurrentOperations:  4,
		ComputationTimeout:       2 * time.Second,
		EnableProgressiveLoading: true,
		ChunkSize:                2,
	}, orchestrator.WithLogger(logger.Nop()))
	svc := analytics.NewService(src, loader, pool, mon, analytics.WithLogger(logger.Nop()))

	var sched *warming.Scheduler
	if withWarmer {
		var err error
		sched, err = warming.New(svc, warming.Strategy{
			Enabled:    true,
			Domains:    []domain.Domain{domain.Campaigns},
			Operations: []domain.Operation{domain.OpOverview},
			Schedules: []warming.Schedule{{
				Name: "hourly", Pattern: "@hourly",
				Filters: filter.Query{CompanyID: "acme"},
			}},
		}, warming.WithLogger(logger.Nop()))
		require.NoError(t, err)
	}

	router := SetupRoutes(
		NewHandlers(svc, sched, logger.Nop()),
		NewHealthChecker(mon),
		RouterOptions{Logger: logger.Nop(), Metrics: metrics.NewCollector("test").Handler()},
	)
	return &testEnv{router: router, monitor: mon, loader: loader, source: src}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v))
}

func TestHandleQuery(t *testing.T) {
	env := setupTestServer(t, false)

	rr := env.do(t, http.MethodPost, "/api/analytics/query", `{"companyId":"acme","domains":["campaign","mailbox"]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	var res analytics.OverviewResult
	decode(t, rr, &res)
	assert.True(t, res.Success)
	assert.False(t, res.PartialFailure)
	assert.Equal(t, int64(100), res.Data[domain.Campaigns].Metrics.Sent)
	assert.InDelta(t, 0.95, res.Data[domain.Campaigns].Rates.DeliveryRate, 1e-9)
	assert.Contains(t, res.Errors, "mailbox")
	assert.Nil(t, res.Errors["mailbox"])
}

func TestHandleQueryPartialFailure(t *testing.T) {
	env := setupTestServer(t, false)
	env.source.fail[domain.Mailboxes] = &domain.ServiceUnavailableError{Service: "mailbox counters", Err: errors.New("down")}

	rr := env.do(t, http.MethodPost, "/api/analytics/query", `{"companyId":"acme","domains":["campaign","mailbox"]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var res analytics.OverviewResult
	decode(t, rr, &res)
	assert.True(t, res.Success)
	assert.True(t, res.PartialFailure)
	require.NotNil(t, res.Errors["mailbox"])
	assert.Contains(t, *res.Errors["mailbox"], "unavailable")
	assert.Equal(t, domain.Degraded, env.monitor.Status(domain.Mailboxes).Status)
}

func TestHandleQueryValidation(t *testing.T) {
	env := setupTestServer(t, false)

	rr := env.do(t, http.MethodPost, "/api/analytics/query", `{"domains":["campaign"]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "MISSING_COMPANY")

	rr = env.do(t, http.MethodPost, "/api/analytics/query", `{"companyId":"acme","domains":["cross-domain"]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "INVALID_DOMAIN")

	rr = env.do(t, http.MethodPost, "/api/analytics/query", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleStream(t *testing.T) {
	env := setupTestServer(t, false)

	rr := env.do(t, http.MethodPost, "/api/analytics/stream", `{"companyId":"acme","domains":["campaign","domain","mailbox"]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/x-ndjson", rr.Header().Get("Content-Type"))

	seen := map[domain.Domain]bool{}
	lines := 0
	sc := bufio.NewScanner(strings.NewReader(rr.Body.String()))
	for sc.Scan() {
		var chunk analytics.OverviewResult
		require.NoError(t, json.Unmarshal(sc.Bytes(), &chunk))
		for d := range chunk.Data {
			seen[d] = true
		}
		lines++
	}
	assert.Equal(t, 2, lines, "chunk size 2 over 3 domains")
	assert.Len(t, seen, 3)
}

func TestHandleTimeSeries(t *testing.T) {
	env := setupTestServer(t, false)

	rr := env.do(t, http.MethodPost, "/api/analytics/timeseries", `{"companyId":"acme","domain":"campaign"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var res analytics.SeriesResult
	decode(t, rr, &res)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Data)

	rr = env.do(t, http.MethodPost, "/api/analytics/timeseries", `{"companyId":"acme","domain":"cross-domain"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleJoin(t *testing.T) {
	env := setupTestServer(t, false)

	rr := env.do(t, http.MethodPost, "/api/analytics/join", `{"companyId":"acme","all":true}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var res analytics.JoinResult
	decode(t, rr, &res)
	require.Len(t, res.Data.Rows, 1)
	assert.Equal(t, "d1", res.Data.Rows[0].DomainID)
	require.Len(t, res.Data.Rows[0].Mailboxes, 1)

	rr = env.do(t, http.MethodPost, "/api/analytics/join", `{"companyId":"acme"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "SCOPE_REQUIRED")

	rr = env.do(t, http.MethodPost, "/api/analytics/join/timeseries", `{"companyId":"acme","domainIds":["d1"]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "RANGE_REQUIRED")
}

func TestHandleInvalidateAndStats(t *testing.T) {
	env := setupTestServer(t, false)

	body := `{"companyId":"acme","domains":["campaign"]}`
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/analytics/query", body).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/analytics/query", body).Code)

	rr := env.do(t, http.MethodGet, "/api/analytics/cache/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var stats cache.Stats
	decode(t, rr, &stats)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Computations)

	rr = env.do(t, http.MethodPost, "/api/analytics/invalidate", `{"domain":"campaign","companyId":"acme"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var inv invalidateResponse
	decode(t, rr, &inv)
	assert.Equal(t, 1, inv.Removed)
	assert.Equal(t, []string{"analytics:campaign:acme:"}, inv.Prefixes)

	rr = env.do(t, http.MethodPost, "/api/analytics/invalidate", `{"prefix":"lock:"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = env.do(t, http.MethodPost, "/api/analytics/invalidate", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleWarm(t *testing.T) {
	env := setupTestServer(t, false)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodPost, "/api/analytics/warm", "").Code)

	env = setupTestServer(t, true)
	rr := env.do(t, http.MethodPost, "/api/analytics/warm", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var rep warming.Report
	decode(t, rr, &rep)
	assert.Equal(t, 1, rep.Warmed)

	rr = env.do(t, http.MethodPost, "/api/analytics/warm", "")
	decode(t, rr, &rep)
	assert.Equal(t, 0, rep.Warmed)
	assert.Equal(t, 1, rep.Skipped)
}

func TestHealthEndpoints(t *testing.T) {
	env := setupTestServer(t, false)

	rr := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var snap health.Snapshot
	decode(t, rr, &snap)
	assert.Equal(t, domain.Healthy, snap.Status)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health/live", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health/ready", "").Code)

	down := &domain.ServiceUnavailableError{Service: "billing counters", Err: errors.New("refused")}
	env.monitor.Report(domain.Billing, down)
	env.monitor.Report(domain.Billing, down)

	rr = env.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	rr = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &snap)
	assert.Equal(t, domain.Unhealthy, snap.Status)
	assert.False(t, snap.Services[domain.Billing])
}

func TestMetricsAndRequestID(t *testing.T) {
	env := setupTestServer(t, false)

	rr := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestServerServesAndShutsDown(t *testing.T) {
	env := setupTestServer(t, false)
	srv := NewServer(env.router)
	require.Equal(t, env.router, srv.Handler())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe("127.0.0.1:0") }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.ErrorIs(t, <-errCh, http.ErrServerClosed)
}
