package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	decimal "github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/usage_analytics/internal/app"
	"github.com/ncecere/usage_analytics/internal/config"
	"github.com/ncecere/usage_analytics/internal/health"
	"github.com/ncecere/usage_analytics/internal/models"
	"github.com/ncecere/usage_analytics/internal/pagination"
	"github.com/ncecere/usage_analytics/internal/recordstore"
	"github.com/ncecere/usage_analytics/internal/recordstore/breaker"
	"github.com/ncecere/usage_analytics/internal/recordstore/memory"
	"github.com/ncecere/usage_analytics/internal/services/analytics"
	"github.com/ncecere/usage_analytics/internal/timeutil"
)

var now = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, store recordstore.Store, policy pagination.Policy) *Server {
	t.Helper()
	cfg := &config.Config{
		Server:    config.ServerConfig{ListenAddr: ":0", BodyLimitMB: 1},
		Store:     config.StoreConfig{Driver: config.DriverMemory},
		Reporting: config.ReportingConfig{Timezone: "UTC"},
	}
	guard := breaker.New(store, breaker.Settings{FailureThreshold: 100})
	svc := analytics.NewService(guard, analytics.Options{
		Location:        time.UTC,
		Now:             func() time.Time { return now },
		Pagination:      policy,
		TimeframePolicy: timeutil.TimeframePolicy{Default: timeutil.TimeframeWeek, RejectUnknown: true},
	})
	monitor := health.NewMonitor(guard, time.Hour, time.Second, nil)
	monitor.Check(context.Background())

	srv, err := New(&app.Container{
		Config:    cfg,
		Store:     guard,
		Breaker:   guard,
		Analytics: svc,
		HealthMon: monitor,
	})
	require.NoError(t, err)
	return srv
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	for i := 0; i < 15; i++ {
		model, cost, tokens := "gpt-4", "1.00", int64(10)
		if i >= 5 {
			model, cost, tokens = "gpt-3.5", "0.20", 50
		}
		status := models.InteractionStatusSuccess
		if i%5 == 0 {
			status = models.InteractionStatusError
		}
		require.NoError(t, store.InsertInteraction(ctx, models.InteractionRecord{
			ID:        fmt.Sprintf("r%02d", i),
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
			Model:     model,
			Usage:     models.Usage{PromptTokens: tokens, TotalTokens: tokens},
			Duration:  1,
			Status:    status,
			Cost:      decimal.RequireFromString(cost),
		}))
	}
	for i, status := range []string{"active", "active", "completed", "completed", "completed", "completed", "completed", "failed"} {
		require.NoError(t, store.InsertWorkflow(ctx, models.WorkflowRecord{
			ID:        fmt.Sprintf("w%d", i),
			Name:      "nightly",
			Status:    status,
			StartTime: now.Add(-time.Duration(i+1) * time.Hour),
			Steps:     []models.StepRecord{{Position: 1, Name: "run", Status: "completed"}},
		}))
	}
	return store
}

func doGet(t *testing.T, srv *Server, path string) (int, map[string]any) {
	t.Helper()
	resp, err := srv.App().Test(httptest.NewRequest("GET", path, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &body))
	}
	return resp.StatusCode, body
}

func TestUsageRoutePaginates(t *testing.T) {
	srv := newTestServer(t, seededStore(t), pagination.DefaultPolicy())

	status, body := doGet(t, srv, "/api/analytics/ai-usage?timeframe=day&page=2&limit=10")
	require.Equal(t, 200, status)
	require.EqualValues(t, 15, body["total"])
	require.EqualValues(t, 2, body["totalPages"])
	require.EqualValues(t, 2, body["page"])
	require.Len(t, body["data"], 5)

	first := body["data"].([]any)[0].(map[string]any)
	require.Equal(t, "r10", first["id"])
	require.Equal(t, "error", first["status"])
}

func TestUsageRouteRejectsBadPagination(t *testing.T) {
	srv := newTestServer(t, seededStore(t), pagination.Policy{Mode: pagination.ModeReject, DefaultPage: 1, DefaultLimit: 10})

	status, body := doGet(t, srv, "/api/analytics/ai-usage?page=abc")
	require.Equal(t, 400, status)
	require.NotEmpty(t, body["error"])
}

func TestUsageDetailRoute(t *testing.T) {
	srv := newTestServer(t, seededStore(t), pagination.DefaultPolicy())

	status, body := doGet(t, srv, "/api/analytics/ai-usage/r03")
	require.Equal(t, 200, status)
	require.Equal(t, "r03", body["id"])
	require.Equal(t, "2025-03-10T11:57:00.000Z", body["timestamp"])
	require.NotContains(t, body, "errorMessage")

	status, body = doGet(t, srv, "/api/analytics/ai-usage/nope")
	require.Equal(t, 404, status)
	require.Equal(t, "record not found", body["error"])
	require.Equal(t, "not_found", body["kind"])
}

func TestCostsRoute(t *testing.T) {
	srv := newTestServer(t, seededStore(t), pagination.DefaultPolicy())

	status, body := doGet(t, srv, "/api/analytics/costs?timeframe=week")
	require.Equal(t, 200, status)
	require.InDelta(t, 7.0, body["totalCost"], 1e-9)
	require.Len(t, body["services"], 2)
	require.Len(t, body["dailyBreakdown"], 1)

	status, body = doGet(t, srv, "/api/analytics/costs?timeframe=week&service=gpt-4")
	require.Equal(t, 200, status)
	require.InDelta(t, 5.0, body["totalCost"], 1e-9)
	services := body["services"].([]any)
	require.Len(t, services, 1)
	require.Equal(t, "tokens", services[0].(map[string]any)["unit"])
}

func TestMetricsRoute(t *testing.T) {
	srv := newTestServer(t, seededStore(t), pagination.DefaultPolicy())

	status, body := doGet(t, srv, "/api/analytics/metrics?timeframe=day")
	require.Equal(t, 200, status)
	usage := body["aiUsage"].(map[string]any)
	require.EqualValues(t, 15, usage["totalCalls"])
	require.InDelta(t, 80.0, usage["successRate"], 1e-9)
	wf := body["workflowMetrics"].(map[string]any)
	require.EqualValues(t, 2, wf["active"])
	require.EqualValues(t, 5, wf["completed"])
	require.EqualValues(t, 1, wf["failed"])

	status, body = doGet(t, srv, "/api/analytics/metrics?timeframe=year")
	require.Equal(t, 400, status)
	require.Contains(t, body["error"], "timeframe")
}

func TestWorkflowsRoute(t *testing.T) {
	srv := newTestServer(t, seededStore(t), pagination.DefaultPolicy())

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/api/analytics/workflows?timeframe=day&status=completed", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	var details []analytics.WorkflowDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&details))
	require.Len(t, details, 5)
	require.Equal(t, analytics.StepSummary{Total: 1, Completed: 1}, details[0].Steps)
}

type downStore struct {
	recordstore.Store
}

var errDown = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

func (downStore) Count(context.Context, recordstore.Kind, recordstore.Filter) (int64, error) {
	return 0, errDown
}

func (downStore) GroupAggregate(context.Context, recordstore.Kind, recordstore.Filter, recordstore.GroupBy, []recordstore.Aggregate) ([]recordstore.GroupResult, error) {
	return nil, errDown
}

func (downStore) Ping(context.Context) error { return errDown }

func TestStoreFailureMapsTo503(t *testing.T) {
	srv := newTestServer(t, downStore{Store: memory.New()}, pagination.DefaultPolicy())

	status, body := doGet(t, srv, "/api/analytics/metrics")
	require.Equal(t, 503, status)
	require.Equal(t, "record store unavailable", body["error"])

	status, body = doGet(t, srv, "/healthz")
	require.Equal(t, 503, status)
	require.Equal(t, "degraded", body["status"])
}

func TestHealthzReportsStore(t *testing.T) {
	srv := newTestServer(t, memory.New(), pagination.DefaultPolicy())

	status, body := doGet(t, srv, "/healthz")
	require.Equal(t, 200, status)
	require.Equal(t, "ok", body["status"])
	checks := body["checks"].(map[string]any)
	require.Equal(t, "closed", checks["breaker"].(map[string]any)["status"])
	require.Equal(t, "memory", checks["store"].(map[string]any)["driver"])
}
