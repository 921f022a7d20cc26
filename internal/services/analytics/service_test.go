package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	decimal "github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/usage_analytics/internal/models"
	"github.com/ncecere/usage_analytics/internal/pagination"
	"github.com/ncecere/usage_analytics/internal/recordstore"
	"github.com/ncecere/usage_analytics/internal/recordstore/breaker"
	"github.com/ncecere/usage_analytics/internal/recordstore/memory"
	"github.com/ncecere/usage_analytics/internal/timeutil"
)

var now = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func newTestService(store recordstore.Store, mutate func(*Options)) *Service {
	opts := Options{
		Location:   time.UTC,
		Now:        func() time.Time { return now },
		Pagination: pagination.DefaultPolicy(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewService(store, opts)
}

func interaction(id string, ts time.Time, model, status, cost string, tokens int64, duration float64) models.InteractionRecord {
	rec := models.InteractionRecord{
		ID:        id,
		Timestamp: ts,
		Model:     model,
		Usage:     models.Usage{PromptTokens: tokens / 2, CompletionTokens: tokens - tokens/2, TotalTokens: tokens},
		Duration:  duration,
		Status:    status,
		Cost:      decimal.RequireFromString(cost),
	}
	if status == models.InteractionStatusError {
		rec.ErrorMessage = "rate limited"
	}
	return rec
}

func workflow(id, status string, start time.Time) models.WorkflowRecord {
	rec := models.WorkflowRecord{ID: id, Name: "sync-" + id, Status: status, StartTime: start}
	if status != models.WorkflowStatusActive {
		end := start.Add(time.Minute)
		d := 60.0
		rec.EndTime = &end
		rec.Duration = &d
	}
	return rec
}

func seed(t *testing.T, s *memory.Store, recs ...models.InteractionRecord) {
	t.Helper()
	for _, rec := range recs {
		require.NoError(t, s.InsertInteraction(context.Background(), rec))
	}
}

func TestMetricsSummaryEmptyWindow(t *testing.T) {
	svc := newTestService(memory.New(), nil)

	report, err := svc.GetMetricsSummary(context.Background(), "week")
	require.NoError(t, err)
	require.Equal(t, "week", report.Timeframe)
	require.Equal(t, int64(0), report.AIUsage.TotalCalls)
	require.Equal(t, 0.0, report.AIUsage.AvgResponseTime)
	require.Equal(t, 100.0, report.AIUsage.SuccessRate)
	require.Equal(t, WorkflowMetrics{}, report.WorkflowMetrics)
	require.True(t, report.CostMetrics.Total.IsZero())
	require.NotNil(t, report.CostMetrics.ByService)
	require.Empty(t, report.CostMetrics.ByService)
}

func TestMetricsSummaryComposesSubQueries(t *testing.T) {
	store := memory.New()
	seed(t, store,
		interaction("a", now.Add(-time.Hour), "gpt-4", models.InteractionStatusSuccess, "3.00", 100, 1),
		interaction("b", now.Add(-2*time.Hour), "gpt-4", models.InteractionStatusSuccess, "1.50", 50, 2),
		interaction("c", now.Add(-3*time.Hour), "gpt-3.5", models.InteractionStatusError, "0.25", 10, 3),
		interaction("d", now.Add(-4*time.Hour), "gpt-3.5", models.InteractionStatusSuccess, "0.25", 40, 6),
		interaction("old", now.AddDate(0, 0, -9), "gpt-4", models.InteractionStatusError, "99", 1000, 100),
	)
	require.NoError(t, store.InsertWorkflow(context.Background(), workflow("w1", models.WorkflowStatusCompleted, now.Add(-time.Hour))))

	svc := newTestService(store, nil)
	report, err := svc.GetMetricsSummary(context.Background(), "week")
	require.NoError(t, err)

	require.Equal(t, int64(4), report.AIUsage.TotalCalls)
	require.InDelta(t, 3.0, report.AIUsage.AvgResponseTime, 1e-9)
	require.InDelta(t, 75.0, report.AIUsage.SuccessRate, 1e-9)
	require.Equal(t, int64(200), report.AIUsage.TotalTokens)
	require.Equal(t, WorkflowMetrics{Completed: 1}, report.WorkflowMetrics)

	require.Len(t, report.CostMetrics.ByService, 2)
	require.Equal(t, "gpt-3.5", report.CostMetrics.ByService[0].Name)
	require.True(t, report.CostMetrics.ByService[0].Cost.Equal(decimal.RequireFromString("0.5")))
	require.Equal(t, "gpt-4", report.CostMetrics.ByService[1].Name)
	require.True(t, report.CostMetrics.ByService[1].Cost.Equal(decimal.RequireFromString("4.5")))
	require.True(t, report.CostMetrics.Total.Equal(decimal.RequireFromString("5")))
}

func TestSuccessRate(t *testing.T) {
	require.Equal(t, 100.0, SuccessRate(0, 0))
	require.Equal(t, 80.0, SuccessRate(12, 15))
	require.Equal(t, 0.0, SuccessRate(0, 7))
	require.Equal(t, 100.0, SuccessRate(7, 7))
	for total := int64(1); total <= 20; total++ {
		for ok := int64(0); ok <= total; ok++ {
			require.InDelta(t, 100*float64(ok)/float64(total), SuccessRate(ok, total), 1e-9)
		}
	}
}

func TestUsageDetailsSecondPage(t *testing.T) {
	store := memory.New()
	for i := 0; i < 15; i++ {
		status := models.InteractionStatusSuccess
		if i%5 == 4 {
			status = models.InteractionStatusError
		}
		seed(t, store, interaction(fmt.Sprintf("r%02d", i), now.Add(-time.Duration(i)*time.Minute), "gpt-4o", status, "0.01", 10, 0.5))
	}
	svc := newTestService(store, nil)

	page, err := svc.GetUsageDetails(context.Background(), "day", pagination.Params{Page: 2, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 5)
	require.Equal(t, int64(15), page.Total)
	require.Equal(t, 2, page.Page)
	require.Equal(t, 10, page.Limit)
	require.Equal(t, int64(2), page.TotalPages)
	require.Equal(t, "r10", page.Items[0].ID)
	require.Equal(t, "r14", page.Items[4].ID)
	require.Equal(t, "rate limited", page.Items[4].ErrorMessage)

	report, err := svc.GetMetricsSummary(context.Background(), "day")
	require.NoError(t, err)
	require.Equal(t, int64(15), report.AIUsage.TotalCalls)
	require.InDelta(t, 80.0, report.AIUsage.SuccessRate, 1e-9)
}

func TestUsageDetailsPageSizeFormula(t *testing.T) {
	store := memory.New()
	for i := 0; i < 23; i++ {
		seed(t, store, interaction(fmt.Sprintf("r%02d", i), now.Add(-time.Duration(i)*time.Minute), "m", models.InteractionStatusSuccess, "0", 1, 1))
	}
	svc := newTestService(store, nil)
	for _, limit := range []int{1, 5, 10, 23, 50} {
		for pageNo := 1; pageNo <= 6; pageNo++ {
			res, err := svc.GetUsageDetails(context.Background(), "day", pagination.Params{Page: pageNo, Limit: limit})
			require.NoError(t, err)
			want := min(limit, 23-(pageNo-1)*limit)
			want = max(want, 0)
			require.Len(t, res.Items, want, "page %d limit %d", pageNo, limit)
			require.Equal(t, pagination.TotalPages(23, limit), res.TotalPages)
		}
	}
}

func TestUsageDetailsPaginationPolicy(t *testing.T) {
	store := memory.New()
	seed(t, store, interaction("a", now, "m", models.InteractionStatusSuccess, "0", 1, 1))

	clamp := newTestService(store, func(o *Options) {
		o.Pagination = pagination.Policy{Mode: pagination.ModeClamp, DefaultPage: 1, DefaultLimit: 10, MaxLimit: 100}
	})
	res, err := clamp.GetUsageDetails(context.Background(), "day", pagination.Params{Page: -3, Limit: 1000})
	require.NoError(t, err)
	require.Equal(t, 1, res.Page)
	require.Equal(t, 100, res.Limit)

	reject := newTestService(store, func(o *Options) {
		o.Pagination = pagination.Policy{Mode: pagination.ModeReject, DefaultPage: 1, DefaultLimit: 10}
	})
	_, err = reject.GetUsageDetails(context.Background(), "day", pagination.Params{Page: 0, Limit: 10})
	require.ErrorIs(t, err, ErrInvalidPagination)
	require.Equal(t, KindInvalidPagination, KindOf(err))

	_, err = reject.ParsePage("two", "")
	require.ErrorIs(t, err, ErrInvalidPagination)

	params, err := clamp.ParsePage("two", "")
	require.NoError(t, err)
	require.Equal(t, pagination.Params{Page: 1, Limit: 10}, params)

	// Pages beyond the addressable offset range come back empty.
	params, err = clamp.ParsePage("4611686018427387905", "100")
	require.NoError(t, err)
	res, err = clamp.GetUsageDetails(context.Background(), "day", params)
	require.NoError(t, err)
	require.Empty(t, res.Items)
	require.Equal(t, int64(1), res.Total)

	_, err = reject.ParsePage("4611686018427387905", "100")
	require.ErrorIs(t, err, ErrInvalidPagination)
}

func TestWorkflowDetailsTally(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	statuses := map[string]int{
		models.WorkflowStatusActive:    2,
		models.WorkflowStatusCompleted: 5,
		models.WorkflowStatusFailed:    1,
	}
	i := 0
	for status, n := range statuses {
		for j := 0; j < n; j++ {
			require.NoError(t, store.InsertWorkflow(ctx, workflow(fmt.Sprintf("w%d", i), status, now.Add(-time.Duration(i+1)*time.Hour))))
			i++
		}
	}
	require.NoError(t, store.InsertWorkflow(ctx, workflow("stale", models.WorkflowStatusFailed, now.AddDate(0, -2, 0))))

	svc := newTestService(store, nil)
	details, err := svc.GetWorkflowDetails(ctx, "week", "")
	require.NoError(t, err)
	require.Len(t, details, 8)
	got := map[string]int{}
	for _, d := range details {
		got[d.Status]++
	}
	require.Equal(t, statuses, got)
	for k := 1; k < len(details); k++ {
		require.GreaterOrEqual(t, details[k-1].StartTime, details[k].StartTime)
	}

	report, err := svc.GetMetricsSummary(ctx, "week")
	require.NoError(t, err)
	require.Equal(t, WorkflowMetrics{Active: 2, Completed: 5, Failed: 1}, report.WorkflowMetrics)
	require.Equal(t, int64(8), report.WorkflowMetrics.Total())

	failed, err := svc.GetWorkflowDetails(ctx, "week", " Failed ")
	require.NoError(t, err)
	require.Len(t, failed, 1)

	unknown, err := svc.GetWorkflowDetails(ctx, "week", "paused")
	require.NoError(t, err)
	require.NotNil(t, unknown)
	require.Empty(t, unknown)
}

func TestCostAnalysisTwoServices(t *testing.T) {
	store := memory.New()
	seed(t, store,
		interaction("a", now.Add(-time.Hour), "gpt-4", models.InteractionStatusSuccess, "6.00", 60, 1),
		interaction("b", now.Add(-2*time.Hour), "gpt-4", models.InteractionStatusSuccess, "4.00", 40, 1),
		interaction("c", now.Add(-3*time.Hour), "gpt-3.5", models.InteractionStatusSuccess, "2.00", 500, 1),
	)
	svc := newTestService(store, nil)

	analysis, err := svc.GetCostAnalysis(context.Background(), "week", "")
	require.NoError(t, err)
	require.True(t, analysis.TotalCost.Equal(decimal.RequireFromString("12.00")))
	require.Len(t, analysis.Services, 2)
	want := []struct {
		name  string
		cost  string
		usage int64
	}{
		{"gpt-3.5", "2.00", 500},
		{"gpt-4", "10.00", 100},
	}
	for i, w := range want {
		got := analysis.Services[i]
		require.Equal(t, w.name, got.Name)
		require.True(t, got.Cost.Equal(decimal.RequireFromString(w.cost)), "cost of %s: %s", w.name, got.Cost)
		require.Equal(t, w.usage, got.Usage)
		require.Equal(t, "tokens", got.Unit)
	}
	require.Len(t, analysis.DailyBreakdown, 1)
	require.Equal(t, "2025-03-10", analysis.DailyBreakdown[0].Date)
	require.True(t, analysis.DailyBreakdown[0].Cost.Equal(decimal.RequireFromString("12")))

	filtered, err := svc.GetCostAnalysis(context.Background(), "week", "gpt-4")
	require.NoError(t, err)
	require.True(t, filtered.TotalCost.Equal(decimal.RequireFromString("10")))
	require.Len(t, filtered.Services, 1)
	require.Equal(t, "gpt-4", filtered.Services[0].Name)
}

func TestCostAnalysisTotalMatchesServices(t *testing.T) {
	store := memory.New()
	names := []string{"a", "b", "c", "d"}
	for i := 0; i < 40; i++ {
		cost := decimal.New(int64(i*i+7), -4)
		seed(t, store, interaction(fmt.Sprintf("r%d", i), now.Add(-time.Duration(i)*time.Hour), names[i%len(names)], models.InteractionStatusSuccess, cost.String(), int64(i), 1))
	}
	svc := newTestService(store, nil)
	analysis, err := svc.GetCostAnalysis(context.Background(), "week", "")
	require.NoError(t, err)
	sum := decimal.Zero
	for _, s := range analysis.Services {
		sum = sum.Add(s.Cost.Decimal)
	}
	require.True(t, sum.Equal(analysis.TotalCost.Decimal))
	daily := decimal.Zero
	for _, d := range analysis.DailyBreakdown {
		daily = daily.Add(d.Cost.Decimal)
	}
	require.True(t, daily.Equal(analysis.TotalCost.Decimal))
}

func TestCostAnalysisDailyGroupingModes(t *testing.T) {
	store := memory.New()
	seed(t, store,
		interaction("a", now.Add(-time.Hour), "gpt-4", models.InteractionStatusSuccess, "1", 1, 1),
		interaction("b", now.Add(-2*time.Hour), "gpt-4", models.InteractionStatusSuccess, "2", 1, 1),
		interaction("c", now.Add(-26*time.Hour), "gpt-4", models.InteractionStatusSuccess, "4", 1, 1),
	)

	byDay := newTestService(store, nil)
	analysis, err := byDay.GetCostAnalysis(context.Background(), "week", "")
	require.NoError(t, err)
	require.Len(t, analysis.DailyBreakdown, 2)
	require.Equal(t, "2025-03-09", analysis.DailyBreakdown[0].Date)
	require.True(t, analysis.DailyBreakdown[0].Cost.Equal(decimal.NewFromInt(4)))
	require.Equal(t, "2025-03-10", analysis.DailyBreakdown[1].Date)
	require.True(t, analysis.DailyBreakdown[1].Cost.Equal(decimal.NewFromInt(3)))

	legacy := newTestService(store, func(o *Options) { o.DailyGrouping = DailyGroupingTimestamp })
	analysis, err = legacy.GetCostAnalysis(context.Background(), "week", "")
	require.NoError(t, err)
	require.Len(t, analysis.DailyBreakdown, 3)
	dates := []string{}
	for _, d := range analysis.DailyBreakdown {
		dates = append(dates, d.Date)
	}
	require.Equal(t, []string{"2025-03-09", "2025-03-10", "2025-03-10"}, dates)
	require.True(t, analysis.DailyBreakdown[1].Cost.Equal(decimal.NewFromInt(2)))
	require.True(t, analysis.DailyBreakdown[2].Cost.Equal(decimal.NewFromInt(1)))
}

func TestCostAnalysisDailyBreakdownUsesReportingZone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	store := memory.New()
	// 03:00 UTC on the 10th is still the 9th in New York.
	seed(t, store,
		interaction("late", time.Date(2025, time.March, 10, 3, 0, 0, 0, time.UTC), "m", models.InteractionStatusSuccess, "1", 1, 1),
		interaction("morning", time.Date(2025, time.March, 10, 11, 0, 0, 0, time.UTC), "m", models.InteractionStatusSuccess, "2", 1, 1),
	)
	svc := newTestService(store, func(o *Options) { o.Location = loc })
	analysis, err := svc.GetCostAnalysis(context.Background(), "week", "")
	require.NoError(t, err)
	require.Equal(t, "America/New_York", analysis.Timezone)
	require.Len(t, analysis.DailyBreakdown, 2)
	require.Equal(t, "2025-03-09", analysis.DailyBreakdown[0].Date)
	require.Equal(t, "2025-03-10", analysis.DailyBreakdown[1].Date)
}

func TestCostAnalysisFillEmptyDays(t *testing.T) {
	store := memory.New()
	seed(t, store,
		interaction("a", now.Add(-time.Hour), "m", models.InteractionStatusSuccess, "1.5", 1, 1),
		interaction("b", now.AddDate(0, 0, -3), "m", models.InteractionStatusSuccess, "2", 1, 1),
	)
	svc := newTestService(store, func(o *Options) { o.FillEmptyDays = true })
	analysis, err := svc.GetCostAnalysis(context.Background(), "week", "")
	require.NoError(t, err)
	require.Len(t, analysis.DailyBreakdown, 8)
	require.Equal(t, "2025-03-03", analysis.DailyBreakdown[0].Date)
	require.Equal(t, "2025-03-10", analysis.DailyBreakdown[7].Date)
	require.True(t, analysis.DailyBreakdown[0].Cost.IsZero())
	require.True(t, analysis.DailyBreakdown[4].Cost.Equal(decimal.NewFromInt(2)))
	require.True(t, analysis.DailyBreakdown[7].Cost.Equal(decimal.RequireFromString("1.5")))
}

func TestTimeframePolicy(t *testing.T) {
	svc := newTestService(memory.New(), nil)
	report, err := svc.GetMetricsSummary(context.Background(), "year")
	require.NoError(t, err)
	require.Equal(t, "week", report.Timeframe)
	require.Equal(t, now.AddDate(0, 0, -7).Format(time.RFC3339), report.Start)
	require.Equal(t, now.Format(time.RFC3339), report.End)

	month, err := svc.GetMetricsSummary(context.Background(), "month")
	require.NoError(t, err)
	require.Equal(t, "2025-02-10T12:00:00Z", month.Start)

	strict := newTestService(memory.New(), func(o *Options) {
		o.TimeframePolicy = timeutil.TimeframePolicy{Default: timeutil.TimeframeWeek, RejectUnknown: true}
	})
	_, err = strict.GetMetricsSummary(context.Background(), "year")
	require.ErrorIs(t, err, ErrInvalidTimeframe)
	require.False(t, errors.Is(err, ErrStoreUnavailable))
	_, err = strict.GetCostAnalysis(context.Background(), "fortnight", "")
	require.ErrorIs(t, err, ErrInvalidTimeframe)
}

func TestGetUsageDetail(t *testing.T) {
	store := memory.New()
	seed(t, store, interaction("abc", now, "gpt-4", models.InteractionStatusSuccess, "0.5", 10, 1))
	svc := newTestService(store, nil)

	detail, err := svc.GetUsageDetail(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, "abc", detail.ID)
	require.Equal(t, "2025-03-10T12:00:00.000Z", detail.Timestamp)

	_, err = svc.GetUsageDetail(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, err, recordstore.ErrNotFound)

	_, err = svc.GetUsageDetail(context.Background(), " ")
	require.ErrorIs(t, err, ErrNotFound)
}

type failingStore struct {
	recordstore.Store
	err   error
	calls atomic.Int32
}

func (f *failingStore) GroupAggregate(ctx context.Context, kind recordstore.Kind, filter recordstore.Filter, groupBy recordstore.GroupBy, aggregates []recordstore.Aggregate) ([]recordstore.GroupResult, error) {
	if kind == recordstore.KindWorkflow {
		f.calls.Add(1)
		return nil, f.err
	}
	return f.Store.GroupAggregate(ctx, kind, filter, groupBy, aggregates)
}

func (f *failingStore) ListWorkflows(ctx context.Context, filter recordstore.Filter, order recordstore.Order, offset, limit int) ([]models.WorkflowRecord, error) {
	f.calls.Add(1)
	return nil, f.err
}

func TestStoreFailureFailsWholeReport(t *testing.T) {
	store := memory.New()
	seed(t, store, interaction("a", now, "m", models.InteractionStatusSuccess, "1", 1, 1))
	failing := &failingStore{Store: store, err: errors.New("dial tcp: connection refused")}
	svc := newTestService(failing, nil)

	report, err := svc.GetMetricsSummary(context.Background(), "day")
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.Equal(t, KindStoreUnavailable, KindOf(err))
	require.Equal(t, AggregateReport{}, report)

	_, err = svc.GetWorkflowDetails(context.Background(), "day", "")
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.Contains(t, err.Error(), "connection refused")
}

type blockingStore struct {
	recordstore.Store
}

func (b blockingStore) Count(ctx context.Context, kind recordstore.Kind, filter recordstore.Filter) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestStoreTimeoutIsUnavailable(t *testing.T) {
	guarded := breaker.New(blockingStore{Store: memory.New()}, breaker.Settings{QueryTimeout: 20 * time.Millisecond})
	svc := newTestService(guarded, nil)

	_, err := svc.GetMetricsSummary(context.Background(), "day")
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallerCancellationPropagates(t *testing.T) {
	svc := newTestService(blockingStore{Store: memory.New()}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := svc.GetMetricsSummary(ctx, "day")
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, KindOf(err))

	_, err = svc.GetUsageDetails(ctx, "day", pagination.Params{Page: 1, Limit: 10})
	require.ErrorIs(t, err, context.Canceled)
}

type gaugeStore struct {
	recordstore.Store
	inflight atomic.Int32
	peak     atomic.Int32
}

func (g *gaugeStore) enter() func() {
	n := g.inflight.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return func() { g.inflight.Add(-1) }
}

func (g *gaugeStore) Count(ctx context.Context, kind recordstore.Kind, filter recordstore.Filter) (int64, error) {
	defer g.enter()()
	return g.Store.Count(ctx, kind, filter)
}

func (g *gaugeStore) GroupAggregate(ctx context.Context, kind recordstore.Kind, filter recordstore.Filter, groupBy recordstore.GroupBy, aggregates []recordstore.Aggregate) ([]recordstore.GroupResult, error) {
	defer g.enter()()
	return g.Store.GroupAggregate(ctx, kind, filter, groupBy, aggregates)
}

func TestMaxParallelQueriesBoundsFanOut(t *testing.T) {
	gauge := &gaugeStore{Store: memory.New()}
	svc := newTestService(gauge, func(o *Options) { o.MaxParallelQueries = 1 })
	_, err := svc.GetMetricsSummary(context.Background(), "day")
	require.NoError(t, err)
	require.Equal(t, int32(1), gauge.peak.Load())
}

type recorder struct {
	mu       sync.Mutex
	outcomes map[string][]string
}

func (r *recorder) RecordQuery(operation, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string][]string{}
	}
	r.outcomes[operation] = append(r.outcomes[operation], outcome)
}

func TestOperationsAreRecorded(t *testing.T) {
	rec := &recorder{}
	svc := newTestService(memory.New(), func(o *Options) {
		o.Metrics = rec
		o.TimeframePolicy = timeutil.TimeframePolicy{Default: timeutil.TimeframeWeek, RejectUnknown: true}
	})
	_, err := svc.GetCostAnalysis(context.Background(), "day", "")
	require.NoError(t, err)
	_, err = svc.GetCostAnalysis(context.Background(), "decade", "")
	require.Error(t, err)
	_, err = svc.GetUsageDetail(context.Background(), "nope")
	require.Error(t, err)

	require.Equal(t, []string{"ok", "invalid_timeframe"}, rec.outcomes["cost_analysis"])
	require.Equal(t, []string{"not_found"}, rec.outcomes["usage_detail"])
}
