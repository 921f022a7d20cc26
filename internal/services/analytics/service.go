// Package analytics computes usage, cost and workflow reports over a record
// store for a relative time window.
package analytics

import (
	"context"
	"log/slog"
	"strings"
	"time"

	decimal "github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ncecere/usage_analytics/internal/models"
	"github.com/ncecere/usage_analytics/internal/pagination"
	"github.com/ncecere/usage_analytics/internal/recordstore"
	"github.com/ncecere/usage_analytics/internal/timeutil"
)

const tracerName = "github.com/ncecere/usage_analytics/internal/services/analytics"

// DailyGrouping selects how the cost breakdown buckets interactions.
type DailyGrouping string

const (
	// DailyGroupingDay truncates timestamps to the calendar day in the
	// reporting timezone.
	DailyGroupingDay DailyGrouping = "day"
	// DailyGroupingTimestamp emits one row per distinct raw timestamp, dated
	// by its UTC day. Kept for consumers of the legacy output.
	DailyGroupingTimestamp DailyGrouping = "timestamp"
)

// Recorder receives one observation per completed operation.
type Recorder interface {
	RecordQuery(operation, outcome string, duration time.Duration)
}

// Options configures a Service. Zero values select the documented defaults.
type Options struct {
	Location           *time.Location
	Now                func() time.Time
	TimeframePolicy    timeutil.TimeframePolicy
	Pagination         pagination.Policy
	DailyGrouping      DailyGrouping
	FillEmptyDays      bool
	MaxParallelQueries int
	Metrics            Recorder
	Logger             *slog.Logger
}

// Service answers analytics queries. It keeps no state between calls; every
// report is recomputed from the store.
type Service struct {
	store    recordstore.Store
	loc      *time.Location
	now      func() time.Time
	policy   timeutil.TimeframePolicy
	pages    pagination.Policy
	daily    DailyGrouping
	fillDays bool
	parallel int
	metrics  Recorder
	logger   *slog.Logger
}

// NewService builds a Service reading from store.
func NewService(store recordstore.Store, opts Options) *Service {
	s := &Service{
		store:    store,
		loc:      timeutil.EnsureLocation(opts.Location),
		now:      opts.Now,
		policy:   opts.TimeframePolicy,
		pages:    opts.Pagination,
		daily:    opts.DailyGrouping,
		fillDays: opts.FillEmptyDays,
		parallel: opts.MaxParallelQueries,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.policy.Default == "" {
		s.policy.Default = timeutil.TimeframeWeek
	}
	if s.pages.Mode == "" {
		s.pages.Mode = pagination.ModeClamp
	}
	if s.daily == "" {
		s.daily = DailyGroupingDay
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// AIUsageMetrics summarizes interactions in the window.
type AIUsageMetrics struct {
	TotalCalls      int64   `json:"totalCalls"`
	AvgResponseTime float64 `json:"avgResponseTime"`
	SuccessRate     float64 `json:"successRate"`
	TotalTokens     int64   `json:"totalTokens"`
}

// WorkflowMetrics tallies workflows by status.
type WorkflowMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Total returns the number of workflows across all statuses.
func (w WorkflowMetrics) Total() int64 { return w.Active + w.Completed + w.Failed }

// ServiceCost is the spend attributed to one model.
type ServiceCost struct {
	Name string `json:"name"`
	Cost Amount `json:"cost"`
}

// CostMetrics holds the grand total and its per-model split.
type CostMetrics struct {
	Total     Amount        `json:"total"`
	ByService []ServiceCost `json:"byService"`
}

// AggregateReport is the metrics summary for one window.
type AggregateReport struct {
	Timeframe       string          `json:"timeframe"`
	Start           string          `json:"start"`
	End             string          `json:"end"`
	Timezone        string          `json:"timezone"`
	AIUsage         AIUsageMetrics  `json:"aiUsage"`
	WorkflowMetrics WorkflowMetrics `json:"workflowMetrics"`
	CostMetrics     CostMetrics     `json:"costMetrics"`
}

// ServiceUsage is one model's row in a cost analysis.
type ServiceUsage struct {
	Name  string `json:"name"`
	Cost  Amount `json:"cost"`
	Usage int64  `json:"usage"`
	Unit  string `json:"unit"`
}

// DailyCost is one row of the daily breakdown.
type DailyCost struct {
	Date string `json:"date"`
	Cost Amount `json:"cost"`
}

// CostAnalysis breaks spend down by model and by day.
type CostAnalysis struct {
	Timeframe      string         `json:"timeframe"`
	Start          string         `json:"start"`
	End            string         `json:"end"`
	Timezone       string         `json:"timezone"`
	TotalCost      Amount         `json:"totalCost"`
	Services       []ServiceUsage `json:"services"`
	DailyBreakdown []DailyCost    `json:"dailyBreakdown"`
}

// ParsePage reads textual page and limit values under the service policy.
func (s *Service) ParsePage(pageRaw, limitRaw string) (pagination.Params, error) {
	params, err := s.pages.Parse(pageRaw, limitRaw)
	if err != nil {
		return pagination.Params{}, &Error{Kind: KindInvalidPagination, Message: "page and limit must be positive integers", Err: err}
	}
	return params, nil
}

// GetMetricsSummary computes usage totals, success rate, workflow tallies and
// per-model cost for the window. The four store reads run concurrently and any
// failure fails the whole report.
func (s *Service) GetMetricsSummary(ctx context.Context, timeframe string) (AggregateReport, error) {
	var report AggregateReport
	err := s.observe(ctx, "metrics_summary", timeframe, func(ctx context.Context) error {
		win, err := s.window(timeframe)
		if err != nil {
			return err
		}
		filter := recordstore.Filter{Start: win.Start(), End: win.End()}

		usageAggs := []recordstore.Aggregate{
			recordstore.Count(recordstore.FieldID),
			recordstore.Avg(recordstore.FieldDuration),
			recordstore.Sum(recordstore.FieldTotalTokens),
		}
		costAgg := recordstore.Sum(recordstore.FieldCost)
		workflowAgg := recordstore.Count(recordstore.FieldID)

		var (
			usage     []recordstore.GroupResult
			succeeded int64
			workflows []recordstore.GroupResult
			costs     []recordstore.GroupResult
		)
		g, gctx := s.group(ctx)
		g.Go(func() error {
			res, err := s.store.GroupAggregate(gctx, recordstore.KindInteraction, filter, recordstore.GroupBy{}, usageAggs)
			usage = res
			return err
		})
		g.Go(func() error {
			f := filter
			f.Status = models.InteractionStatusSuccess
			n, err := s.store.Count(gctx, recordstore.KindInteraction, f)
			succeeded = n
			return err
		})
		g.Go(func() error {
			res, err := s.store.GroupAggregate(gctx, recordstore.KindWorkflow, filter,
				recordstore.GroupBy{Field: recordstore.FieldStatus}, []recordstore.Aggregate{workflowAgg})
			workflows = res
			return err
		})
		g.Go(func() error {
			res, err := s.store.GroupAggregate(gctx, recordstore.KindInteraction, filter,
				recordstore.GroupBy{Field: recordstore.FieldModel}, []recordstore.Aggregate{costAgg})
			costs = res
			return err
		})
		if err := g.Wait(); err != nil {
			return err
		}

		report = AggregateReport{
			Timeframe: win.Period(),
			Start:     win.StartString(),
			End:       win.EndString(),
			Timezone:  win.Timezone(),
		}
		var overall recordstore.GroupResult
		if len(usage) > 0 {
			overall = usage[0]
		}
		total := overall.Int(usageAggs[0])
		report.AIUsage = AIUsageMetrics{
			TotalCalls:      total,
			AvgResponseTime: overall.Decimal(usageAggs[1]).InexactFloat64(),
			SuccessRate:     SuccessRate(succeeded, total),
			TotalTokens:     overall.Int(usageAggs[2]),
		}
		for _, grp := range workflows {
			n := grp.Int(workflowAgg)
			switch grp.Key {
			case models.WorkflowStatusActive:
				report.WorkflowMetrics.Active = n
			case models.WorkflowStatusCompleted:
				report.WorkflowMetrics.Completed = n
			case models.WorkflowStatusFailed:
				report.WorkflowMetrics.Failed = n
			}
		}
		sum := decimal.Zero
		report.CostMetrics.ByService = make([]ServiceCost, 0, len(costs))
		for _, grp := range costs {
			cost := grp.Decimal(costAgg)
			sum = sum.Add(cost)
			report.CostMetrics.ByService = append(report.CostMetrics.ByService, ServiceCost{Name: grp.Key, Cost: NewAmount(cost)})
		}
		report.CostMetrics.Total = NewAmount(sum)
		return nil
	})
	if err != nil {
		return AggregateReport{}, err
	}
	return report, nil
}

// SuccessRate returns succeeded/total as a percentage. An empty window counts
// as fully successful.
func SuccessRate(succeeded, total int64) float64 {
	if total <= 0 {
		return 100
	}
	return float64(succeeded) / float64(total) * 100
}

// GetCostAnalysis breaks spend down by model and by day. A non-empty service
// restricts every figure to that model.
func (s *Service) GetCostAnalysis(ctx context.Context, timeframe, service string) (CostAnalysis, error) {
	var analysis CostAnalysis
	err := s.observe(ctx, "cost_analysis", timeframe, func(ctx context.Context) error {
		win, err := s.window(timeframe)
		if err != nil {
			return err
		}
		filter := recordstore.Filter{
			Start: win.Start(),
			End:   win.End(),
			Model: strings.TrimSpace(service),
		}
		costAgg := recordstore.Sum(recordstore.FieldCost)
		tokenAgg := recordstore.Sum(recordstore.FieldTotalTokens)
		dailyBy := recordstore.GroupBy{Field: recordstore.FieldDay, Location: win.Location()}
		if s.daily == DailyGroupingTimestamp {
			dailyBy = recordstore.GroupBy{Field: recordstore.FieldTimestamp}
		}

		var byModel, byDay []recordstore.GroupResult
		g, gctx := s.group(ctx)
		g.Go(func() error {
			res, err := s.store.GroupAggregate(gctx, recordstore.KindInteraction, filter,
				recordstore.GroupBy{Field: recordstore.FieldModel}, []recordstore.Aggregate{costAgg, tokenAgg})
			byModel = res
			return err
		})
		g.Go(func() error {
			res, err := s.store.GroupAggregate(gctx, recordstore.KindInteraction, filter, dailyBy, []recordstore.Aggregate{costAgg})
			byDay = res
			return err
		})
		if err := g.Wait(); err != nil {
			return err
		}

		analysis = CostAnalysis{
			Timeframe: win.Period(),
			Start:     win.StartString(),
			End:       win.EndString(),
			Timezone:  win.Timezone(),
		}
		total := decimal.Zero
		analysis.Services = make([]ServiceUsage, 0, len(byModel))
		for _, grp := range byModel {
			cost := grp.Decimal(costAgg)
			total = total.Add(cost)
			analysis.Services = append(analysis.Services, ServiceUsage{
				Name:  grp.Key,
				Cost:  NewAmount(cost),
				Usage: grp.Int(tokenAgg),
				Unit:  "tokens",
			})
		}
		analysis.TotalCost = NewAmount(total)
		analysis.DailyBreakdown = s.dailyBreakdown(win, byDay, costAgg)
		return nil
	})
	if err != nil {
		return CostAnalysis{}, err
	}
	return analysis, nil
}

func (s *Service) dailyBreakdown(win timeutil.Window, groups []recordstore.GroupResult, costAgg recordstore.Aggregate) []DailyCost {
	if s.daily == DailyGroupingTimestamp {
		rows := make([]DailyCost, 0, len(groups))
		for _, grp := range groups {
			date := grp.Key
			if ts, err := time.Parse(recordstore.TimestampKeyLayout, grp.Key); err == nil {
				date = ts.UTC().Format(timeutil.DayLayout)
			}
			rows = append(rows, DailyCost{Date: date, Cost: NewAmount(grp.Decimal(costAgg))})
		}
		return rows
	}
	if !s.fillDays {
		rows := make([]DailyCost, 0, len(groups))
		for _, grp := range groups {
			rows = append(rows, DailyCost{Date: grp.Key, Cost: NewAmount(grp.Decimal(costAgg))})
		}
		return rows
	}
	byKey := make(map[string]decimal.Decimal, len(groups))
	for _, grp := range groups {
		byKey[grp.Key] = grp.Decimal(costAgg)
	}
	days := win.Days()
	rows := make([]DailyCost, 0, len(days))
	for _, day := range days {
		key := timeutil.DayKey(day, win.Location())
		rows = append(rows, DailyCost{Date: key, Cost: NewAmount(byKey[key])})
	}
	return rows
}

// GetUsageDetails returns one page of interactions in the window, newest
// first. The count and the page are separate reads.
func (s *Service) GetUsageDetails(ctx context.Context, timeframe string, params pagination.Params) (pagination.Result[UsageDetail], error) {
	var page pagination.Result[UsageDetail]
	err := s.observe(ctx, "usage_details", timeframe, func(ctx context.Context) error {
		win, err := s.window(timeframe)
		if err != nil {
			return err
		}
		normalized, err := s.pages.Normalize(params)
		if err != nil {
			return &Error{Kind: KindInvalidPagination, Message: "page and limit must be positive integers", Err: err}
		}
		filter := recordstore.Filter{Start: win.Start(), End: win.End()}
		res, err := pagination.Fetch(ctx, normalized,
			func(ctx context.Context) (int64, error) {
				return s.store.Count(ctx, recordstore.KindInteraction, filter)
			},
			func(ctx context.Context, offset, limit int) ([]models.InteractionRecord, error) {
				return s.store.ListInteractions(ctx, filter, recordstore.OrderNewestFirst, offset, limit)
			},
		)
		if err != nil {
			return err
		}
		page = pagination.Map(res, NewUsageDetail)
		return nil
	})
	if err != nil {
		return pagination.Result[UsageDetail]{}, err
	}
	return page, nil
}

// GetUsageDetail returns a single interaction by id.
func (s *Service) GetUsageDetail(ctx context.Context, id string) (UsageDetail, error) {
	var detail UsageDetail
	err := s.observe(ctx, "usage_detail", "", func(ctx context.Context) error {
		id = strings.TrimSpace(id)
		if id == "" {
			return &Error{Kind: KindNotFound, Message: "interaction id required"}
		}
		rec, err := s.store.GetInteraction(ctx, id)
		if err != nil {
			return err
		}
		detail = NewUsageDetail(rec)
		return nil
	})
	if err != nil {
		return UsageDetail{}, err
	}
	return detail, nil
}

// GetWorkflowDetails lists workflows started in the window, newest first,
// optionally restricted to one status. Unknown statuses match nothing.
func (s *Service) GetWorkflowDetails(ctx context.Context, timeframe, status string) ([]WorkflowDetail, error) {
	var details []WorkflowDetail
	err := s.observe(ctx, "workflow_details", timeframe, func(ctx context.Context) error {
		win, err := s.window(timeframe)
		if err != nil {
			return err
		}
		filter := recordstore.Filter{
			Start:  win.Start(),
			End:    win.End(),
			Status: strings.ToLower(strings.TrimSpace(status)),
		}
		recs, err := s.store.ListWorkflows(ctx, filter, recordstore.OrderNewestFirst, 0, 0)
		if err != nil {
			return err
		}
		details = make([]WorkflowDetail, 0, len(recs))
		for _, rec := range recs {
			details = append(details, NewWorkflowDetail(rec))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

func (s *Service) window(raw string) (timeutil.Window, error) {
	tf, err := s.policy.Parse(raw)
	if err != nil {
		return timeutil.Window{}, &Error{Kind: KindInvalidTimeframe, Message: "timeframe must be one of day, week, month", Err: err}
	}
	win, err := timeutil.ResolveTimeframe(tf, s.now(), s.loc)
	if err != nil {
		return timeutil.Window{}, &Error{Kind: KindInvalidTimeframe, Message: "timeframe must be one of day, week, month", Err: err}
	}
	return win, nil
}

func (s *Service) group(ctx context.Context) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	if s.parallel > 0 {
		g.SetLimit(s.parallel)
	}
	return g, gctx
}

// observe wraps an operation with a span, a metric observation and a warning
// log on failure, and maps the failure onto the public error taxonomy.
func (s *Service) observe(ctx context.Context, op, timeframe string, fn func(ctx context.Context) error) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "analytics."+op,
		trace.WithAttributes(attribute.String("analytics.timeframe", timeframe)))
	defer span.End()

	started := time.Now()
	err := classify(ctx, fn(ctx))
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "canceled"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		s.logger.Warn("analytics operation failed",
			slog.String("operation", op),
			slog.String("timeframe", timeframe),
			slog.String("error", err.Error()),
		)
	}
	if s.metrics != nil {
		s.metrics.RecordQuery(op, outcome, time.Since(started))
	}
	return err
}
