package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ncecere/usage_analytics/internal/config"
	"github.com/ncecere/usage_analytics/internal/health"
	"github.com/ncecere/usage_analytics/internal/observability"
	"github.com/ncecere/usage_analytics/internal/pagination"
	"github.com/ncecere/usage_analytics/internal/recordstore"
	"github.com/ncecere/usage_analytics/internal/recordstore/breaker"
	"github.com/ncecere/usage_analytics/internal/services/analytics"
	"github.com/ncecere/usage_analytics/internal/timeutil"
)

// Container aggregates runtime dependencies for handlers and services.
type Container struct {
	Config            *config.Config
	Backend           *Backend
	Store             recordstore.Store
	Breaker           *breaker.Guard
	Analytics         *analytics.Service
	HealthMon         *health.Monitor
	Observability     *observability.Provider
	ReportingLocation *time.Location
}

// NewContainer builds a dependency container around an opened backend.
func NewContainer(ctx context.Context, cfg *config.Config, backend *Backend) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if backend == nil || backend.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}

	reportingLoc, err := time.LoadLocation(cfg.Reporting.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load reporting timezone: %w", err)
	}

	obsProvider, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	guard := breaker.New(backend.Store, BreakerSettings(cfg, obsProvider))

	opts := AnalyticsOptions(cfg, reportingLoc)
	if obsProvider != nil {
		opts.Metrics = obsProvider
	}
	svc := analytics.NewService(guard, opts)

	monitor := health.NewMonitor(guard, 15*time.Second, 3*time.Second, slog.Default())
	monitor.Start(ctx)

	return &Container{
		Config:            cfg,
		Backend:           backend,
		Store:             guard,
		Breaker:           guard,
		Analytics:         svc,
		HealthMon:         monitor,
		Observability:     obsProvider,
		ReportingLocation: reportingLoc,
	}, nil
}

// BreakerSettings maps the breaker and store sections onto guard settings.
func BreakerSettings(cfg *config.Config, obs *observability.Provider) breaker.Settings {
	return breaker.Settings{
		Name:             "recordstore-" + cfg.Store.Driver,
		Disabled:         !cfg.Breaker.Enabled,
		MaxRequests:      cfg.Breaker.MaxRequests,
		Interval:         cfg.Breaker.Interval,
		Timeout:          cfg.Breaker.Timeout,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		QueryTimeout:     cfg.Store.QueryTimeout,
		Logger:           slog.Default(),
		OnStateChange: func(name string, to gobreaker.State) {
			obs.RecordBreakerState(name, int(to))
		},
	}
}

// AnalyticsOptions maps the analytics section onto service options.
func AnalyticsOptions(cfg *config.Config, loc *time.Location) analytics.Options {
	a := cfg.Analytics
	return analytics.Options{
		Location: loc,
		TimeframePolicy: timeutil.TimeframePolicy{
			Default:       timeutil.Timeframe(a.DefaultTimeframe),
			RejectUnknown: a.RejectUnknownTimeframe,
		},
		Pagination: pagination.Policy{
			Mode:         pagination.Mode(a.Pagination.Mode),
			DefaultPage:  1,
			DefaultLimit: a.Pagination.DefaultLimit,
			MaxLimit:     a.Pagination.MaxLimit,
		},
		DailyGrouping:      analytics.DailyGrouping(a.DailyGrouping),
		FillEmptyDays:      a.FillEmptyDays,
		MaxParallelQueries: a.MaxParallelQueries,
		Logger:             slog.Default(),
	}
}

// Close shuts down observability exporters and the backend connection.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.Observability.Shutdown(ctx); err != nil {
		slog.Warn("observability shutdown failed", slog.String("error", err.Error()))
	}
	return c.Backend.Close()
}
