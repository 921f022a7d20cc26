package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/ncecere/usage_analytics/internal/app"
	"github.com/ncecere/usage_analytics/internal/config"
	"github.com/ncecere/usage_analytics/internal/report"
)

func main() {
	configFile := flag.String("config", "", "path to config file")
	timeframe := flag.String("timeframe", "week", "day, week or month")
	model := flag.String("model", "", "restrict costs to one model")
	width := flag.Int("width", 60, "chart width")
	height := flag.Int("height", 10, "chart height")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	// Reports are one-shot; exporters would only delay exit.
	cfg.Observability.EnableMetrics = false
	cfg.Observability.EnableOTLP = false

	backend, err := app.OpenBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("open record store: %v", err)
	}
	container, err := app.NewContainer(ctx, cfg, backend)
	if err != nil {
		_ = backend.Close()
		log.Fatalf("build container: %v", err)
	}
	defer container.Close(context.Background())

	summary, err := container.Analytics.GetMetricsSummary(ctx, *timeframe)
	if err != nil {
		log.Fatalf("metrics summary: %v", err)
	}
	costs, err := container.Analytics.GetCostAnalysis(ctx, *timeframe, *model)
	if err != nil {
		log.Fatalf("cost analysis: %v", err)
	}
	if err := report.Write(os.Stdout, summary, costs, report.ChartOptions{Width: *width, Height: *height}); err != nil {
		log.Fatalf("write report: %v", err)
	}
}
