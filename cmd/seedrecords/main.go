package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"
	decimal "github.com/shopspring/decimal"

	"github.com/ncecere/usage_analytics/internal/app"
	"github.com/ncecere/usage_analytics/internal/config"
	"github.com/ncecere/usage_analytics/internal/models"
)

type modelPrice struct {
	name        string
	priceInput  decimal.Decimal
	priceOutput decimal.Decimal
}

// Per-million token prices.
var catalog = []modelPrice{
	{name: "gpt-4o", priceInput: decimal.RequireFromString("2.50"), priceOutput: decimal.RequireFromString("10.00")},
	{name: "gpt-4o-mini", priceInput: decimal.RequireFromString("0.15"), priceOutput: decimal.RequireFromString("0.60")},
	{name: "claude-sonnet", priceInput: decimal.RequireFromString("3.00"), priceOutput: decimal.RequireFromString("15.00")},
}

var workflowNames = []string{"invoice sync", "ticket triage", "nightly summary"}

func main() {
	configFile := flag.String("config", "", "path to config file")
	interactions := flag.Int("interactions", 500, "interaction records to write")
	workflows := flag.Int("workflows", 40, "workflow records to write")
	days := flag.Int("days", 30, "spread records over this many trailing days")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx := context.Background()
	backend, err := app.OpenBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("open record store: %v", err)
	}
	defer backend.Close()
	if cfg.Store.Driver == config.DriverMemory {
		log.Printf("memory driver selected; records will not outlive this process")
	}

	rng := rand.New(rand.NewSource(*seed))
	now := time.Now().UTC()
	span := time.Duration(*days) * 24 * time.Hour

	for i := 0; i < *interactions; i++ {
		rec := randomInteraction(rng, now.Add(-time.Duration(rng.Int63n(int64(span)))))
		if err := backend.Store.InsertInteraction(ctx, rec); err != nil {
			log.Fatalf("insert interaction %s: %v", rec.ID, err)
		}
	}
	for i := 0; i < *workflows; i++ {
		rec := randomWorkflow(rng, now.Add(-time.Duration(rng.Int63n(int64(span)))), now)
		if err := backend.Store.InsertWorkflow(ctx, rec); err != nil {
			log.Fatalf("insert workflow %s: %v", rec.ID, err)
		}
	}
	log.Printf("seeded %d interactions and %d workflows into %s store", *interactions, *workflows, cfg.Store.Driver)
}

func randomInteraction(rng *rand.Rand, ts time.Time) models.InteractionRecord {
	m := catalog[rng.Intn(len(catalog))]
	prompt := int64(50 + rng.Intn(2000))
	completion := int64(10 + rng.Intn(800))
	million := decimal.NewFromInt(1_000_000)
	cost := m.priceInput.Mul(decimal.NewFromInt(prompt)).Add(m.priceOutput.Mul(decimal.NewFromInt(completion))).Div(million)

	rec := models.InteractionRecord{
		ID:        uuid.NewString(),
		Timestamp: ts,
		Model:     m.name,
		Usage: models.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
		Duration: 0.2 + rng.Float64()*4,
		Status:   models.InteractionStatusSuccess,
		Cost:     cost.Round(6),
	}
	if rng.Intn(10) == 0 {
		rec.Status = models.InteractionStatusError
		rec.ErrorMessage = "upstream returned 429"
	}
	return rec
}

func randomWorkflow(rng *rand.Rand, start, now time.Time) models.WorkflowRecord {
	rec := models.WorkflowRecord{
		ID:        uuid.NewString(),
		Name:      workflowNames[rng.Intn(len(workflowNames))],
		Status:    models.WorkflowStatuses[rng.Intn(len(models.WorkflowStatuses))],
		StartTime: start,
	}
	steps := 2 + rng.Intn(4)
	for i := 0; i < steps; i++ {
		rec.Steps = append(rec.Steps, models.StepRecord{
			Position: i + 1,
			Name:     fmt.Sprintf("step-%d", i+1),
			Status:   models.StepStatusCompleted,
		})
	}
	if !rec.Terminated() {
		rec.Steps[steps-1].Status = models.StepStatusActive
		return rec
	}
	if rec.Status == models.WorkflowStatusFailed {
		rec.Steps[steps-1].Status = models.StepStatusFailed
	}
	end := start.Add(time.Duration(30+rng.Intn(900)) * time.Second)
	if end.After(now) {
		end = now
	}
	duration := end.Sub(start).Seconds()
	rec.EndTime = &end
	rec.Duration = &duration
	return rec
}
