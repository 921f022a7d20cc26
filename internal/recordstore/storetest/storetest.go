// Package storetest holds a driver-agnostic conformance suite for
// recordstore.ReadWriter implementations.
package storetest

import (
	"context"
	"testing"
	"time"

	decimal "github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/usage_analytics/internal/models"
	"github.com/ncecere/usage_analytics/internal/recordstore"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) recordstore.ReadWriter

// Base is the reference instant all fixtures hang off.
var Base = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

// Run exercises the full query contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CountAndListWindow", func(t *testing.T) { testCountAndList(t, newStore(t)) })
	t.Run("EqualityFilters", func(t *testing.T) { testEqualityFilters(t, newStore(t)) })
	t.Run("GroupByModel", func(t *testing.T) { testGroupByModel(t, newStore(t)) })
	t.Run("GroupWithoutFieldOverEmptyWindow", func(t *testing.T) { testEmptyGroup(t, newStore(t)) })
	t.Run("GroupByDay", func(t *testing.T) { testGroupByDay(t, newStore(t)) })
	t.Run("WorkflowsWithSteps", func(t *testing.T) { testWorkflows(t, newStore(t)) })
	t.Run("GetInteraction", func(t *testing.T) { testGetInteraction(t, newStore(t)) })
	t.Run("Duplicate", func(t *testing.T) { testDuplicate(t, newStore(t)) })
}

// Interaction builds a valid interaction record.
func Interaction(id string, ts time.Time, model, status, cost string, tokens int64, duration float64) models.InteractionRecord {
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
		rec.ErrorMessage = "upstream timeout"
	}
	return rec
}

func insertAll(t *testing.T, s recordstore.Writer, recs ...models.InteractionRecord) {
	t.Helper()
	for _, rec := range recs {
		require.NoError(t, s.InsertInteraction(context.Background(), rec))
	}
}

func testCountAndList(t *testing.T, s recordstore.ReadWriter) {
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		insertAll(t, s, Interaction(
			idFor("int", i), Base.Add(-time.Duration(i)*time.Hour), "gpt-4o", models.InteractionStatusSuccess, "0.10", 100, 1.5,
		))
	}
	// Outside the window.
	insertAll(t, s, Interaction("old", Base.AddDate(0, 0, -10), "gpt-4o", models.InteractionStatusSuccess, "1", 1, 1))

	filter := recordstore.Filter{Start: Base.AddDate(0, 0, -7), End: Base}
	n, err := s.Count(ctx, recordstore.KindInteraction, filter)
	require.NoError(t, err)
	require.Equal(t, int64(15), n)

	first, err := s.ListInteractions(ctx, filter, recordstore.OrderNewestFirst, 0, 10)
	require.NoError(t, err)
	require.Len(t, first, 10)
	require.Equal(t, idFor("int", 0), first[0].ID)
	require.True(t, first[0].Timestamp.Equal(Base))

	second, err := s.ListInteractions(ctx, filter, recordstore.OrderNewestFirst, 10, 10)
	require.NoError(t, err)
	require.Len(t, second, 5)
	require.Equal(t, idFor("int", 14), second[4].ID)

	oldest, err := s.ListInteractions(ctx, filter, recordstore.OrderOldestFirst, 0, 1)
	require.NoError(t, err)
	require.Len(t, oldest, 1)
	require.Equal(t, idFor("int", 14), oldest[0].ID)

	// Closed bounds: a window that starts and ends on one record still sees it.
	exact := recordstore.Filter{Start: Base, End: Base}
	n, err = s.Count(ctx, recordstore.KindInteraction, exact)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func testEqualityFilters(t *testing.T, s recordstore.ReadWriter) {
	ctx := context.Background()
	insertAll(t, s,
		Interaction("a", Base, "gpt-4o", models.InteractionStatusSuccess, "1", 10, 1),
		Interaction("b", Base, "gpt-4o", models.InteractionStatusError, "0", 10, 1),
		Interaction("c", Base, "claude", models.InteractionStatusSuccess, "1", 10, 1),
	)
	window := recordstore.Filter{Start: Base.Add(-time.Hour), End: Base}

	byModel := window
	byModel.Model = "gpt-4o"
	n, err := s.Count(ctx, recordstore.KindInteraction, byModel)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	byStatus := window
	byStatus.Status = models.InteractionStatusSuccess
	n, err = s.Count(ctx, recordstore.KindInteraction, byStatus)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	list, err := s.ListInteractions(ctx, recordstore.Filter{Start: window.Start, End: window.End, Status: models.InteractionStatusError}, recordstore.OrderNewestFirst, 0, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "upstream timeout", list[0].ErrorMessage)
}

func testGroupByModel(t *testing.T, s recordstore.ReadWriter) {
	ctx := context.Background()
	insertAll(t, s,
		Interaction("a", Base, "gpt-4o", models.InteractionStatusSuccess, "5.00", 100, 1),
		Interaction("b", Base.Add(-time.Minute), "gpt-4o", models.InteractionStatusSuccess, "2.50", 50, 3),
		Interaction("c", Base.Add(-2*time.Minute), "claude", models.InteractionStatusSuccess, "4.50", 10, 2),
	)
	filter := recordstore.Filter{Start: Base.Add(-time.Hour), End: Base}
	aggs := []recordstore.Aggregate{
		recordstore.Sum(recordstore.FieldCost),
		recordstore.Sum(recordstore.FieldTotalTokens),
		recordstore.Count(recordstore.FieldID),
		recordstore.Avg(recordstore.FieldDuration),
	}
	groups, err := s.GroupAggregate(ctx, recordstore.KindInteraction, filter, recordstore.GroupBy{Field: recordstore.FieldModel}, aggs)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	require.Equal(t, "claude", groups[0].Key)
	require.Equal(t, "gpt-4o", groups[1].Key)
	requireDecimal(t, "4.5", groups[0].Decimal(aggs[0]))
	requireDecimal(t, "7.5", groups[1].Decimal(aggs[0]))
	require.Equal(t, int64(150), groups[1].Int(aggs[1]))
	require.Equal(t, int64(2), groups[1].Int(aggs[2]))
	requireDecimal(t, "2", groups[1].Decimal(aggs[3]))
}

func testEmptyGroup(t *testing.T, s recordstore.ReadWriter) {
	ctx := context.Background()
	insertAll(t, s, Interaction("a", Base.AddDate(0, 0, -30), "gpt-4o", models.InteractionStatusSuccess, "1", 1, 1))
	filter := recordstore.Filter{Start: Base.AddDate(0, 0, -1), End: Base}
	aggs := []recordstore.Aggregate{
		recordstore.Count(recordstore.FieldID),
		recordstore.Avg(recordstore.FieldDuration),
		recordstore.Sum(recordstore.FieldCost),
	}
	groups, err := s.GroupAggregate(ctx, recordstore.KindInteraction, filter, recordstore.GroupBy{}, aggs)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, int64(0), groups[0].Int(aggs[0]))
	require.False(t, groups[0].Value(aggs[1]).Valid)
	require.False(t, groups[0].Value(aggs[2]).Valid)

	byModel, err := s.GroupAggregate(ctx, recordstore.KindInteraction, filter, recordstore.GroupBy{Field: recordstore.FieldModel}, aggs)
	require.NoError(t, err)
	require.Empty(t, byModel)
}

func testGroupByDay(t *testing.T, s recordstore.ReadWriter) {
	ctx := context.Background()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// 2025-03-10 02:00 UTC is 2025-03-09 22:00 in New York.
	insertAll(t, s,
		Interaction("a", time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC), "m", models.InteractionStatusSuccess, "1.25", 1, 1),
		Interaction("b", time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC), "m", models.InteractionStatusSuccess, "2.00", 1, 1),
		Interaction("c", time.Date(2025, 3, 10, 7, 30, 0, 0, time.UTC), "m", models.InteractionStatusSuccess, "3.00", 1, 1),
	)
	filter := recordstore.Filter{Start: Base.AddDate(0, 0, -7), End: Base}
	cost := recordstore.Sum(recordstore.FieldCost)

	days, err := s.GroupAggregate(ctx, recordstore.KindInteraction, filter, recordstore.GroupBy{Field: recordstore.FieldDay, Location: ny}, []recordstore.Aggregate{cost})
	require.NoError(t, err)
	require.Len(t, days, 2)
	require.Equal(t, "2025-03-09", days[0].Key)
	requireDecimal(t, "1.25", days[0].Decimal(cost))
	require.Equal(t, "2025-03-10", days[1].Key)
	requireDecimal(t, "5", days[1].Decimal(cost))

	stamps, err := s.GroupAggregate(ctx, recordstore.KindInteraction, filter, recordstore.GroupBy{Field: recordstore.FieldTimestamp}, []recordstore.Aggregate{cost})
	require.NoError(t, err)
	require.Len(t, stamps, 3)
	require.Equal(t, "2025-03-10T02:00:00.000Z", stamps[0].Key)
}

func testWorkflows(t *testing.T, s recordstore.ReadWriter) {
	ctx := context.Background()
	end := Base.Add(-time.Minute)
	duration := 240.0
	records := []models.WorkflowRecord{
		{
			ID: "wf-done", Name: "ingest", Status: models.WorkflowStatusCompleted,
			StartTime: Base.Add(-5 * time.Minute), EndTime: &end, Duration: &duration,
			Steps: []models.StepRecord{
				{Position: 0, Name: "fetch", Status: models.StepStatusCompleted},
				{Position: 1, Name: "parse", Status: models.StepStatusCompleted},
			},
		},
		{
			ID: "wf-live", Name: "ingest", Status: models.WorkflowStatusActive,
			StartTime: Base,
			Steps: []models.StepRecord{
				{Position: 0, Name: "fetch", Status: models.StepStatusCompleted},
				{Position: 1, Name: "parse", Status: models.StepStatusActive},
				{Position: 2, Name: "store", Status: models.StepStatusPending},
			},
		},
		{
			ID: "wf-bad", Name: "export", Status: models.WorkflowStatusFailed,
			StartTime: Base.Add(-2 * time.Minute), EndTime: &end,
			Steps: []models.StepRecord{{Position: 0, Name: "upload", Status: models.StepStatusFailed}},
		},
	}
	for _, wf := range records {
		require.NoError(t, s.InsertWorkflow(ctx, wf))
	}
	filter := recordstore.Filter{Start: Base.Add(-time.Hour), End: Base}

	list, err := s.ListWorkflows(ctx, filter, recordstore.OrderNewestFirst, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "wf-live", list[0].ID)
	require.Nil(t, list[0].EndTime)
	require.Nil(t, list[0].Duration)
	require.Len(t, list[0].Steps, 3)
	require.Equal(t, "store", list[0].Steps[2].Name)
	require.Equal(t, "wf-done", list[2].ID)
	require.NotNil(t, list[2].EndTime)
	require.True(t, list[2].EndTime.Equal(end))
	require.InDelta(t, 240.0, *list[2].Duration, 1e-9)

	failed, err := s.ListWorkflows(ctx, recordstore.Filter{Start: filter.Start, End: filter.End, Status: models.WorkflowStatusFailed}, recordstore.OrderNewestFirst, 0, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "wf-bad", failed[0].ID)

	unknown, err := s.ListWorkflows(ctx, recordstore.Filter{Start: filter.Start, End: filter.End, Status: "paused"}, recordstore.OrderNewestFirst, 0, 10)
	require.NoError(t, err)
	require.Empty(t, unknown)

	count := recordstore.Count(recordstore.FieldID)
	groups, err := s.GroupAggregate(ctx, recordstore.KindWorkflow, filter, recordstore.GroupBy{Field: recordstore.FieldStatus}, []recordstore.Aggregate{count})
	require.NoError(t, err)
	tally := map[string]int64{}
	for _, g := range groups {
		tally[g.Key] = g.Int(count)
	}
	require.Equal(t, map[string]int64{"active": 1, "completed": 1, "failed": 1}, tally)

	n, err := s.Count(ctx, recordstore.KindWorkflow, filter)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func testGetInteraction(t *testing.T, s recordstore.ReadWriter) {
	ctx := context.Background()
	_, err := s.GetInteraction(ctx, "missing")
	require.ErrorIs(t, err, recordstore.ErrNotFound)

	want := Interaction("known", Base, "gpt-4o", models.InteractionStatusError, "0.000123", 42, 0.25)
	insertAll(t, s, want)
	got, err := s.GetInteraction(ctx, "known")
	require.NoError(t, err)
	require.Equal(t, want.Model, got.Model)
	require.Equal(t, want.Usage, got.Usage)
	require.Equal(t, want.ErrorMessage, got.ErrorMessage)
	require.True(t, want.Timestamp.Equal(got.Timestamp))
	requireDecimal(t, "0.000123", got.Cost)
	require.InDelta(t, 0.25, got.Duration, 1e-9)
}

func testDuplicate(t *testing.T, s recordstore.ReadWriter) {
	rec := Interaction("dup", Base, "gpt-4o", models.InteractionStatusSuccess, "1", 1, 1)
	insertAll(t, s, rec)
	err := s.InsertInteraction(context.Background(), rec)
	require.ErrorIs(t, err, recordstore.ErrDuplicate)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func idFor(prefix string, i int) string {
	return prefix + "-" + string(rune('a'+i))
}
