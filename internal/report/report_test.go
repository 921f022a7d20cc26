package report

import (
	"bytes"
	"strings"
	"testing"

	decimal "github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/usage_analytics/internal/services/analytics"
)

func amount(s string) analytics.Amount {
	return analytics.NewAmount(decimal.RequireFromString(s))
}

func TestDailyCostChartEmpty(t *testing.T) {
	require.Equal(t, "No cost data available", DailyCostChart(nil, ChartOptions{}))
}

func TestDailyCostChartCaption(t *testing.T) {
	out := DailyCostChart([]analytics.DailyCost{
		{Date: "2025-03-08", Cost: amount("1.5")},
		{Date: "2025-03-09", Cost: amount("4")},
		{Date: "2025-03-10", Cost: amount("2.25")},
	}, ChartOptions{Width: 30, Height: 5})
	require.Contains(t, out, "daily cost 2025-03-08 .. 2025-03-10")
	require.GreaterOrEqual(t, strings.Count(out, "\n"), 5)
}

func TestDailyCostChartSinglePoint(t *testing.T) {
	out := DailyCostChart([]analytics.DailyCost{{Date: "2025-03-10", Cost: amount("3")}}, ChartOptions{})
	require.Contains(t, out, "2025-03-10 .. 2025-03-10")
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	summary := analytics.AggregateReport{
		Start:    "2025-03-03T12:00:00Z",
		End:      "2025-03-10T12:00:00Z",
		Timezone: "UTC",
		AIUsage:  analytics.AIUsageMetrics{TotalCalls: 15, SuccessRate: 80, AvgResponseTime: 1.25, TotalTokens: 900},
		WorkflowMetrics: analytics.WorkflowMetrics{
			Active: 2, Completed: 5, Failed: 1,
		},
	}
	costs := analytics.CostAnalysis{
		TotalCost: amount("12"),
		Services: []analytics.ServiceUsage{
			{Name: "gpt-3.5", Cost: amount("2"), Usage: 500, Unit: "tokens"},
			{Name: "gpt-4", Cost: amount("10"), Usage: 100, Unit: "tokens"},
		},
		DailyBreakdown: []analytics.DailyCost{{Date: "2025-03-10", Cost: amount("12")}},
	}
	require.NoError(t, Write(&buf, summary, costs, ChartOptions{Width: 40, Height: 4}))

	out := buf.String()
	require.Contains(t, out, "Success rate  80.0%")
	require.Contains(t, out, "active=2 completed=5 failed=1")
	require.Contains(t, out, "Total cost    12.00")
	require.Contains(t, out, "gpt-4")
	require.Contains(t, out, "10.0000")
	require.True(t, strings.HasSuffix(out, "\n"))
}
