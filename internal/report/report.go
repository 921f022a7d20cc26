// Package report renders analytics results for terminals.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"

	"github.com/ncecere/usage_analytics/internal/services/analytics"
)

// ChartOptions sizes the daily cost chart.
type ChartOptions struct {
	Width  int
	Height int
}

// DailyCostChart plots the daily breakdown as an ASCII line chart.
func DailyCostChart(rows []analytics.DailyCost, opts ChartOptions) string {
	if len(rows) == 0 {
		return "No cost data available"
	}
	width, height := opts.Width, opts.Height
	if width < 20 {
		width = 20
	}
	if height < 3 {
		height = 3
	}

	data := make([]float64, 0, len(rows))
	for _, row := range rows {
		data = append(data, row.Cost.InexactFloat64())
	}
	// A single point has no line to draw.
	if len(data) == 1 {
		data = append(data, data[0])
	}
	caption := fmt.Sprintf("daily cost %s .. %s", rows[0].Date, rows[len(rows)-1].Date)
	return asciigraph.Plot(data,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
	)
}

// Write prints the summary, the per-model cost table and the daily chart.
func Write(w io.Writer, summary analytics.AggregateReport, costs analytics.CostAnalysis, opts ChartOptions) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Window\t%s .. %s (%s)\n", summary.Start, summary.End, summary.Timezone)
	fmt.Fprintf(tw, "Calls\t%d\n", summary.AIUsage.TotalCalls)
	fmt.Fprintf(tw, "Success rate\t%.1f%%\n", summary.AIUsage.SuccessRate)
	fmt.Fprintf(tw, "Avg response\t%.3fs\n", summary.AIUsage.AvgResponseTime)
	fmt.Fprintf(tw, "Tokens\t%d\n", summary.AIUsage.TotalTokens)
	fmt.Fprintf(tw, "Workflows\tactive=%d completed=%d failed=%d\n",
		summary.WorkflowMetrics.Active, summary.WorkflowMetrics.Completed, summary.WorkflowMetrics.Failed)
	fmt.Fprintf(tw, "Total cost\t%s\n", costs.TotalCost.StringFixed(2))
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(costs.Services) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "MODEL\tCOST\tTOKENS\t")
		for _, svc := range costs.Services {
			fmt.Fprintf(tw, "%s\t%s\t%d\t\n", svc.Name, svc.Cost.StringFixed(4), svc.Usage)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(w)
	_, err := io.WriteString(w, strings.TrimRight(DailyCostChart(costs.DailyBreakdown, opts), "\n")+"\n")
	return err
}
