package analytics

import (
	"time"

	decimal "github.com/shopspring/decimal"

	"github.com/ncecere/usage_analytics/internal/models"
)

// TimestampLayout renders record timestamps in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Amount is a monetary value that encodes as a bare JSON number.
type Amount struct {
	decimal.Decimal
}

// NewAmount wraps d.
func NewAmount(d decimal.Decimal) Amount { return Amount{Decimal: d} }

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

// UsageDetail is the public shape of one interaction.
type UsageDetail struct {
	ID               string  `json:"id"`
	Timestamp        string  `json:"timestamp"`
	Model            string  `json:"model"`
	PromptTokens     int64   `json:"promptTokens"`
	CompletionTokens int64   `json:"completionTokens"`
	TotalTokens      int64   `json:"totalTokens"`
	Duration         float64 `json:"duration"`
	Status           string  `json:"status"`
	ErrorMessage     string  `json:"errorMessage,omitempty"`
	Cost             Amount  `json:"cost"`
}

// StepSummary tallies a workflow's steps.
type StepSummary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// WorkflowDetail is the public shape of one workflow run.
type WorkflowDetail struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Status    string      `json:"status"`
	StartTime string      `json:"startTime"`
	EndTime   *string     `json:"endTime,omitempty"`
	Duration  *float64    `json:"duration,omitempty"`
	Steps     StepSummary `json:"steps"`
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// NewUsageDetail projects an interaction record.
func NewUsageDetail(rec models.InteractionRecord) UsageDetail {
	return UsageDetail{
		ID:               rec.ID,
		Timestamp:        formatTimestamp(rec.Timestamp),
		Model:            rec.Model,
		PromptTokens:     rec.Usage.PromptTokens,
		CompletionTokens: rec.Usage.CompletionTokens,
		TotalTokens:      rec.Usage.TotalTokens,
		Duration:         rec.Duration,
		Status:           rec.Status,
		ErrorMessage:     rec.ErrorMessage,
		Cost:             NewAmount(rec.Cost),
	}
}

// NewWorkflowDetail projects a workflow record. End time and duration are only
// reported once the run has terminated.
func NewWorkflowDetail(rec models.WorkflowRecord) WorkflowDetail {
	detail := WorkflowDetail{
		ID:        rec.ID,
		Name:      rec.Name,
		Status:    rec.Status,
		StartTime: formatTimestamp(rec.StartTime),
	}
	if rec.Terminated() {
		if rec.EndTime != nil {
			end := formatTimestamp(*rec.EndTime)
			detail.EndTime = &end
		}
		if rec.Duration != nil {
			d := *rec.Duration
			detail.Duration = &d
		}
	}
	for _, step := range rec.Steps {
		detail.Steps.Total++
		switch step.Status {
		case models.StepStatusCompleted:
			detail.Steps.Completed++
		case models.StepStatusFailed:
			detail.Steps.Failed++
		}
	}
	return detail
}
