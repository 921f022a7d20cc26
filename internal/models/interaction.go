package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	decimal "github.com/shopspring/decimal"
)

const (
	InteractionStatusSuccess = "success"
	InteractionStatusError   = "error"
)

// Usage carries token counts reported by the AI provider.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// InteractionRecord is one recorded AI-service call.
type InteractionRecord struct {
	ID           string          `json:"id"`
	Timestamp    time.Time       `json:"timestamp"`
	Model        string          `json:"model"`
	Usage        Usage           `json:"usage"`
	Duration     float64         `json:"duration_seconds"`
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Cost         decimal.Decimal `json:"cost"`
}

// ValidInteractionStatus reports whether status is a known interaction outcome.
func ValidInteractionStatus(status string) bool {
	switch status {
	case InteractionStatusSuccess, InteractionStatusError:
		return true
	}
	return false
}

// ValidateInteraction checks the invariants writers must hold before persisting.
func ValidateInteraction(r InteractionRecord) error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("interaction id required")
	}
	if r.Timestamp.IsZero() {
		return errors.New("interaction timestamp required")
	}
	if strings.TrimSpace(r.Model) == "" {
		return errors.New("interaction model required")
	}
	if !ValidInteractionStatus(r.Status) {
		return fmt.Errorf("unsupported interaction status %q", r.Status)
	}
	if r.Usage.PromptTokens < 0 || r.Usage.CompletionTokens < 0 || r.Usage.TotalTokens < 0 {
		return errors.New("token counts must be >= 0")
	}
	if r.Duration < 0 {
		return errors.New("duration must be >= 0")
	}
	if r.Cost.IsNegative() {
		return errors.New("cost must be >= 0")
	}
	return nil
}
