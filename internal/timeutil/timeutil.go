package timeutil

import (
	"errors"
	"strings"
	"time"
)

var ErrInvalidTimeframe = errors.New("invalid timeframe")

// DayLayout is the calendar-day key used by daily series.
const DayLayout = "2006-01-02"

// Timeframe is a coarse relative window selector.
type Timeframe string

const (
	TimeframeDay   Timeframe = "day"
	TimeframeWeek  Timeframe = "week"
	TimeframeMonth Timeframe = "month"
)

// Valid reports whether tf is one of the known selectors.
func (tf Timeframe) Valid() bool {
	switch tf {
	case TimeframeDay, TimeframeWeek, TimeframeMonth:
		return true
	}
	return false
}

// TimeframePolicy decides how raw selector strings map onto a Timeframe.
// Unknown selectors fall back to Default unless RejectUnknown is set.
type TimeframePolicy struct {
	Default       Timeframe
	RejectUnknown bool
}

// DefaultTimeframePolicy falls back to week for anything unrecognized.
func DefaultTimeframePolicy() TimeframePolicy {
	return TimeframePolicy{Default: TimeframeWeek}
}

// Parse normalizes raw into a Timeframe according to the policy.
func (p TimeframePolicy) Parse(raw string) (Timeframe, error) {
	fallback := p.Default
	if !fallback.Valid() {
		fallback = TimeframeWeek
	}
	tf := Timeframe(strings.ToLower(strings.TrimSpace(raw)))
	if tf == "" {
		return fallback, nil
	}
	if tf.Valid() {
		return tf, nil
	}
	if p.RejectUnknown {
		return "", ErrInvalidTimeframe
	}
	return fallback, nil
}

// Window represents a closed time interval [start, end] anchored to a location.
type Window struct {
	period string
	start  time.Time
	end    time.Time
	loc    *time.Location
}

// EnsureLocation returns UTC when loc is nil.
func EnsureLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// ResolveTimeframe builds the window ending at now for the selector. Offsets are
// calendar-aware in loc, so month subtracts one calendar month rather than 30 days.
func ResolveTimeframe(tf Timeframe, now time.Time, loc *time.Location) (Window, error) {
	loc = EnsureLocation(loc)
	now = now.In(loc)
	var start time.Time
	switch tf {
	case TimeframeDay:
		start = now.AddDate(0, 0, -1)
	case TimeframeWeek:
		start = now.AddDate(0, 0, -7)
	case TimeframeMonth:
		start = now.AddDate(0, -1, 0)
	default:
		return Window{}, ErrInvalidTimeframe
	}
	return Window{
		period: string(tf),
		start:  start,
		end:    now,
		loc:    loc,
	}, nil
}

// Period returns the selector the window was built from (e.g., "week").
func (w Window) Period() string { return w.period }

// Start returns the inclusive start of the window.
func (w Window) Start() time.Time { return w.start }

// End returns the inclusive end of the window.
func (w Window) End() time.Time { return w.end }

// Location returns the reporting timezone for the window.
func (w Window) Location() *time.Location { return EnsureLocation(w.loc) }

// Timezone returns the location name for JSON responses.
func (w Window) Timezone() string { return w.Location().String() }

// StartString returns the start timestamp formatted as RFC3339 in the window's zone.
func (w Window) StartString() string { return w.start.In(w.Location()).Format(time.RFC3339) }

// EndString returns the end timestamp formatted as RFC3339 in the window's zone.
func (w Window) EndString() string { return w.end.In(w.Location()).Format(time.RFC3339) }

// Days lists the calendar days touched by the window, oldest first.
func (w Window) Days() []time.Time {
	loc := w.Location()
	first := TruncateToDay(w.start, loc)
	last := TruncateToDay(w.end, loc)
	days := make([]time.Time, 0, int(last.Sub(first).Hours()/24)+1)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// TruncateToDay normalizes the timestamp to midnight in the provided zone.
func TruncateToDay(t time.Time, loc *time.Location) time.Time {
	loc = EnsureLocation(loc)
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DayKey formats the calendar day of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(EnsureLocation(loc)).Format(DayLayout)
}
