package recordstore

import (
	"sort"
	"time"

	decimal "github.com/shopspring/decimal"

	"github.com/ncecere/usage_analytics/internal/models"
	"github.com/ncecere/usage_analytics/internal/timeutil"
)

// The helpers below evaluate store queries over already-loaded records. The
// memory and Redis drivers share them so every driver agrees on semantics.

// MatchInteraction reports whether rec satisfies filter.
func MatchInteraction(filter Filter, rec models.InteractionRecord) bool {
	if !inRange(filter, rec.Timestamp) {
		return false
	}
	if filter.Model != "" && rec.Model != filter.Model {
		return false
	}
	if filter.Status != "" && rec.Status != filter.Status {
		return false
	}
	return true
}

// MatchWorkflow reports whether rec satisfies filter. Model filters never
// match workflows.
func MatchWorkflow(filter Filter, rec models.WorkflowRecord) bool {
	if !inRange(filter, rec.StartTime) {
		return false
	}
	if filter.Model != "" {
		return false
	}
	if filter.Status != "" && rec.Status != filter.Status {
		return false
	}
	return true
}

func inRange(filter Filter, ts time.Time) bool {
	if !filter.Start.IsZero() && ts.Before(filter.Start) {
		return false
	}
	if !filter.End.IsZero() && ts.After(filter.End) {
		return false
	}
	return true
}

// SortInteractions orders records by timestamp, breaking ties on id.
func SortInteractions(records []models.InteractionRecord, order Order) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			if order == OrderOldestFirst {
				return a.Timestamp.Before(b.Timestamp)
			}
			return a.Timestamp.After(b.Timestamp)
		}
		if order == OrderOldestFirst {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
}

// SortWorkflows orders records by start time, breaking ties on id.
func SortWorkflows(records []models.WorkflowRecord, order Order) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.StartTime.Equal(b.StartTime) {
			if order == OrderOldestFirst {
				return a.StartTime.Before(b.StartTime)
			}
			return a.StartTime.After(b.StartTime)
		}
		if order == OrderOldestFirst {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
}

// Window slices records to [offset, offset+limit). A non-positive limit means
// no upper bound.
func Window[T any](records []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return []T{}
	}
	end := len(records)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return records[offset:end]
}

// GroupInteractions evaluates a group-aggregate over interaction records.
func GroupInteractions(records []models.InteractionRecord, groupBy GroupBy, aggregates []Aggregate) ([]GroupResult, error) {
	if err := ValidateQuery(KindInteraction, groupBy, aggregates); err != nil {
		return nil, err
	}
	rows := make([]row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, interactionRow(rec))
	}
	return groupRows(rows, groupBy, aggregates), nil
}

// GroupWorkflows evaluates a group-aggregate over workflow records.
func GroupWorkflows(records []models.WorkflowRecord, groupBy GroupBy, aggregates []Aggregate) ([]GroupResult, error) {
	if err := ValidateQuery(KindWorkflow, groupBy, aggregates); err != nil {
		return nil, err
	}
	rows := make([]row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, workflowRow(rec))
	}
	return groupRows(rows, groupBy, aggregates), nil
}

type row struct {
	ts     time.Time
	labels map[Field]string
	values map[Field]decimal.NullDecimal
}

func interactionRow(rec models.InteractionRecord) row {
	return row{
		ts: rec.Timestamp,
		labels: map[Field]string{
			FieldModel:  rec.Model,
			FieldStatus: rec.Status,
		},
		values: map[Field]decimal.NullDecimal{
			FieldCost:             valid(rec.Cost),
			FieldPromptTokens:     valid(decimal.NewFromInt(rec.Usage.PromptTokens)),
			FieldCompletionTokens: valid(decimal.NewFromInt(rec.Usage.CompletionTokens)),
			FieldTotalTokens:      valid(decimal.NewFromInt(rec.Usage.TotalTokens)),
			FieldDuration:         valid(decimal.NewFromFloat(rec.Duration)),
		},
	}
}

func workflowRow(rec models.WorkflowRecord) row {
	duration := decimal.NullDecimal{}
	if rec.Duration != nil {
		duration = valid(decimal.NewFromFloat(*rec.Duration))
	}
	return row{
		ts: rec.StartTime,
		labels: map[Field]string{
			FieldName:   rec.Name,
			FieldStatus: rec.Status,
		},
		values: map[Field]decimal.NullDecimal{
			FieldDuration: duration,
		},
	}
}

func valid(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func (r row) key(groupBy GroupBy) string {
	switch groupBy.Field {
	case "":
		return ""
	case FieldDay:
		return timeutil.DayKey(r.ts, groupBy.Location)
	case FieldTimestamp:
		return r.ts.UTC().Format(TimestampKeyLayout)
	default:
		return r.labels[groupBy.Field]
	}
}

// accumulator tracks per-field non-null counts and sums for one group.
type accumulator struct {
	fields []Field
	count  map[Field]int64
	sum    map[Field]decimal.Decimal
}

func newAccumulator(aggregates []Aggregate) *accumulator {
	acc := &accumulator{
		count: make(map[Field]int64),
		sum:   make(map[Field]decimal.Decimal),
	}
	seen := make(map[Field]bool, len(aggregates))
	for _, agg := range aggregates {
		if seen[agg.Field] {
			continue
		}
		seen[agg.Field] = true
		acc.fields = append(acc.fields, agg.Field)
	}
	return acc
}

func (a *accumulator) add(r row) {
	for _, f := range a.fields {
		if f == FieldID {
			a.count[FieldID]++
			continue
		}
		v := r.values[f]
		if !v.Valid {
			continue
		}
		a.count[f]++
		a.sum[f] = a.sum[f].Add(v.Decimal)
	}
}

func (a *accumulator) result(key string, aggregates []Aggregate) GroupResult {
	values := make(map[Aggregate]decimal.NullDecimal, len(aggregates))
	for _, agg := range aggregates {
		n := a.count[agg.Field]
		switch agg.Op {
		case OpCount:
			values[agg] = valid(decimal.NewFromInt(n))
		case OpSum:
			if n == 0 {
				values[agg] = decimal.NullDecimal{}
				continue
			}
			values[agg] = valid(a.sum[agg.Field])
		case OpAvg:
			if n == 0 {
				values[agg] = decimal.NullDecimal{}
				continue
			}
			values[agg] = valid(a.sum[agg.Field].Div(decimal.NewFromInt(n)))
		}
	}
	return GroupResult{Key: key, Values: values}
}

func groupRows(rows []row, groupBy GroupBy, aggregates []Aggregate) []GroupResult {
	if groupBy.Field == "" {
		acc := newAccumulator(aggregates)
		for _, r := range rows {
			acc.add(r)
		}
		return []GroupResult{acc.result("", aggregates)}
	}

	buckets := make(map[string]*accumulator)
	for _, r := range rows {
		key := r.key(groupBy)
		acc := buckets[key]
		if acc == nil {
			acc = newAccumulator(aggregates)
			buckets[key] = acc
		}
		acc.add(r)
	}
	keys := make([]string, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	results := make([]GroupResult, 0, len(keys))
	for _, key := range keys {
		results = append(results, buckets[key].result(key, aggregates))
	}
	return results
}
