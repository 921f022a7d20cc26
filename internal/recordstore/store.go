// Package recordstore defines the read interface the analytics core consumes
// and the writer interface used by ingestion and seeding tools.
package recordstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	decimal "github.com/shopspring/decimal"

	"github.com/ncecere/usage_analytics/internal/models"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrUnavailable      = errors.New("record store unavailable")
	ErrUnsupportedField = errors.New("unsupported field")
	ErrDuplicate        = errors.New("record already exists")
)

// Kind selects the record family a query targets.
type Kind string

const (
	KindInteraction Kind = "interaction"
	KindWorkflow    Kind = "workflow"
)

// Field names a groupable or aggregatable attribute.
type Field string

const (
	FieldID               Field = "id"
	FieldModel            Field = "model"
	FieldStatus           Field = "status"
	FieldName             Field = "name"
	FieldDay              Field = "day"
	FieldTimestamp        Field = "timestamp"
	FieldCost             Field = "cost"
	FieldPromptTokens     Field = "prompt_tokens"
	FieldCompletionTokens Field = "completion_tokens"
	FieldTotalTokens      Field = "total_tokens"
	FieldDuration         Field = "duration"
)

// Op is an aggregate operator.
type Op string

const (
	OpSum   Op = "sum"
	OpAvg   Op = "avg"
	OpCount Op = "count"
)

// Aggregate pairs a field with an operator.
type Aggregate struct {
	Field Field
	Op    Op
}

func (a Aggregate) String() string { return string(a.Op) + "_" + string(a.Field) }

// Sum, Avg and Count build aggregates.
func Sum(f Field) Aggregate   { return Aggregate{Field: f, Op: OpSum} }
func Avg(f Field) Aggregate   { return Aggregate{Field: f, Op: OpAvg} }
func Count(f Field) Aggregate { return Aggregate{Field: f, Op: OpCount} }

// Filter scopes a query. Start and End form a closed range on the record's
// primary timestamp (interaction time, workflow start time).
type Filter struct {
	Start  time.Time
	End    time.Time
	Model  string
	Status string
}

// Order selects the list ordering on the primary timestamp.
type Order string

const (
	OrderNewestFirst Order = "desc"
	OrderOldestFirst Order = "asc"
)

// GroupBy partitions a group-aggregate query. An empty Field yields exactly one
// group spanning the whole filter. Location applies to FieldDay.
type GroupBy struct {
	Field    Field
	Location *time.Location
}

// TimestampKeyLayout is the key format for FieldTimestamp groups.
const TimestampKeyLayout = "2006-01-02T15:04:05.000Z"

// GroupResult holds one partition and its aggregates. Sums and averages over
// no rows are null, mirroring SQL.
type GroupResult struct {
	Key    string
	Values map[Aggregate]decimal.NullDecimal
}

// Value returns the aggregate, or an invalid NullDecimal when absent.
func (g GroupResult) Value(a Aggregate) decimal.NullDecimal {
	if g.Values == nil {
		return decimal.NullDecimal{}
	}
	return g.Values[a]
}

// Decimal returns the aggregate with null coerced to zero.
func (g GroupResult) Decimal(a Aggregate) decimal.Decimal {
	v := g.Value(a)
	if !v.Valid {
		return decimal.Zero
	}
	return v.Decimal
}

// Int returns the aggregate truncated to an integer, null as zero.
func (g GroupResult) Int(a Aggregate) int64 {
	return g.Decimal(a).IntPart()
}

// Store is the read-only query surface of a record store.
type Store interface {
	Count(ctx context.Context, kind Kind, filter Filter) (int64, error)
	ListInteractions(ctx context.Context, filter Filter, order Order, offset, limit int) ([]models.InteractionRecord, error)
	ListWorkflows(ctx context.Context, filter Filter, order Order, offset, limit int) ([]models.WorkflowRecord, error)
	GroupAggregate(ctx context.Context, kind Kind, filter Filter, groupBy GroupBy, aggregates []Aggregate) ([]GroupResult, error)
	GetInteraction(ctx context.Context, id string) (models.InteractionRecord, error)
}

// Writer appends immutable records.
type Writer interface {
	InsertInteraction(ctx context.Context, rec models.InteractionRecord) error
	InsertWorkflow(ctx context.Context, rec models.WorkflowRecord) error
}

// ReadWriter is implemented by every bundled driver.
type ReadWriter interface {
	Store
	Writer
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Closer is implemented by stores that own connections.
type Closer interface {
	Close() error
}

// ValidateQuery rejects group/aggregate fields the record kind does not carry.
func ValidateQuery(kind Kind, groupBy GroupBy, aggregates []Aggregate) error {
	if groupBy.Field != "" && !groupable(kind, groupBy.Field) {
		return fmt.Errorf("%w: cannot group %s by %s", ErrUnsupportedField, kind, groupBy.Field)
	}
	for _, agg := range aggregates {
		switch agg.Op {
		case OpSum, OpAvg, OpCount:
		default:
			return fmt.Errorf("%w: operator %q", ErrUnsupportedField, agg.Op)
		}
		if !aggregatable(kind, agg.Field) {
			return fmt.Errorf("%w: cannot aggregate %s.%s", ErrUnsupportedField, kind, agg.Field)
		}
	}
	return nil
}

func groupable(kind Kind, f Field) bool {
	switch f {
	case FieldStatus, FieldDay, FieldTimestamp:
		return true
	case FieldModel:
		return kind == KindInteraction
	case FieldName:
		return kind == KindWorkflow
	}
	return false
}

func aggregatable(kind Kind, f Field) bool {
	switch f {
	case FieldID, FieldDuration:
		return true
	case FieldCost, FieldPromptTokens, FieldCompletionTokens, FieldTotalTokens:
		return kind == KindInteraction
	}
	return false
}
