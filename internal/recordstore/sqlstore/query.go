package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	decimal "github.com/shopspring/decimal"

	"github.com/ncecere/usage_analytics/internal/recordstore"
)

// table describes how a record kind maps onto SQL.
type table struct {
	name    string
	tsCol   string
	columns map[recordstore.Field]string
}

func (s *Store) table(kind recordstore.Kind) (table, error) {
	switch kind {
	case recordstore.KindInteraction:
		return table{
			name:  "ai_interactions",
			tsCol: "ts",
			columns: map[recordstore.Field]string{
				recordstore.FieldID:               "id",
				recordstore.FieldModel:            "model",
				recordstore.FieldStatus:           "status",
				recordstore.FieldCost:             s.dialect.costColumn(),
				recordstore.FieldPromptTokens:     "prompt_tokens",
				recordstore.FieldCompletionTokens: "completion_tokens",
				recordstore.FieldTotalTokens:      "total_tokens",
				recordstore.FieldDuration:         "duration_seconds",
			},
		}, nil
	case recordstore.KindWorkflow:
		return table{
			name:  "workflows",
			tsCol: "start_time",
			columns: map[recordstore.Field]string{
				recordstore.FieldID:       "id",
				recordstore.FieldName:     "name",
				recordstore.FieldStatus:   "status",
				recordstore.FieldDuration: "duration_seconds",
			},
		}, nil
	}
	return table{}, fmt.Errorf("%w: kind %q", recordstore.ErrUnsupportedField, kind)
}

// builder accumulates positional arguments for one statement.
type builder struct {
	d    dialect
	args []any
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return b.d.placeholder(len(b.args))
}

func (b *builder) where(kind recordstore.Kind, t table, filter recordstore.Filter) string {
	var clauses []string
	if !filter.Start.IsZero() {
		clauses = append(clauses, fmt.Sprintf("%s >= %s", t.tsCol, b.bind(b.d.timeArg(ceilMicro(filter.Start)))))
	}
	if !filter.End.IsZero() {
		clauses = append(clauses, fmt.Sprintf("%s <= %s", t.tsCol, b.bind(b.d.timeArg(filter.End))))
	}
	if filter.Model != "" {
		if kind == recordstore.KindWorkflow {
			clauses = append(clauses, "1 = 0")
		} else {
			clauses = append(clauses, "model = "+b.bind(filter.Model))
		}
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = "+b.bind(filter.Status))
	}
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

func (b *builder) groupKey(t table, groupBy recordstore.GroupBy) (string, error) {
	switch groupBy.Field {
	case recordstore.FieldDay:
		loc := groupBy.Location
		if loc == nil {
			loc = time.UTC
		}
		return b.d.dayKey(t.tsCol, b.bind(loc.String())), nil
	case recordstore.FieldTimestamp:
		return b.d.timestampKey(t.tsCol), nil
	default:
		col, ok := t.columns[groupBy.Field]
		if !ok {
			return "", fmt.Errorf("%w: group by %s", recordstore.ErrUnsupportedField, groupBy.Field)
		}
		return col, nil
	}
}

func aggregateExpr(t table, agg recordstore.Aggregate) (string, error) {
	col, ok := t.columns[agg.Field]
	if !ok {
		return "", fmt.Errorf("%w: %s", recordstore.ErrUnsupportedField, agg)
	}
	var expr string
	switch agg.Op {
	case recordstore.OpCount:
		if agg.Field == recordstore.FieldID {
			expr = "COUNT(*)"
		} else {
			expr = "COUNT(" + col + ")"
		}
	case recordstore.OpSum:
		expr = "SUM(" + col + ")"
	case recordstore.OpAvg:
		expr = "AVG(" + col + ")"
	default:
		return "", fmt.Errorf("%w: operator %q", recordstore.ErrUnsupportedField, agg.Op)
	}
	return "CAST(" + expr + " AS TEXT)", nil
}

// decodeAggregate parses a textual aggregate, rescaling stored cost units.
func (s *Store) decodeAggregate(agg recordstore.Aggregate, raw sql.NullString) (decimal.NullDecimal, error) {
	if !raw.Valid {
		if agg.Op == recordstore.OpCount {
			return decimal.NullDecimal{Decimal: decimal.Zero, Valid: true}, nil
		}
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw.String))
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("decode %s: %w", agg, err)
	}
	if agg.Field == recordstore.FieldCost && agg.Op != recordstore.OpCount {
		d = d.Shift(s.dialect.costShift())
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

func (s *Store) decodeCost(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode cost: %w", err)
	}
	return d.Shift(s.dialect.costShift()), nil
}

// nullTime scans timestamps from native time values or the SQLite text form.
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case string:
		return n.parse(v)
	case []byte:
		return n.parse(string(v))
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (n *nullTime) parse(raw string) error {
	t, err := time.Parse(sqliteTimeLayout, raw)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", raw, err)
		}
	}
	n.Time, n.Valid = t.UTC(), true
	return nil
}

func (n nullTime) ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

// ceilMicro rounds t up to the microsecond both drivers store, so a record
// stored just before a sub-microsecond start never falls inside the range.
func ceilMicro(t time.Time) time.Time {
	if c := t.Truncate(time.Microsecond); !c.Equal(t) {
		return c.Add(time.Microsecond)
	}
	return t
}
