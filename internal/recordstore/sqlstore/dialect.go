package sqlstore

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	decimal "github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ncecere/usage_analytics/internal/timeutil"
)

// dialect isolates the SQL differences between Postgres and SQLite.
type dialect interface {
	name() string
	placeholder(n int) string
	timeArg(t time.Time) any
	costArg(d decimal.Decimal) (any, error)
	// costColumn is the stored cost column; costShift rescales it to currency units.
	costColumn() string
	costShift() int32
	dayKey(col, tzParam string) string
	timestampKey(col string) string
	limitOffset(limit, offset int) string
	isDuplicate(err error) bool
}

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgresDialect) timeArg(t time.Time) any { return t.UTC() }

func (postgresDialect) costArg(d decimal.Decimal) (any, error) {
	var n pgtype.Numeric
	if err := n.Scan(d.String()); err != nil {
		return nil, fmt.Errorf("encode cost: %w", err)
	}
	return n, nil
}

func (postgresDialect) costColumn() string { return "cost" }

func (postgresDialect) costShift() int32 { return 0 }

func (postgresDialect) dayKey(col, tzParam string) string {
	return fmt.Sprintf("to_char(%s AT TIME ZONE %s, 'YYYY-MM-DD')", col, tzParam)
}

func (postgresDialect) timestampKey(col string) string {
	return fmt.Sprintf(`to_char(%s AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.MS"Z"')`, col)
}

func (postgresDialect) limitOffset(limit, offset int) string {
	if limit > 0 {
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	return fmt.Sprintf(" OFFSET %d", offset)
}

func (postgresDialect) isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// sqliteTimeLayout is fixed width so text comparison is chronological.
// Microsecond precision matches the Postgres and Redis drivers.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

// sqliteDayFunc computes the calendar day of a stored timestamp in a named zone.
const sqliteDayFunc = "analytics_day"

const costMicrosShift = 6

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }

func (sqliteDialect) placeholder(int) string { return "?" }

func (sqliteDialect) timeArg(t time.Time) any { return t.UTC().Format(sqliteTimeLayout) }

func (sqliteDialect) costArg(d decimal.Decimal) (any, error) {
	return d.Shift(costMicrosShift).Round(0).IntPart(), nil
}

func (sqliteDialect) costColumn() string { return "cost_micros" }

func (sqliteDialect) costShift() int32 { return -costMicrosShift }

func (sqliteDialect) dayKey(col, tzParam string) string {
	return fmt.Sprintf("%s(%s, %s)", sqliteDayFunc, col, tzParam)
}

// timestampKey cuts the stored value down to TimestampKeyLayout.
func (sqliteDialect) timestampKey(col string) string {
	return fmt.Sprintf("substr(%s, 1, 23) || 'Z'", col)
}

func (sqliteDialect) limitOffset(limit, offset int) string {
	if limit > 0 {
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
}

func (sqliteDialect) isDuplicate(err error) bool {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	switch sqlErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

var zoneCache sync.Map

func loadZone(name string) (*time.Location, error) {
	if cached, ok := zoneCache.Load(name); ok {
		return cached.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	zoneCache.Store(name, loc)
	return loc, nil
}

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(sqliteDayFunc, 2, func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		raw, ok := args[0].(string)
		if !ok {
			return nil, nil
		}
		ts, err := time.Parse(sqliteTimeLayout, raw)
		if err != nil {
			return nil, err
		}
		zone, _ := args[1].(string)
		loc, err := loadZone(zone)
		if err != nil {
			return nil, err
		}
		return timeutil.DayKey(ts, loc), nil
	})
}
