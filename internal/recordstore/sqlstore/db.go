package sqlstore

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Rows is the subset of a result cursor the store reads from.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Row is a single-row result.
type Row interface {
	Scan(dest ...any) error
}

// DB hides whether the store talks to pgx natively or through database/sql.
type DB interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	WithTx(ctx context.Context, fn func(DB) error) error
	Ping(ctx context.Context) error
	Close() error
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgxDB struct {
	pool *pgxpool.Pool
	q    pgxQuerier
}

// FromPool adapts a pgx pool.
func FromPool(pool *pgxpool.Pool) DB {
	return &pgxDB{pool: pool, q: pool}
}

func (d *pgxDB) Exec(ctx context.Context, query string, args ...any) error {
	_, err := d.q.Exec(ctx, query, args...)
	return err
}

func (d *pgxDB) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := d.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (d *pgxDB) QueryRow(ctx context.Context, query string, args ...any) Row {
	return d.q.QueryRow(ctx, query, args...)
}

func (d *pgxDB) WithTx(ctx context.Context, fn func(DB) error) error {
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		return fn(&pgxDB{pool: d.pool, q: tx})
	})
}

func (d *pgxDB) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// Close is a no-op; the pool belongs to the caller.
func (d *pgxDB) Close() error {
	return nil
}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlDB struct {
	db *sql.DB
	q  sqlQuerier
}

// FromSQL adapts a database/sql handle.
func FromSQL(db *sql.DB) DB {
	return &sqlDB{db: db, q: db}
}

func (d *sqlDB) Exec(ctx context.Context, query string, args ...any) error {
	_, err := d.q.ExecContext(ctx, query, args...)
	return err
}

func (d *sqlDB) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := d.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows}, nil
}

func (d *sqlDB) QueryRow(ctx context.Context, query string, args ...any) Row {
	return d.q.QueryRowContext(ctx, query, args...)
}

func (d *sqlDB) WithTx(ctx context.Context, fn func(DB) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&sqlDB{db: d.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (d *sqlDB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close is a no-op; the handle belongs to the caller.
func (d *sqlDB) Close() error {
	return nil
}

type sqlRows struct {
	*sql.Rows
}

func (r sqlRows) Close() {
	_ = r.Rows.Close()
}
