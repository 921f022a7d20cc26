// Package sqlstore implements the record store on Postgres (pgx) and SQLite
// (modernc.org/sqlite) against the schema in the migrations package.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	decimal "github.com/shopspring/decimal"

	"github.com/ncecere/usage_analytics/internal/models"
	"github.com/ncecere/usage_analytics/internal/recordstore"
)

// Store runs record queries through a DB adapter and dialect.
type Store struct {
	db      DB
	dialect dialect
}

var _ recordstore.ReadWriter = (*Store)(nil)

// NewPostgres builds a store on an open pgx pool.
func NewPostgres(pool *pgxpool.Pool) *Store {
	return &Store{db: FromPool(pool), dialect: postgresDialect{}}
}

// NewSQLite builds a store on an open modernc.org/sqlite handle.
func NewSQLite(db *sql.DB) *Store {
	return &Store{db: FromSQL(db), dialect: sqliteDialect{}}
}

// Driver returns the dialect name.
func (s *Store) Driver() string { return s.dialect.name() }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Count(ctx context.Context, kind recordstore.Kind, filter recordstore.Filter) (int64, error) {
	t, err := s.table(kind)
	if err != nil {
		return 0, err
	}
	b := &builder{d: s.dialect}
	query := "SELECT COUNT(*) FROM " + t.name + b.where(kind, t, filter)
	var n int64
	if err := s.db.QueryRow(ctx, query, b.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return n, nil
}

const interactionColumns = "id, ts, model, prompt_tokens, completion_tokens, total_tokens, duration_seconds, status, error_message"

func (s *Store) selectInteractions() string {
	return "SELECT " + interactionColumns + ", CAST(" + s.dialect.costColumn() + " AS TEXT) FROM ai_interactions"
}

func (s *Store) ListInteractions(ctx context.Context, filter recordstore.Filter, order recordstore.Order, offset, limit int) ([]models.InteractionRecord, error) {
	t, _ := s.table(recordstore.KindInteraction)
	b := &builder{d: s.dialect}
	query := s.selectInteractions() + b.where(recordstore.KindInteraction, t, filter) +
		orderClause(t.tsCol, order) + s.dialect.limitOffset(limit, max(offset, 0))

	rows, err := s.db.Query(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	out := []models.InteractionRecord{}
	for rows.Next() {
		rec, err := s.scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	return out, nil
}

func (s *Store) GetInteraction(ctx context.Context, id string) (models.InteractionRecord, error) {
	b := &builder{d: s.dialect}
	query := s.selectInteractions() + " WHERE id = " + b.bind(id)
	rec, err := s.scanInteraction(s.db.QueryRow(ctx, query, b.args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
			return models.InteractionRecord{}, recordstore.ErrNotFound
		}
		return models.InteractionRecord{}, err
	}
	return rec, nil
}

func (s *Store) scanInteraction(row Row) (models.InteractionRecord, error) {
	var (
		rec     models.InteractionRecord
		ts      nullTime
		errMsg  sql.NullString
		costRaw string
	)
	if err := row.Scan(
		&rec.ID,
		&ts,
		&rec.Model,
		&rec.Usage.PromptTokens,
		&rec.Usage.CompletionTokens,
		&rec.Usage.TotalTokens,
		&rec.Duration,
		&rec.Status,
		&errMsg,
		&costRaw,
	); err != nil {
		return models.InteractionRecord{}, fmt.Errorf("scan interaction: %w", err)
	}
	cost, err := s.decodeCost(costRaw)
	if err != nil {
		return models.InteractionRecord{}, err
	}
	rec.Timestamp = ts.Time
	rec.ErrorMessage = errMsg.String
	rec.Cost = cost
	return rec, nil
}

func (s *Store) ListWorkflows(ctx context.Context, filter recordstore.Filter, order recordstore.Order, offset, limit int) ([]models.WorkflowRecord, error) {
	t, _ := s.table(recordstore.KindWorkflow)
	b := &builder{d: s.dialect}
	query := "SELECT id, name, status, start_time, end_time, duration_seconds FROM workflows" +
		b.where(recordstore.KindWorkflow, t, filter) +
		orderClause(t.tsCol, order) + s.dialect.limitOffset(limit, max(offset, 0))

	rows, err := s.db.Query(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	out := []models.WorkflowRecord{}
	index := make(map[string]int)
	for rows.Next() {
		var (
			wf         models.WorkflowRecord
			start, end nullTime
			duration   sql.NullFloat64
		)
		if err := rows.Scan(&wf.ID, &wf.Name, &wf.Status, &start, &end, &duration); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		wf.StartTime = start.Time
		wf.EndTime = end.ptr()
		if duration.Valid {
			d := duration.Float64
			wf.Duration = &d
		}
		wf.Steps = []models.StepRecord{}
		index[wf.ID] = len(out)
		out = append(out, wf)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}
	if err := s.loadSteps(ctx, out, index); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadSteps(ctx context.Context, workflows []models.WorkflowRecord, index map[string]int) error {
	b := &builder{d: s.dialect}
	params := make([]string, 0, len(workflows))
	for _, wf := range workflows {
		params = append(params, b.bind(wf.ID))
	}
	query := "SELECT workflow_id, position, name, status FROM workflow_steps WHERE workflow_id IN (" +
		strings.Join(params, ", ") + ") ORDER BY workflow_id, position"
	rows, err := s.db.Query(ctx, query, b.args...)
	if err != nil {
		return fmt.Errorf("load workflow steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			workflowID string
			step       models.StepRecord
		)
		if err := rows.Scan(&workflowID, &step.Position, &step.Name, &step.Status); err != nil {
			return fmt.Errorf("scan workflow step: %w", err)
		}
		i, ok := index[workflowID]
		if !ok {
			continue
		}
		workflows[i].Steps = append(workflows[i].Steps, step)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load workflow steps: %w", err)
	}
	return nil
}

func (s *Store) GroupAggregate(ctx context.Context, kind recordstore.Kind, filter recordstore.Filter, groupBy recordstore.GroupBy, aggregates []recordstore.Aggregate) ([]recordstore.GroupResult, error) {
	if err := recordstore.ValidateQuery(kind, groupBy, aggregates); err != nil {
		return nil, err
	}
	t, err := s.table(kind)
	if err != nil {
		return nil, err
	}

	b := &builder{d: s.dialect}
	selects := make([]string, 0, len(aggregates)+1)
	grouped := groupBy.Field != ""
	if grouped {
		key, err := b.groupKey(t, groupBy)
		if err != nil {
			return nil, err
		}
		selects = append(selects, key)
	}
	for _, agg := range aggregates {
		expr, err := aggregateExpr(t, agg)
		if err != nil {
			return nil, err
		}
		selects = append(selects, expr)
	}
	if len(selects) == 0 {
		selects = append(selects, "COUNT(*)")
	}
	query := "SELECT " + strings.Join(selects, ", ") + " FROM " + t.name + b.where(kind, t, filter)
	if grouped {
		query += " GROUP BY 1"
	}

	rows, err := s.db.Query(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("group %s by %q: %w", kind, groupBy.Field, err)
	}
	defer rows.Close()

	results := []recordstore.GroupResult{}
	for rows.Next() {
		var key sql.NullString
		raw := make([]sql.NullString, len(aggregates))
		dest := make([]any, 0, len(selects))
		if grouped {
			dest = append(dest, &key)
		}
		for i := range raw {
			dest = append(dest, &raw[i])
		}
		if len(aggregates) == 0 && !grouped {
			var ignored int64
			dest = append(dest, &ignored)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		values := make(map[recordstore.Aggregate]decimal.NullDecimal, len(aggregates))
		for i, agg := range aggregates {
			v, err := s.decodeAggregate(agg, raw[i])
			if err != nil {
				return nil, err
			}
			values[agg] = v
		}
		results = append(results, recordstore.GroupResult{Key: key.String, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("group %s: %w", kind, err)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	return results, nil
}

func (s *Store) InsertInteraction(ctx context.Context, rec models.InteractionRecord) error {
	if err := models.ValidateInteraction(rec); err != nil {
		return err
	}
	cost, err := s.dialect.costArg(rec.Cost)
	if err != nil {
		return err
	}
	b := &builder{d: s.dialect}
	var errMsg any
	if rec.ErrorMessage != "" {
		errMsg = rec.ErrorMessage
	}
	values := []string{
		b.bind(rec.ID),
		b.bind(s.dialect.timeArg(rec.Timestamp)),
		b.bind(rec.Model),
		b.bind(rec.Usage.PromptTokens),
		b.bind(rec.Usage.CompletionTokens),
		b.bind(rec.Usage.TotalTokens),
		b.bind(rec.Duration),
		b.bind(rec.Status),
		b.bind(errMsg),
		b.bind(cost),
	}
	query := "INSERT INTO ai_interactions (" + interactionColumns + ", " + s.dialect.costColumn() +
		") VALUES (" + strings.Join(values, ", ") + ")"
	if err := s.db.Exec(ctx, query, b.args...); err != nil {
		if s.dialect.isDuplicate(err) {
			return fmt.Errorf("%w: interaction %s", recordstore.ErrDuplicate, rec.ID)
		}
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

func (s *Store) InsertWorkflow(ctx context.Context, rec models.WorkflowRecord) error {
	if err := models.ValidateWorkflow(rec); err != nil {
		return err
	}
	err := s.db.WithTx(ctx, func(tx DB) error {
		b := &builder{d: s.dialect}
		var end, duration any
		if rec.EndTime != nil {
			end = s.dialect.timeArg(*rec.EndTime)
		}
		if rec.Duration != nil {
			duration = *rec.Duration
		}
		query := fmt.Sprintf(
			"INSERT INTO workflows (id, name, status, start_time, end_time, duration_seconds) VALUES (%s, %s, %s, %s, %s, %s)",
			b.bind(rec.ID), b.bind(rec.Name), b.bind(rec.Status),
			b.bind(s.dialect.timeArg(rec.StartTime)), b.bind(end), b.bind(duration),
		)
		if err := tx.Exec(ctx, query, b.args...); err != nil {
			return err
		}
		for _, step := range rec.Steps {
			sb := &builder{d: s.dialect}
			stepQuery := fmt.Sprintf(
				"INSERT INTO workflow_steps (workflow_id, position, name, status) VALUES (%s, %s, %s, %s)",
				sb.bind(rec.ID), sb.bind(step.Position), sb.bind(step.Name), sb.bind(step.Status),
			)
			if err := tx.Exec(ctx, stepQuery, sb.args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if s.dialect.isDuplicate(err) {
			return fmt.Errorf("%w: workflow %s", recordstore.ErrDuplicate, rec.ID)
		}
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func orderClause(tsCol string, order recordstore.Order) string {
	if order == recordstore.OrderOldestFirst {
		return fmt.Sprintf(" ORDER BY %s ASC, id ASC", tsCol)
	}
	return fmt.Sprintf(" ORDER BY %s DESC, id DESC", tsCol)
}
