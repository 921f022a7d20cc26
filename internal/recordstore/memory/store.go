// Package memory is an in-process record store used by default and in tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ncecere/usage_analytics/internal/models"
	"github.com/ncecere/usage_analytics/internal/recordstore"
)

// Store keeps records in maps guarded by a RWMutex. Reads return copies so
// callers never observe later writes through shared slices.
type Store struct {
	mu           sync.RWMutex
	interactions map[string]models.InteractionRecord
	workflows    map[string]models.WorkflowRecord
}

var _ recordstore.ReadWriter = (*Store)(nil)

// New constructs an empty store.
func New() *Store {
	return &Store{
		interactions: make(map[string]models.InteractionRecord),
		workflows:    make(map[string]models.WorkflowRecord),
	}
}

func (s *Store) InsertInteraction(ctx context.Context, rec models.InteractionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := models.ValidateInteraction(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.interactions[rec.ID]; ok {
		return fmt.Errorf("%w: interaction %s", recordstore.ErrDuplicate, rec.ID)
	}
	s.interactions[rec.ID] = rec
	return nil
}

func (s *Store) InsertWorkflow(ctx context.Context, rec models.WorkflowRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := models.ValidateWorkflow(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[rec.ID]; ok {
		return fmt.Errorf("%w: workflow %s", recordstore.ErrDuplicate, rec.ID)
	}
	rec.Steps = append([]models.StepRecord(nil), rec.Steps...)
	s.workflows[rec.ID] = rec
	return nil
}

func (s *Store) Count(ctx context.Context, kind recordstore.Kind, filter recordstore.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	switch kind {
	case recordstore.KindInteraction:
		for _, rec := range s.interactions {
			if recordstore.MatchInteraction(filter, rec) {
				n++
			}
		}
	case recordstore.KindWorkflow:
		for _, rec := range s.workflows {
			if recordstore.MatchWorkflow(filter, rec) {
				n++
			}
		}
	default:
		return 0, fmt.Errorf("%w: kind %q", recordstore.ErrUnsupportedField, kind)
	}
	return n, nil
}

func (s *Store) ListInteractions(ctx context.Context, filter recordstore.Filter, order recordstore.Order, offset, limit int) ([]models.InteractionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matched := s.matchInteractions(filter)
	recordstore.SortInteractions(matched, order)
	return recordstore.Window(matched, offset, limit), nil
}

func (s *Store) ListWorkflows(ctx context.Context, filter recordstore.Filter, order recordstore.Order, offset, limit int) ([]models.WorkflowRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matched := s.matchWorkflows(filter)
	recordstore.SortWorkflows(matched, order)
	return recordstore.Window(matched, offset, limit), nil
}

func (s *Store) GroupAggregate(ctx context.Context, kind recordstore.Kind, filter recordstore.Filter, groupBy recordstore.GroupBy, aggregates []recordstore.Aggregate) ([]recordstore.GroupResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch kind {
	case recordstore.KindInteraction:
		return recordstore.GroupInteractions(s.matchInteractions(filter), groupBy, aggregates)
	case recordstore.KindWorkflow:
		return recordstore.GroupWorkflows(s.matchWorkflows(filter), groupBy, aggregates)
	default:
		return nil, fmt.Errorf("%w: kind %q", recordstore.ErrUnsupportedField, kind)
	}
}

func (s *Store) GetInteraction(ctx context.Context, id string) (models.InteractionRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.InteractionRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.interactions[id]
	if !ok {
		return models.InteractionRecord{}, recordstore.ErrNotFound
	}
	return rec, nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) matchInteractions(filter recordstore.Filter) []models.InteractionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.InteractionRecord, 0, len(s.interactions))
	for _, rec := range s.interactions {
		if recordstore.MatchInteraction(filter, rec) {
			out = append(out, rec)
		}
	}
	return out
}

func (s *Store) matchWorkflows(filter recordstore.Filter) []models.WorkflowRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.WorkflowRecord, 0, len(s.workflows))
	for _, rec := range s.workflows {
		if recordstore.MatchWorkflow(filter, rec) {
			rec.Steps = append([]models.StepRecord(nil), rec.Steps...)
			out = append(out, rec)
		}
	}
	return out
}
