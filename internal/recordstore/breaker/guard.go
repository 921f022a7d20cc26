// Package breaker guards a record store with a per-query deadline and a
// circuit breaker so a failing backend sheds load instead of piling up calls.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ncecere/usage_analytics/internal/models"
	"github.com/ncecere/usage_analytics/internal/recordstore"
)

// Settings configures a Guard.
type Settings struct {
	Name string
	// Disabled skips the circuit breaker; the query deadline still applies.
	Disabled         bool
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	QueryTimeout     time.Duration
	Logger           *slog.Logger
	// OnStateChange is called after every transition, in addition to logging.
	OnStateChange func(name string, to gobreaker.State)
}

// Guard wraps a Store. Open-circuit rejections surface as recordstore.ErrUnavailable.
type Guard struct {
	next         recordstore.Store
	cb           *gobreaker.CircuitBreaker
	queryTimeout time.Duration
}

var _ recordstore.Store = (*Guard)(nil)

// New wraps next.
func New(next recordstore.Store, s Settings) *Guard {
	g := &Guard{next: next, queryTimeout: s.QueryTimeout}
	if s.Disabled {
		return g
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := s.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	name := s.Name
	if name == "" {
		name = "recordstore"
	}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("record store breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			if s.OnStateChange != nil {
				s.OnStateChange(name, to)
			}
		},
	})
	return g
}

// State reports the breaker state, closed when disabled.
func (g *Guard) State() gobreaker.State {
	if g.cb == nil {
		return gobreaker.StateClosed
	}
	return g.cb.State()
}

// isSuccessful keeps caller-side outcomes from tripping the breaker.
func isSuccessful(err error) bool {
	return err == nil ||
		errors.Is(err, recordstore.ErrNotFound) ||
		errors.Is(err, recordstore.ErrUnsupportedField) ||
		errors.Is(err, recordstore.ErrDuplicate) ||
		errors.Is(err, context.Canceled)
}

func call[T any](ctx context.Context, g *Guard, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	run := func() (T, error) {
		qctx := ctx
		if g.queryTimeout > 0 {
			var cancel context.CancelFunc
			qctx, cancel = context.WithTimeout(ctx, g.queryTimeout)
			defer cancel()
		}
		return fn(qctx)
	}
	if g.cb == nil {
		return run()
	}
	out, err := g.cb.Execute(func() (interface{}, error) {
		return run()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", recordstore.ErrUnavailable, err)
		}
		return zero, err
	}
	return out.(T), nil
}

func (g *Guard) Count(ctx context.Context, kind recordstore.Kind, filter recordstore.Filter) (int64, error) {
	return call(ctx, g, func(ctx context.Context) (int64, error) {
		return g.next.Count(ctx, kind, filter)
	})
}

func (g *Guard) ListInteractions(ctx context.Context, filter recordstore.Filter, order recordstore.Order, offset, limit int) ([]models.InteractionRecord, error) {
	return call(ctx, g, func(ctx context.Context) ([]models.InteractionRecord, error) {
		return g.next.ListInteractions(ctx, filter, order, offset, limit)
	})
}

func (g *Guard) ListWorkflows(ctx context.Context, filter recordstore.Filter, order recordstore.Order, offset, limit int) ([]models.WorkflowRecord, error) {
	return call(ctx, g, func(ctx context.Context) ([]models.WorkflowRecord, error) {
		return g.next.ListWorkflows(ctx, filter, order, offset, limit)
	})
}

func (g *Guard) GroupAggregate(ctx context.Context, kind recordstore.Kind, filter recordstore.Filter, groupBy recordstore.GroupBy, aggregates []recordstore.Aggregate) ([]recordstore.GroupResult, error) {
	return call(ctx, g, func(ctx context.Context) ([]recordstore.GroupResult, error) {
		return g.next.GroupAggregate(ctx, kind, filter, groupBy, aggregates)
	})
}

func (g *Guard) GetInteraction(ctx context.Context, id string) (models.InteractionRecord, error) {
	return call(ctx, g, func(ctx context.Context) (models.InteractionRecord, error) {
		return g.next.GetInteraction(ctx, id)
	})
}

// Ping reports ErrUnavailable while the circuit is open, otherwise defers to
// the wrapped store when it can ping.
func (g *Guard) Ping(ctx context.Context) error {
	if g.State() == gobreaker.StateOpen {
		return recordstore.ErrUnavailable
	}
	pinger, ok := g.next.(recordstore.Pinger)
	if !ok {
		return nil
	}
	_, err := call(ctx, g, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, pinger.Ping(ctx)
	})
	return err
}
