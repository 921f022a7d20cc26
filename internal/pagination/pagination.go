// Package pagination turns page/limit requests into offset queries and
// assembles page envelopes.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

var ErrInvalidParams = errors.New("invalid pagination parameters")

// Mode selects how out-of-range input is treated.
type Mode string

const (
	// ModeClamp replaces bad values with defaults and caps the limit.
	ModeClamp Mode = "clamp"
	// ModeReject fails with ErrInvalidParams.
	ModeReject Mode = "reject"
)

// Policy is applied uniformly to every paginated operation.
type Policy struct {
	Mode         Mode
	DefaultPage  int
	DefaultLimit int
	// MaxLimit caps the page size; zero means uncapped.
	MaxLimit int
}

// DefaultPolicy clamps to page 1, limit 10.
func DefaultPolicy() Policy {
	return Policy{Mode: ModeClamp, DefaultPage: 1, DefaultLimit: 10}
}

func (p Policy) defaults() (int, int) {
	page, limit := p.DefaultPage, p.DefaultLimit
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	if p.MaxLimit > 0 && limit > p.MaxLimit {
		limit = p.MaxLimit
	}
	return page, limit
}

// Params is a 1-based page request.
type Params struct {
	Page  int
	Limit int
}

// Offset returns (page-1)*limit.
func (p Params) Offset() int {
	if p.Page <= 1 || p.Limit <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// MaxPage is the largest page whose offset fits in an int for limit.
func MaxPage(limit int) int {
	if limit <= 0 {
		return math.MaxInt
	}
	return math.MaxInt / limit
}

// Normalize validates or clamps params.
func (p Policy) Normalize(in Params) (Params, error) {
	defPage, defLimit := p.defaults()
	if p.Mode == ModeReject {
		if in.Page <= 0 {
			return Params{}, fmt.Errorf("%w: page must be a positive integer", ErrInvalidParams)
		}
		if in.Limit <= 0 {
			return Params{}, fmt.Errorf("%w: limit must be a positive integer", ErrInvalidParams)
		}
		if p.MaxLimit > 0 && in.Limit > p.MaxLimit {
			return Params{}, fmt.Errorf("%w: limit must be <= %d", ErrInvalidParams, p.MaxLimit)
		}
		if in.Page > MaxPage(in.Limit) {
			return Params{}, fmt.Errorf("%w: page must be <= %d", ErrInvalidParams, MaxPage(in.Limit))
		}
		return in, nil
	}
	out := in
	if out.Page <= 0 {
		out.Page = defPage
	}
	if out.Limit <= 0 {
		out.Limit = defLimit
	}
	if p.MaxLimit > 0 && out.Limit > p.MaxLimit {
		out.Limit = p.MaxLimit
	}
	// Pages past the addressable range stay past the end: empty, never page 1.
	if out.Page > MaxPage(out.Limit) {
		out.Page = MaxPage(out.Limit)
	}
	return out, nil
}

// Parse reads textual page and limit values. Absent values take the defaults
// in either mode; non-numeric values are defaulted or rejected per Mode.
func (p Policy) Parse(pageRaw, limitRaw string) (Params, error) {
	defPage, defLimit := p.defaults()
	page, err := p.parseOne("page", pageRaw, defPage)
	if err != nil {
		return Params{}, err
	}
	limit, err := p.parseOne("limit", limitRaw, defLimit)
	if err != nil {
		return Params{}, err
	}
	return p.Normalize(Params{Page: page, Limit: limit})
}

func (p Policy) parseOne(name, raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(raw, "-") {
		return math.MaxInt, nil
	}
	if err != nil {
		if p.Mode == ModeReject {
			return 0, fmt.Errorf("%w: %s must be a positive integer", ErrInvalidParams, name)
		}
		return def, nil
	}
	return n, nil
}

// Result is one page of items plus totals.
type Result[T any] struct {
	Items      []T   `json:"data"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int64 `json:"totalPages"`
}

// TotalPages returns ceil(total/limit).
func TotalPages(total int64, limit int) int64 {
	if limit <= 0 || total <= 0 {
		return 0
	}
	l := int64(limit)
	return (total + l - 1) / l
}

// CountFunc returns the number of matching records.
type CountFunc func(ctx context.Context) (int64, error)

// ListFunc returns at most limit records starting at offset.
type ListFunc[T any] func(ctx context.Context, offset, limit int) ([]T, error)

// Fetch issues exactly one count and one list, concurrently. The two reads are
// not transactional: a write landing between them can leave Total off by the
// number of concurrent inserts. Callers accept that race.
func Fetch[T any](ctx context.Context, params Params, count CountFunc, list ListFunc[T]) (Result[T], error) {
	var (
		total int64
		items []T
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := count(gctx)
		if err != nil {
			return err
		}
		total = n
		return nil
	})
	g.Go(func() error {
		rows, err := list(gctx, params.Offset(), params.Limit)
		if err != nil {
			return err
		}
		items = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result[T]{}, err
	}
	if items == nil {
		items = []T{}
	}
	if len(items) > params.Limit {
		items = items[:params.Limit]
	}
	return Result[T]{
		Items:      items,
		Total:      total,
		Page:       params.Page,
		Limit:      params.Limit,
		TotalPages: TotalPages(total, params.Limit),
	}, nil
}

// Map converts the items of a page, keeping the envelope.
func Map[T, U any](in Result[T], fn func(T) U) Result[U] {
	out := make([]U, 0, len(in.Items))
	for _, item := range in.Items {
		out = append(out, fn(item))
	}
	return Result[U]{
		Items:      out,
		Total:      in.Total,
		Page:       in.Page,
		Limit:      in.Limit,
		TotalPages: in.TotalPages,
	}
}
