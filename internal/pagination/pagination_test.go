package pagination

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPolicyParseClamp(t *testing.T) {
	p := Policy{Mode: ModeClamp, DefaultPage: 1, DefaultLimit: 10, MaxLimit: 50}
	tests := []struct {
		name      string
		page      string
		limit     string
		wantPage  int
		wantLimit int
	}{
		{"absent", "", "", 1, 10},
		{"explicit", "3", "25", 3, 25},
		{"non numeric", "abc", "x", 1, 10},
		{"zero and negative", "0", "-4", 1, 10},
		{"above max", "2", "500", 2, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Parse(tt.page, tt.limit)
			require.NoError(t, err)
			require.Equal(t, Params{Page: tt.wantPage, Limit: tt.wantLimit}, got)
		})
	}
}

func TestPolicyParseReject(t *testing.T) {
	p := Policy{Mode: ModeReject, DefaultPage: 1, DefaultLimit: 10, MaxLimit: 50}
	got, err := p.Parse("", "")
	require.NoError(t, err)
	require.Equal(t, Params{Page: 1, Limit: 10}, got)

	for _, in := range [][2]string{{"abc", "10"}, {"0", "10"}, {"1", "-1"}, {"1", "51"}} {
		_, err := p.Parse(in[0], in[1])
		require.ErrorIs(t, err, ErrInvalidParams, "input %v", in)
	}
}

func TestTotalPages(t *testing.T) {
	require.Equal(t, int64(0), TotalPages(0, 10))
	require.Equal(t, int64(1), TotalPages(10, 10))
	require.Equal(t, int64(2), TotalPages(11, 10))
	require.Equal(t, int64(2), TotalPages(15, 10))
	require.Equal(t, int64(0), TotalPages(5, 0))
}

func TestParamsOffset(t *testing.T) {
	require.Equal(t, 0, Params{Page: 1, Limit: 10}.Offset())
	require.Equal(t, 10, Params{Page: 2, Limit: 10}.Offset())
	require.Equal(t, 40, Params{Page: 5, Limit: 10}.Offset())
}

func TestNormalizeHugePage(t *testing.T) {
	clamp := Policy{Mode: ModeClamp, DefaultPage: 1, DefaultLimit: 10, MaxLimit: 100}
	got, err := clamp.Parse("4611686018427387905", "100")
	require.NoError(t, err)
	require.Equal(t, MaxPage(100), got.Page)
	require.Positive(t, got.Offset())
	require.LessOrEqual(t, got.Offset(), math.MaxInt-got.Limit)

	got, err = clamp.Parse("99999999999999999999999", "10")
	require.NoError(t, err)
	require.Equal(t, MaxPage(10), got.Page)

	reject := Policy{Mode: ModeReject, DefaultPage: 1, DefaultLimit: 10, MaxLimit: 100}
	_, err = reject.Parse("4611686018427387905", "100")
	require.ErrorIs(t, err, ErrInvalidParams)
	_, err = reject.Parse("99999999999999999999999", "10")
	require.ErrorIs(t, err, ErrInvalidParams)

	uncapped := Policy{Mode: ModeClamp}
	got, err = uncapped.Parse("3", "99999999999999999999999")
	require.NoError(t, err)
	require.Equal(t, Params{Page: 1, Limit: math.MaxInt}, got)
	require.Equal(t, 0, got.Offset())
}

func TestFetchHugePageIsEmpty(t *testing.T) {
	params, err := DefaultPolicy().Parse("4611686018427387905", "100")
	require.NoError(t, err)
	rows := []int{1, 2, 3}
	res, err := Fetch(context.Background(), params,
		func(context.Context) (int64, error) { return int64(len(rows)), nil },
		func(_ context.Context, offset, limit int) ([]int, error) {
			if offset >= len(rows) {
				return nil, nil
			}
			return rows[offset:min(len(rows), offset+limit)], nil
		},
	)
	require.NoError(t, err)
	require.Empty(t, res.Items)
	require.Equal(t, int64(3), res.Total)
}

func TestFetchIssuesOneCountAndOneList(t *testing.T) {
	all := make([]int, 15)
	for i := range all {
		all[i] = i
	}
	var counts, lists atomic.Int32
	count := func(ctx context.Context) (int64, error) {
		counts.Add(1)
		return int64(len(all)), nil
	}
	list := func(ctx context.Context, offset, limit int) ([]int, error) {
		lists.Add(1)
		end := min(offset+limit, len(all))
		if offset >= end {
			return nil, nil
		}
		return all[offset:end], nil
	}

	res, err := Fetch(context.Background(), Params{Page: 2, Limit: 10}, count, list)
	require.NoError(t, err)
	require.Equal(t, int32(1), counts.Load())
	require.Equal(t, int32(1), lists.Load())
	require.Len(t, res.Items, 5)
	require.Equal(t, 10, res.Items[0])
	require.Equal(t, int64(15), res.Total)
	require.Equal(t, int64(2), res.TotalPages)

	beyond, err := Fetch(context.Background(), Params{Page: 9, Limit: 10}, count, list)
	require.NoError(t, err)
	require.NotNil(t, beyond.Items)
	require.Empty(t, beyond.Items)
	require.Equal(t, int64(15), beyond.Total)
}

func TestFetchFailsWhole(t *testing.T) {
	boom := errors.New("store down")
	_, err := Fetch(context.Background(), Params{Page: 1, Limit: 10},
		func(ctx context.Context) (int64, error) { return 0, boom },
		func(ctx context.Context, offset, limit int) ([]string, error) { return []string{"a"}, nil },
	)
	require.ErrorIs(t, err, boom)
}

// The count and list are separate reads; an insert between them is visible
// in one but not the other. This documents the accepted race.
func TestFetchReadReadRace(t *testing.T) {
	rows := []string{"a", "b"}
	var inserted atomic.Bool
	count := func(ctx context.Context) (int64, error) {
		inserted.Store(true)
		return int64(len(rows) + 1), nil
	}
	list := func(ctx context.Context, offset, limit int) ([]string, error) {
		return rows, nil
	}
	res, err := Fetch(context.Background(), Params{Page: 1, Limit: 10}, count, list)
	require.NoError(t, err)
	require.True(t, inserted.Load())
	require.Equal(t, int64(3), res.Total)
	require.Len(t, res.Items, 2)
}

func TestMapKeepsEnvelope(t *testing.T) {
	in := Result[int]{Items: []int{1, 2}, Total: 12, Page: 2, Limit: 2, TotalPages: 6}
	out := Map(in, func(i int) string { return string(rune('a' + i)) })
	require.Equal(t, []string{"b", "c"}, out.Items)
	require.Equal(t, int64(12), out.Total)
	require.Equal(t, int64(6), out.TotalPages)
}
