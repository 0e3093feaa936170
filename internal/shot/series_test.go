package shot

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/postexperiment/internal/field"
)

func shotNumbers(t *testing.T, shots []*Shot) []any {
	t.Helper()
	out := make([]any, len(shots))
	for i, s := range shots {
		v, err := s.Get("shot")
		require.NoError(t, err)
		out[i] = v
	}
	return out
}

func newTestSeries(t *testing.T) *Series {
	t.Helper()
	s := NewSeries(NewIDSpec(IDField{"shot", Int}))
	require.NoError(t, s.Merge([]Record{
		{"shot": 3, "energy": 1.0, "target": "a"},
		{"shot": 1, "energy": 2.0, "target": "b"},
		{"shot": 2, "energy": 3.0, "target": "a"},
		{"shot": 0, "energy": 4.0, "target": "b"},
	}))
	return s
}

func TestIDSpec(t *testing.T) {
	spec := NewIDSpec(IDField{"date", String}, IDField{"shot", Int})

	a, err := spec.OfRecord(Record{"date": "2018-05-01", "shot": "12"})
	require.NoError(t, err)
	b, err := spec.Literal("2018-05-01", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Compare(b), "shot numbers compare numerically")
	assert.Equal(t, `"2018-05-01",12`, a.Key())
	assert.Equal(t, "ShotID(date=2018-05-01, shot=12)", a.String())

	_, err = spec.OfRecord(Record{"date": "2018-05-01"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = spec.OfRecord(Record{"date": "x", "shot": "twelve"})
	assert.Error(t, err)

	_, err = spec.Literal(1)
	assert.Error(t, err)
}

func TestInt(t *testing.T) {
	tests := []struct {
		in      any
		want    any
		wantErr bool
	}{
		{in: 7, want: int64(7)},
		{in: 12.0, want: int64(12)},
		{in: " 42 ", want: int64(42)},
		{in: 1.5, wantErr: true},
		{in: 1e19, wantErr: true},
		{in: -1e19, wantErr: true},
		{in: math.Ldexp(1, 63), wantErr: true},
		{in: -math.Ldexp(1, 62), want: int64(-1 << 62)},
		{in: "x", wantErr: true},
	}
	for _, tt := range tests {
		got, err := Int(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "Int(%v)", tt.in)
			continue
		}
		require.NoError(t, err, "Int(%v)", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestSeries_MergeOrdersByID(t *testing.T) {
	s := newTestSeries(t)
	assert.Equal(t, 4, s.Len())
	assert.Equal(t, []any{0, 1, 2, 3}, shotNumbers(t, s.Shots()))
	assert.Equal(t, "<Series(ShotID(shot)): 4 entries>", s.String())

	// merging into an existing shot adds keys
	require.NoError(t, s.Merge([]Record{{"shot": "2", "laser": "on"}}))
	assert.Equal(t, 4, s.Len())
	id, _ := s.IDSpec().Literal(2)
	sh, err := s.Get(id)
	require.NoError(t, err)
	assert.True(t, sh.Has("laser"))

	err = s.Merge([]Record{{"shot": 2, "energy": 99.0}})
	assert.ErrorIs(t, err, ErrConflict)

	err = s.Merge([]Record{{"energy": 1.0}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSeries_MergeShotsKeepsIdentity(t *testing.T) {
	s := newTestSeries(t)
	first, err := s.At(0)
	require.NoError(t, err)

	other := NewSeries(s.IDSpec())
	require.NoError(t, other.MergeShots([]*Shot{first}))
	got, err := other.At(0)
	require.NoError(t, err)
	assert.Same(t, first, got)
}

func TestSeries_At(t *testing.T) {
	s := newTestSeries(t)
	last, err := s.At(-1)
	require.NoError(t, err)
	assert.Equal(t, []any{3}, shotNumbers(t, []*Shot{last}))

	_, err = s.At(4)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.At(-5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSeries_Slice(t *testing.T) {
	s := newTestSeries(t)
	start, stop := All()

	tests := []struct {
		name              string
		start, stop, step int
		want              []any
	}{
		{"all", start, stop, 1, []any{0, 1, 2, 3}},
		{"every second", start, stop, 2, []any{0, 2}},
		{"head", 0, 2, 1, []any{0, 1}},
		{"negative start", -2, stop, 1, []any{2, 3}},
		{"reversed", stop, start, -1, []any{3, 2, 1, 0}},
		{"reversed from second last", -2, start, -1, []any{2, 1, 0}},
		{"reversed window", 3, 0, -2, []any{3, 1}},
		{"empty", 2, 1, 1, []any{}},
		{"clamped", -100, 100, 1, []any{0, 1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Slice(tt.start, tt.stop, tt.step)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, shotNumbers(t, got)); diff != "" {
				t.Errorf("Slice(%d, %d, %d) mismatch (-want +got):\n%s", tt.start, tt.stop, tt.step, diff)
			}
		})
	}

	_, err := s.Slice(0, 1, 0)
	assert.Error(t, err)
}

func TestSeries_Reversed(t *testing.T) {
	s := newTestSeries(t)
	assert.Equal(t, []any{3, 2, 1, 0}, shotNumbers(t, s.Reversed()))
}

func TestSeries_GroupBy(t *testing.T) {
	s := newTestSeries(t)
	groups, err := s.GroupBy("target")
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, []any{"a"}, groups[0].Key)
	assert.Equal(t, []any{2, 3}, shotNumbers(t, groups[0].Series.Shots()))
	assert.Equal(t, []any{"b"}, groups[1].Key)
	assert.Equal(t, []any{0, 1}, shotNumbers(t, groups[1].Series.Shots()))

	_, err = s.GroupBy("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSeries_Filter(t *testing.T) {
	s := newTestSeries(t)
	a := s.FilterBy(map[string]any{"target": "a"})
	assert.Equal(t, []any{2, 3}, shotNumbers(t, a.Shots()))

	high := s.Filter(func(sh *Shot) bool {
		e, _ := sh.Get("energy")
		return e.(float64) > 2.5
	})
	assert.Equal(t, []any{0, 2}, shotNumbers(t, high.Shots()))
	assert.Equal(t, 4, s.Len(), "filter must not modify the receiver")
}

func energy(_ context.Context, s *Shot) (any, error) { return s.Get("energy") }

type pair struct{ A, B float64 }

func (p pair) Vector() []float64          { return []float64{p.A, p.B} }
func (p pair) FromVector(v []float64) any { return pair{v[0], v[1]} }

func TestSeries_Mean(t *testing.T) {
	s := newTestSeries(t)
	ctx := context.Background()

	for _, workers := range []int{1, 3} {
		m, err := s.Mean(ctx, energy, MeanOptions{Workers: workers})
		require.NoError(t, err)
		assert.InDelta(t, 2.5, m, 1e-12)
	}

	line := func(_ context.Context, sh *Shot) (any, error) {
		e, _ := sh.Get("energy")
		return []float64{e.(float64), 1}, nil
	}
	m, err := s.Mean(ctx, line, MeanOptions{})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2.5, 1}, m.([]float64), 1e-12)

	params := func(_ context.Context, sh *Shot) (any, error) {
		e, _ := sh.Get("energy")
		return pair{A: e.(float64), B: 2 * e.(float64)}, nil
	}
	m, err = s.Mean(ctx, params, MeanOptions{Workers: 2})
	require.NoError(t, err)
	assert.Equal(t, pair{2.5, 5}, m)

	img := func(_ context.Context, sh *Shot) (any, error) {
		e, _ := sh.Get("energy")
		return field.New("img", "", []float64{e.(float64), 0, 0, 1}, field.PixelAxis("x", 2), field.PixelAxis("y", 2))
	}
	m, err = s.Mean(ctx, img, MeanOptions{})
	require.NoError(t, err)
	assert.Equal(t, []float64{2.5, 0, 0, 1}, m.(*field.Field).Data)

	_, err = NewSeries(s.IDSpec()).Mean(ctx, energy, MeanOptions{})
	assert.ErrorIs(t, err, ErrEmpty)

	boom := errors.New("boom")
	_, err = s.Mean(ctx, func(context.Context, *Shot) (any, error) { return nil, boom }, MeanOptions{Workers: 2})
	assert.ErrorIs(t, err, boom)
}

func TestSeries_GroupedMean(t *testing.T) {
	s := newTestSeries(t)
	keys, means, err := s.GroupedMean(context.Background(), []string{"target"}, energy, MeanOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"a"}, {"b"}}, keys)
	assert.InDelta(t, 2.0, means[0], 1e-12)
	assert.InDelta(t, 3.0, means[1], 1e-12)
}

func TestAverage_ShapeMismatch(t *testing.T) {
	_, err := Average([]any{[]float64{1, 2}, []float64{1}})
	assert.ErrorIs(t, err, field.ErrShape)

	_, err = Average([]any{"x"})
	assert.Error(t, err)

	a, err := field.New("a", "", []float64{1, 2, 3, 4, 5, 6}, field.PixelAxis("x", 2), field.PixelAxis("y", 3))
	require.NoError(t, err)
	b, err := field.New("a", "", []float64{1, 2, 3, 4, 5, 6}, field.PixelAxis("x", 3), field.PixelAxis("y", 2))
	require.NoError(t, err)
	_, err = Average([]any{a, b})
	assert.ErrorIs(t, err, field.ErrShape, "transposed fields have the same size but not the same shape")

	mean, err := Average([]any{a, a.Scale(3)})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, mean.(*field.Field).Shape())
	assert.Equal(t, []float64{2, 4, 6, 8, 10, 12}, mean.(*field.Field).Data)

	m, err := Average([]any{1.0, math.Inf(1)})
	require.NoError(t, err)
	assert.True(t, math.IsInf(m.(float64), 1))
}
