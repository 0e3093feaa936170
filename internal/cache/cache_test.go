package cache

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/postexperiment/internal/monitoring"
	"github.com/banshee-data/postexperiment/internal/timeutil"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	monitoring.SetLogger(nil)
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func counter(n *int, v float64) func(context.Context) (float64, error) {
	return func(context.Context) (float64, error) {
		*n++
		return v, nil
	}
}

func TestParamsKey_Canonical(t *testing.T) {
	a, err := ParamsKey(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	b, err := ParamsKey(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, `{"a":1,"b":2}`, a)

	empty, err := ParamsKey(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", empty)
}

func TestFunction_CallComputesOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	f, err := Register[float64](ctx, s, "peak", Options{})
	require.NoError(t, err)

	var calls int
	for i := 0; i < 3; i++ {
		v, err := f.Call(ctx, "1", nil, counter(&calls, 4.2))
		require.NoError(t, err)
		assert.Equal(t, 4.2, v)
	}
	assert.Equal(t, 1, calls)

	st := f.Stats()
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, 1, st.New)
	assert.Equal(t, 2, st.Hits)

	// different parameters are a different entry
	_, err = f.Call(ctx, "1", map[string]int{"axis": 0}, counter(&calls, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, f.Len())
}

func TestFunction_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	f, err := Register[int](ctx, s, "failing", Options{})
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = f.Call(ctx, "1", nil, func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, f.Len())
}

func TestFunction_MaxSize(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	f, err := Register[[]float64](ctx, s, "lineout", Options{MaxSize: 16})
	require.NoError(t, err)

	big := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	v, err := f.Call(ctx, "1", nil, func(context.Context) ([]float64, error) { return big, nil })
	require.NoError(t, err)
	assert.Equal(t, big, v, "oversized values are still returned")
	assert.Equal(t, 0, f.Len())

	_, err = f.Call(ctx, "2", nil, func(context.Context) ([]float64, error) { return []float64{1}, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, f.Len())
}

func TestFunction_SaveAndReopen(t *testing.T) {
	ctx := context.Background()
	s, path := openTestStore(t)
	f, err := Register[map[string]float64](ctx, s, "fit", Options{})
	require.NoError(t, err)

	want := map[string]float64{"center": 12.5, "sigma": 2}
	_, err = f.Call(ctx, "7", map[string]any{"model": "gaussian_1d"}, func(context.Context) (map[string]float64, error) {
		return want, nil
	})
	require.NoError(t, err)

	n, err := f.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, f.Pending())
	assert.Equal(t, 1, f.Len())

	n, err = f.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing new to save")
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	g, err := Register[map[string]float64](ctx, s2, "fit", Options{})
	require.NoError(t, err)

	got, err := g.Call(ctx, "7", map[string]any{"model": "gaussian_1d"}, func(context.Context) (map[string]float64, error) {
		t.Fatal("value should come from the database")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, g.Stats().Hits)
}

func TestFunction_String(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	f, err := Register[int](ctx, s, "count", Options{})
	require.NoError(t, err)
	assert.Equal(t, `<Cache of "count" (0 entries, 0 hits = 0.0s saved)>`, f.String())

	f.Set(Key{Shot: "1", Params: "{}"}, 3)
	assert.Equal(t, `<Cache of "count" (1 entries (1 new(!)), 0 hits = 0.0s saved)>`, f.String())
}

func TestStore_RegisterTwiceReturnsExisting(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	a, err := Register[int](ctx, s, "x", Options{})
	require.NoError(t, err)
	b, err := Register[int](ctx, s, "x", Options{})
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = Register[string](ctx, s, "x", Options{})
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.Equal(t, []string{"x"}, s.Names())
}

func TestStore_GCAllRemovesSupersededRows(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	f, err := Register[int](ctx, s, "n", Options{})
	require.NoError(t, err)

	key := Key{Shot: "1", Params: "{}"}
	f.Set(key, 1)
	_, err = f.Save(ctx)
	require.NoError(t, err)
	f.Set(key, 2)
	_, err = f.Save(ctx)
	require.NoError(t, err)

	stored, err := s.StoredFunctions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stored["n"])

	require.NoError(t, s.GCAll(ctx))
	stored, err = s.StoredFunctions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stored["n"])

	require.NoError(t, f.Load(ctx))
	v, ok := f.Get(key)
	require.True(t, ok)
	assert.Equal(t, 2, v, "the newest row survives")
}

func TestStore_PendingRoundTrip(t *testing.T) {
	ctx := context.Background()
	worker, _ := openTestStore(t)
	parent, _ := openTestStore(t)

	wf, err := Register[float64](ctx, worker, "mean", Options{})
	require.NoError(t, err)
	pf, err := Register[float64](ctx, parent, "mean", Options{})
	require.NoError(t, err)

	var calls int
	_, err = wf.Call(ctx, "3", nil, counter(&calls, 1.5))
	require.NoError(t, err)

	entries, err := worker.PendingEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NoError(t, parent.MergePending(entries))

	v, err := pf.Call(ctx, "3", nil, counter(&calls, 99))
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)
	assert.Equal(t, 1, calls)

	n, err := parent.SaveAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFunction_Drop(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	f, err := Register[int](ctx, s, "old", Options{})
	require.NoError(t, err)
	f.Set(Key{Shot: "1", Params: "{}"}, 1)
	_, err = f.Save(ctx)
	require.NoError(t, err)

	require.NoError(t, f.Drop(ctx))
	assert.Equal(t, 0, f.Len())
	require.NoError(t, f.Load(ctx))
	assert.Equal(t, 0, f.Len())
}

func TestFunction_LoadSkipsUndecodableRows(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	strs, err := Register[string](ctx, s, "shared", Options{})
	require.NoError(t, err)
	strs.Set(Key{Shot: "1", Params: "{}"}, "text")
	_, err = strs.Save(ctx)
	require.NoError(t, err)

	// a second store sees the same rows under a different value type
	other, err := Open(s.Path())
	require.NoError(t, err)
	defer other.Close()
	ints, err := Register[int](ctx, other, "shared", Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, ints.Len())
}

func TestFunction_UnencodableValuesAreNotStored(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	f, err := Register[float64](ctx, s, "nan", Options{})
	require.NoError(t, err)

	v, err := f.Call(ctx, "1", nil, func(context.Context) (float64, error) { return math.NaN(), nil })
	require.NoError(t, err)
	assert.True(t, math.IsNaN(v))
	assert.Equal(t, 0, f.Len())
}

func TestFunction_ExecTimeFromClock(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	start := time.Date(2018, 5, 4, 12, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	s.SetClock(clock)

	f, err := Register[float64](ctx, s, "slow", Options{})
	require.NoError(t, err)
	slow := func(context.Context) (float64, error) {
		clock.Advance(2 * time.Second)
		return 1, nil
	}
	_, err = f.Call(ctx, "1", nil, slow)
	require.NoError(t, err)
	_, err = f.Call(ctx, "1", nil, slow)
	require.NoError(t, err)

	st := f.Stats()
	assert.Equal(t, 2*time.Second, st.ExecTime)
	assert.Equal(t, 1, st.Hits)
	assert.Equal(t, `<Cache of "slow" (1 entries (1 new(!)), 1 hits = 2.0s saved)>`, f.String())

	_, err = f.Save(ctx)
	require.NoError(t, err)
	var created int64
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT created_at FROM cache_entries WHERE function = 'slow'`).Scan(&created))
	assert.Equal(t, clock.Now().UnixNano(), created)
}
