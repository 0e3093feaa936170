package experiment

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/postexperiment/internal/cache"
	"github.com/banshee-data/postexperiment/internal/field"
	"github.com/banshee-data/postexperiment/internal/plot"
	"github.com/banshee-data/postexperiment/internal/shot"
)

// Stored is the cache representation of a diagnostic result. Exactly one
// member is set.
type Stored struct {
	Number *float64     `json:"number,omitempty"`
	Vector []float64    `json:"vector,omitempty"`
	Field  *field.Field `json:"field,omitempty"`
}

func toStored(v any) (Stored, bool) {
	switch x := v.(type) {
	case float64:
		return Stored{Number: &x}, true
	case int:
		f := float64(x)
		return Stored{Number: &f}, true
	case int64:
		f := float64(x)
		return Stored{Number: &f}, true
	case []float64:
		return Stored{Vector: x}, true
	case *field.Field:
		return Stored{Field: x}, true
	}
	return Stored{}, false
}

// Value returns the result the entry was made from.
func (s Stored) Value() any {
	switch {
	case s.Number != nil:
		return *s.Number
	case s.Field != nil:
		return s.Field
	}
	return s.Vector
}

var errUncacheable = errors.New("result is not cacheable")

func (e *Experiment) function(ctx context.Context, name string) (*cache.Function[Stored], error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fn, ok := e.cached[name]; ok {
		return fn, nil
	}
	fn, err := cache.Register[Stored](ctx, e.store, name, cache.Options{MaxSize: e.cfg.CacheMaxSize})
	if err != nil {
		return nil, err
	}
	e.cached[name] = fn
	return fn, nil
}

// Evaluator returns an evaluator for the diagnostic name. With a cache store,
// numbers, vectors and fields are stored permanently under the shot ID; other
// results are recomputed every time.
func (e *Experiment) Evaluator(name string) shot.Evaluator {
	eval := e.registry.Evaluator(name)
	if e.store == nil {
		return eval
	}
	spec := e.series.IDSpec()
	return func(ctx context.Context, s *shot.Shot) (any, error) {
		if _, err := e.registry.Lookup(name); err != nil {
			return nil, err
		}
		fn, err := e.function(ctx, name)
		if err != nil {
			return nil, err
		}
		id, err := spec.Of(s)
		if err != nil {
			return nil, err
		}

		var uncached any
		st, err := fn.Call(ctx, id.Key(), nil, func(ctx context.Context) (Stored, error) {
			v, err := eval(ctx, s)
			if err != nil {
				return Stored{}, err
			}
			st, ok := toStored(v)
			if !ok {
				uncached = v
				return Stored{}, errUncacheable
			}
			return st, nil
		})
		if errors.Is(err, errUncacheable) {
			return uncached, nil
		}
		if err != nil {
			return nil, err
		}
		return st.Value(), nil
	}
}

func (e *Experiment) meanOptions() shot.MeanOptions {
	return shot.MeanOptions{Workers: e.cfg.Workers}
}

// Evaluate evaluates the diagnostic name on every shot, in shot order.
func (e *Experiment) Evaluate(ctx context.Context, name string) ([]any, error) {
	return e.series.Evaluate(ctx, e.Evaluator(name), e.meanOptions())
}

// Mean averages the diagnostic name over all shots.
func (e *Experiment) Mean(ctx context.Context, name string) (any, error) {
	return e.series.Mean(ctx, e.Evaluator(name), e.meanOptions())
}

// GroupedMean averages the diagnostic name over the shots sharing the values
// of keys.
func (e *Experiment) GroupedMean(ctx context.Context, name string, keys []string) ([][]any, []any, error) {
	return e.series.GroupedMean(ctx, keys, e.Evaluator(name), e.meanOptions())
}

// Points evaluates a scalar diagnostic on every shot for charting. X is the
// last ID component when it is numeric and the shot index otherwise.
func (e *Experiment) Points(ctx context.Context, name string) ([]plot.Point, error) {
	vals, err := e.Evaluate(ctx, name)
	if err != nil {
		return nil, err
	}
	ids := e.series.IDs()
	pts := make([]plot.Point, len(vals))
	for i, v := range vals {
		y, ok := scalar(v)
		if !ok {
			return nil, fmt.Errorf("diagnostic %q on shot %s is %T, not a number", name, ids[i], v)
		}
		x := float64(i)
		if comps := ids[i].Values(); len(comps) > 0 {
			if f, ok := scalar(comps[len(comps)-1]); ok {
				x = f
			}
		}
		pts[i] = plot.Point{Label: ids[i].String(), X: x, Y: y}
	}
	return pts, nil
}

func scalar(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return math.NaN(), false
}
