package shot

import (
	"context"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/postexperiment/internal/field"
	"github.com/banshee-data/postexperiment/internal/parallel"
)

// Evaluator computes a value for a single shot, usually a registered
// diagnostic.
type Evaluator func(ctx context.Context, s *Shot) (any, error)

// Vectorer is implemented by structured results, such as fit parameters, that
// can be averaged component-wise.
type Vectorer interface {
	Vector() []float64
	FromVector(v []float64) any
}

// MeanOptions control Series.Mean.
type MeanOptions struct {
	// Workers is the number of shots evaluated concurrently; <= 1 is serial.
	Workers int
}

// Evaluate runs eval on every shot and returns the results in shot order.
func (s *Series) Evaluate(ctx context.Context, eval Evaluator, opts MeanOptions) ([]any, error) {
	return parallel.Map(ctx, opts.Workers, s.Shots(), func(ctx context.Context, sh *Shot) (any, error) {
		return eval(ctx, sh)
	})
}

// Mean evaluates eval on every shot and averages the results. Supported result
// types are float64, []float64, *field.Field and Vectorer; all results must
// have the same shape.
func (s *Series) Mean(ctx context.Context, eval Evaluator, opts MeanOptions) (any, error) {
	if s.Len() == 0 {
		return nil, ErrEmpty
	}
	vals, err := s.Evaluate(ctx, eval, opts)
	if err != nil {
		return nil, err
	}
	return Average(vals)
}

// GroupedMean groups the series by keys and returns the group keys together
// with the mean of eval over each group.
func (s *Series) GroupedMean(ctx context.Context, keys []string, eval Evaluator, opts MeanOptions) ([][]any, []any, error) {
	groups, err := s.GroupBy(keys...)
	if err != nil {
		return nil, nil, err
	}
	ids := make([][]any, 0, len(groups))
	means := make([]any, 0, len(groups))
	for _, g := range groups {
		m, err := g.Series.Mean(ctx, eval, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("group %v: %w", g.Key, err)
		}
		ids = append(ids, g.Key)
		means = append(means, m)
	}
	return ids, means, nil
}

// Average returns the element-wise mean of vals.
func Average(vals []any) (any, error) {
	if len(vals) == 0 {
		return nil, ErrEmpty
	}
	n := float64(len(vals))

	switch first := vals[0].(type) {
	case float64, int, int64:
		var sum float64
		for i, v := range vals {
			f, ok := number(v)
			if !ok {
				return nil, fmt.Errorf("averaging: value %d is %T, want a number", i, v)
			}
			sum += f
		}
		return sum / n, nil

	case []float64:
		acc := make([]float64, len(first))
		for i, v := range vals {
			x, ok := v.([]float64)
			if !ok || len(x) != len(acc) {
				return nil, fmt.Errorf("averaging: value %d does not match %d elements: %w", i, len(acc), field.ErrShape)
			}
			floats.Add(acc, x)
		}
		floats.Scale(1/n, acc)
		return acc, nil

	case *field.Field:
		acc := make([]float64, len(first.Data))
		shape := first.Shape()
		for i, v := range vals {
			f, ok := v.(*field.Field)
			if !ok || !slices.Equal(f.Shape(), shape) {
				return nil, fmt.Errorf("averaging: field %d does not match shape %v: %w", i, first.Shape(), field.ErrShape)
			}
			floats.Add(acc, f.Data)
		}
		floats.Scale(1/n, acc)
		return first.ReplaceData(acc)

	case Vectorer:
		acc := make([]float64, len(first.Vector()))
		for i, v := range vals {
			x, ok := v.(Vectorer)
			if !ok || len(x.Vector()) != len(acc) {
				return nil, fmt.Errorf("averaging: value %d is %T, want %T", i, v, first)
			}
			floats.Add(acc, x.Vector())
		}
		floats.Scale(1/n, acc)
		return first.FromVector(acc), nil
	}
	return nil, fmt.Errorf("averaging: unsupported type %T", vals[0])
}
