package diagnostics

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/banshee-data/postexperiment/internal/cache"
	"github.com/banshee-data/postexperiment/internal/shot"
)

// MemoCache keeps the results of f for the size most recently evaluated shots
// in memory. It must wrap a whole diagnostic: entries are keyed by the
// context's shot, not by the filter input. Explicit contexts bypass the cache.
func MemoCache(f Filter, size int) (Filter, error) {
	memo, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("memo cache: %w", err)
	}
	return func(c *Context, v any) (any, error) {
		if c.Explicit() || c.Shot == nil {
			return f(c, v)
		}
		if out, ok := memo.Get(c.Shot); ok {
			return out, nil
		}
		out, err := f(c, v)
		if err != nil {
			return nil, err
		}
		memo.Add(c.Shot, out)
		return out, nil
	}, nil
}

// Cached stores the results of f in the permanent cache fn, keyed by the ID
// of the context's shot under spec and by params. params must describe every
// option that changes the result of f.
func Cached[T any](fn *cache.Function[T], spec *shot.IDSpec, params any, f Filter) Filter {
	return func(c *Context, v any) (any, error) {
		if c.Shot == nil {
			return nil, errors.New("diagnostics: cached filter needs a shot")
		}
		id, err := spec.Of(c.Shot)
		if err != nil {
			return nil, err
		}
		return fn.Call(c, id.Key(), params, func(context.Context) (T, error) {
			var zero T
			out, err := f(c, v)
			if err != nil {
				return zero, err
			}
			t, ok := out.(T)
			if !ok {
				return zero, fmt.Errorf("%w: cache %s holds %T, got %T", ErrInputType, fn.Name(), zero, out)
			}
			return t, nil
		})
	}
}
