// Package parallel runs functions over slices with a bounded number of
// concurrent workers while keeping results in input order.
package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Map applies fn to every item and returns the results in input order. At most
// workers calls run at the same time; workers <= 1 runs serially in the
// calling goroutine. The first error cancels the context passed to the
// remaining calls and is returned.
func Map[T, R any](ctx context.Context, workers int, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	out := make([]R, len(items))
	if workers <= 1 {
		for i, it := range items {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			r, err := fn(ctx, it)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, it := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r, err := fn(gctx, it)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MapFuncs calls every function with the same argument and returns the
// results in the order of fns.
func MapFuncs[A, R any](ctx context.Context, workers int, fns []func(context.Context, A) (R, error), arg A) ([]R, error) {
	return Map(ctx, workers, fns, func(ctx context.Context, fn func(context.Context, A) (R, error)) (R, error) {
		return fn(ctx, arg)
	})
}

// Result is one element produced by Stream.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// Stream applies fn to the items and delivers the results on the returned
// channel in input order. No more than workers results are computed ahead of
// the consumer. The channel is closed after the last result or once ctx is
// cancelled; callers must either drain it or cancel ctx.
func Stream[T, R any](ctx context.Context, workers int, items []T, fn func(context.Context, T) (R, error)) <-chan Result[R] {
	if workers < 1 {
		workers = 1
	}
	out := make(chan Result[R])
	sem := semaphore.NewWeighted(int64(workers))
	pending := make(chan chan Result[R], workers)

	go func() {
		defer close(pending)
		for i, it := range items {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			fut := make(chan Result[R], 1)
			select {
			case pending <- fut:
			case <-ctx.Done():
				sem.Release(1)
				return
			}
			go func() {
				v, err := fn(ctx, it)
				fut <- Result[R]{Index: i, Value: v, Err: err}
			}()
		}
	}()

	go func() {
		defer close(out)
		for fut := range pending {
			var r Result[R]
			select {
			case r = <-fut:
			case <-ctx.Done():
				return
			}
			select {
			case out <- r:
				sem.Release(1)
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
