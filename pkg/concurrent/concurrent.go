// Package concurrent holds small fan-out helpers used when the service
// touches many sessions at once.
package concurrent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ForEach runs action for every item in its own goroutine and waits for
// all of them. The first error cancels the shared context; the error is
// returned after all goroutines have finished.
func ForEach[T any](ctx context.Context, items []T, action func(context.Context, T) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, item := range items {
		item := item
		g.Go(func() error {
			return action(ctx, item)
		})
	}
	return g.Wait()
}

// ForEachLimit is ForEach with at most limit goroutines in flight.
func ForEachLimit[T any](ctx context.Context, items []T, limit int, action func(context.Context, T) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, item := range items {
		item := item
		g.Go(func() error {
			return action(ctx, item)
		})
	}
	return g.Wait()
}

// Map applies mapFn to every item concurrently, preserving order. If
// any call fails the first error is returned and the results are
// discarded.
func Map[T any, R any](ctx context.Context, items []T, mapFn func(context.Context, T) (R, error)) ([]R, error) {
	out := make([]R, len(items))
	g, ctx := errgroup.WithContext(ctx)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			r, err := mapFn(ctx, item)
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
	return out, nil
}
