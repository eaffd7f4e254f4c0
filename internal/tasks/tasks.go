// Package tasks runs a small, fixed set of concurrent operations and joins
// their results, propagating the first error via errgroup.WithContext. It is
// the generalized, de-memoized core of the teacher's kit/tasks package: that
// package memoizes arbitrary-arity task graphs keyed by (task pointer, input)
// for reuse across a request; the scheduler only ever needs to run exactly
// two operations per target-compile (the external compiler and the import
// walker) concurrently and join them, so the caching/TTL machinery is
// dropped and the shape narrowed to a plain parallel-join helper.
package tasks

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Join runs fn1 and fn2 concurrently under ctx, waits for both, and returns
// both results. If either returns an error, Join returns the first error
// observed (errgroup semantics); both results are still returned so callers
// can fall back to partial data per spec.md §4.I ("keep last known
// relatedFiles… record compiler error; keep walker's result or fallback").
func Join[A, B any](ctx context.Context, fn1 func(context.Context) (A, error), fn2 func(context.Context) (B, error)) (A, B, error) {
	var a A
	var b B

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := fn1(gctx)
		a = v
		return err
	})
	g.Go(func() error {
		v, err := fn2(gctx)
		b = v
		return err
	})

	err := g.Wait()
	return a, b, err
}

// RunAll runs every fn concurrently, bounded implicitly by the caller's own
// concurrency limits (the scheduler enforces maxParallel before dispatching),
// and returns all results in input order. The first error is returned but
// all other results are preserved, mirroring Join's partial-result contract.
func RunAll[T any](ctx context.Context, fns []func(context.Context) (T, error)) ([]T, error) {
	results := make([]T, len(fns))
	g, gctx := errgroup.WithContext(ctx)
	for i, fn := range fns {
		i, fn := i, fn
		g.Go(func() error {
			v, err := fn(gctx)
			results[i] = v
			return err
		})
	}
	err := g.Wait()
	return results, err
}
