package et

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// workerPool bounds how many blocking engine calls run at once.
type workerPool struct {
	sem *semaphore.Weighted
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &workerPool{sem: semaphore.NewWeighted(int64(size))}
}

// runOn waits for a free slot and runs fn in it. If ctx ends while the call is
// still queued, fn never runs and the context error is returned. Once fn has
// started it is never interrupted.
func runOn[T any](ctx context.Context, p *workerPool, fn func() (T, error)) (T, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		var zero T
		return zero, fmt.Errorf("waiting for a worker: %w", err)
	}
	defer p.sem.Release(1)
	return fn()
}

// submit schedules fn on the pool.
func submit[T any](ctx context.Context, p *workerPool, fn func() (T, error)) *Future[T] {
	return Go(func() (T, error) {
		return runOn(ctx, p, fn)
	})
}
