package et

import (
	"context"

	"k8s.io/klog/v2"
)

// Future is the pending result of a call running on a worker goroutine.
//
// Waiting can be abandoned through the context passed to Wait, but the call
// itself always runs to completion.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Go runs fn on a new goroutine and returns its Future.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := newFuture[T]()
	go func() {
		f.resolve(fn())
	}()
	return f
}

// Failed returns an already rejected Future.
func Failed[T any](err error) *Future[T] {
	f := newFuture[T]()
	var zero T
	f.resolve(zero, err)
	return f
}

// Then maps the value of f once it resolves. A rejection passes through unchanged.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	return Go(func() (U, error) {
		<-f.done
		if f.err != nil {
			var zero U
			return zero, f.err
		}
		return fn(f.value)
	})
}

func (f *Future[T]) resolve(value T, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// WaitOrClose is Wait for results that own a resource, such as a Module.
// If ctx is done first, the value is closed as soon as it arrives, so a caller
// that gives up never leaks it.
func WaitOrClose[T interface{ Close() error }](ctx context.Context, f *Future[T]) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		log := klog.FromContext(ctx)
		go func() {
			<-f.done
			if f.err != nil {
				return
			}
			if err := f.value.Close(); err != nil {
				log.Error(err, "closing abandoned result")
			}
		}()
		var zero T
		return zero, ctx.Err()
	}
}

// Result blocks until the call finishes.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.value, f.err
}
