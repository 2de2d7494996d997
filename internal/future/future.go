// Package future provides a value that is resolved exactly once.
package future

import (
	"context"
	"sync"
)

// Future holds the first value or error passed to Resolve or Reject.
// Later calls are ignored.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// New creates an unresolved Future
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve completes the future with v. It reports whether this call won.
func (f *Future[T]) Resolve(v T) bool {
	return f.complete(v, nil)
}

// Reject completes the future with err. It reports whether this call won.
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.complete(zero, err)
}

func (f *Future[T]) complete(v T, err error) bool {
	won := false
	f.once.Do(func() {
		f.value = v
		f.err = err
		won = true
		close(f.done)
	})
	return won
}

// Done is closed once the future is resolved
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Resolved reports whether the future has completed
func (f *Future[T]) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future resolves or ctx ends
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
