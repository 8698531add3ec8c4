package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by AwaitTimeout when the bounded wait elapses before
// the future resolves. The underlying task keeps running; only the wait is
// abandoned.
var ErrTimeout = errors.New("dispatch: bounded wait exceeded")

// Future is a write-once result container bridging task execution contexts.
// It resolves exactly once, either with a value or with an error.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewFuture creates an unresolved future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already completed with value.
func Resolved[T any](value T) *Future[T] {
	f := NewFuture[T]()
	f.Complete(value)
	return f
}

// Failed returns a future already resolved with err.
func Failed[T any](err error) *Future[T] {
	f := NewFuture[T]()
	f.Fail(err)
	return f
}

// Complete resolves the future with value. Later resolutions are ignored.
func (f *Future[T]) Complete(value T) {
	f.once.Do(func() {
		f.value = value
		close(f.done)
	})
}

// Fail resolves the future with err. Later resolutions are ignored.
func (f *Future[T]) Fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done returns a channel closed when the future resolves.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future resolves or ctx is cancelled.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// AwaitTimeout blocks for at most d. On timeout it returns ErrTimeout and the
// in-flight task is left running; it may still resolve the future later.
func (f *Future[T]) AwaitTimeout(d time.Duration) (T, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.value, f.err
	case <-timer.C:
		var zero T
		return zero, ErrTimeout
	}
}

// TryGet returns the result if the future already resolved.
func (f *Future[T]) TryGet() (T, error, bool) {
	select {
	case <-f.done:
		return f.value, f.err, true
	default:
		var zero T
		return zero, nil, false
	}
}
