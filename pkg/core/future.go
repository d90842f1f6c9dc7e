package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/lifecycle"
)

// Ack is the value carried by futures that only signal completion.
type Ack = struct{}

// Future is a completion handle for work that may finish asynchronously.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

// NewFuture returns an unresolved future and the function resolving it.
// Only the first resolution wins.
func NewFuture[T any]() (*Future[T], func(T, error)) {
	f := &Future[T]{done: make(chan struct{})}
	return f, f.resolve
}

// Completed returns an already resolved future.
func Completed[T any](v T, err error) *Future[T] {
	f, resolve := NewFuture[T]()
	resolve(v, err)
	return f
}

// Async runs fn in a tracked goroutine and resolves the future with its result.
// A panic in fn resolves the future with an error.
func Async[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f, resolve := NewFuture[T]()
	lifecycle.Go(ctx, func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("async task panic: %v", r)
				var zero T
				resolve(zero, err)
			}
		}()
		v, err := fn(ctx)
		resolve(v, err)
		return err
	}, lifecycle.WithErrorHandler(func(err error) {
		var zero T
		resolve(zero, err)
	}))
	return f
}

func (f *Future[T]) resolve(v T, err error) {
	f.once.Do(func() {
		f.val = v
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
