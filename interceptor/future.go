package interceptor

import (
	"context"
	"sync"
)

// Future is the pending result of an asynchronous workflow request.
type Future interface {
	// Get blocks until the future settles or ctx is done.
	Get(ctx context.Context) (any, error)
	// IsReady reports whether the future has settled.
	IsReady() bool
	// Then returns a future settled with fn's result once this one settles.
	// fn runs on the settling goroutine, or immediately if already settled.
	Then(fn func(value any, err error) (any, error)) Future
}

// Settable completes a Future. The first call wins; later calls are ignored.
type Settable interface {
	Set(value any, err error)
	SetValue(value any)
	SetError(err error)
}

// NewFuture returns an unsettled future and its settable.
func NewFuture() (Future, Settable) {
	f := &future{done: make(chan struct{})}
	return f, f
}

// ReadyFuture returns a future already settled with value and err.
func ReadyFuture(value any, err error) Future {
	f := &future{done: make(chan struct{})}
	f.Set(value, err)
	return f
}

//nolint:govet // Field order follows settle order
type future struct {
	value     any
	err       error
	callbacks []func(any, error)
	done      chan struct{}
	mu        sync.Mutex
	settled   bool
}

func (f *future) Get(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *future) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

func (f *future) Then(fn func(any, error) (any, error)) Future {
	next := &future{done: make(chan struct{})}
	f.onSettle(func(value any, err error) {
		next.Set(fn(value, err))
	})
	return next
}

func (f *future) onSettle(cb func(any, error)) {
	f.mu.Lock()
	if !f.settled {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	cb(f.value, f.err)
}

func (f *future) Set(value any, err error) {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return
	}
	f.value, f.err = value, err
	f.settled = true
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(value, err)
	}
}

func (f *future) SetValue(value any) { f.Set(value, nil) }

func (f *future) SetError(err error) { f.Set(nil, err) }
