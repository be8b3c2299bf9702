package memtrace

import (
	"sync"
)

// idPool hands out pre-generated IDs to amortize crypto/rand overhead.
type idPool[T any] struct {
	factory func() T
	ids     chan T
	stopCh  chan struct{}
	mu      sync.Mutex
	closed  bool
}

// newIDPool starts a pool holding up to capacity IDs from factory.
func newIDPool[T any](capacity int, factory func() T) *idPool[T] {
	pool := &idPool[T]{
		ids:     make(chan T, capacity),
		factory: factory,
		stopCh:  make(chan struct{}),
	}
	go pool.refill()
	return pool
}

// get returns a pooled ID, or a fresh one when the pool is drained.
func (p *idPool[T]) get() T {
	select {
	case id := <-p.ids:
		return id
	default:
		return p.factory()
	}
}

func (p *idPool[T]) refill() {
	for {
		select {
		case <-p.stopCh:
			return
		case p.ids <- p.factory():
		}
	}
}

// close stops the refill goroutine. Safe to call more than once.
func (p *idPool[T]) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		close(p.stopCh)
		p.closed = true
	}
}
