package memtrace

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector buffers completed spans for batch export.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	spans        []Span
	spansCh      chan Span
	stopCh       chan struct{}
	done         chan struct{}
	droppedCount atomic.Int64
	name         string
	mu           sync.Mutex
	closed       atomic.Bool
	syncMode     atomic.Bool
}

// NewCollector creates a new collector with the specified name and buffer size.
func NewCollector(name string, bufferSize int) *Collector {
	c := &Collector{
		name:    name,
		spans:   make([]Span, 0, 8),
		spansCh: make(chan Span, bufferSize),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.start()
	return c
}

// Name returns the collector name.
func (c *Collector) Name() string {
	return c.name
}

func (c *Collector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining spans before shutdown.
			for {
				select {
				case span := <-c.spansCh:
					c.buffer(span)
				default:
					return
				}
			}
		case span := <-c.spansCh:
			c.buffer(span)
		}
	}
}

// Close stops the collector goroutine after draining queued spans.
// Spans buffered before Close remain available to Export.
func (c *Collector) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.stopCh)
	select {
	case <-c.done:
	case <-time.After(100 * time.Millisecond):
	}
}

// Collect buffers a copy of span with backpressure protection.
// If the internal channel is full, the span is dropped and the drop counter
// is incremented. In sync mode, spans are buffered directly.
func (c *Collector) Collect(span *Span) {
	if span == nil || c.closed.Load() {
		c.droppedCount.Add(1)
		return
	}

	spanCopy := span.clone()

	if c.syncMode.Load() {
		c.buffer(spanCopy)
		return
	}

	select {
	case c.spansCh <- spanCopy:
	default:
		c.droppedCount.Add(1)
	}
}

// buffer appends a span, growing the buffer in steps.
func (c *Collector) buffer(span Span) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.spans) >= cap(c.spans) {
		currentCap := cap(c.spans)
		newCap := currentCap * 2
		if currentCap >= 1024 {
			// Grow by 50% for large buffers to avoid excessive memory usage.
			newCap = currentCap + currentCap/2
		}
		newCap = max(newCap, 32)
		grown := make([]Span, len(c.spans), newCap)
		copy(grown, c.spans)
		c.spans = grown
	}
	c.spans = append(c.spans, span)
}

// Export returns a copy of all buffered spans and clears the internal buffer.
// The returned slice is safe to modify without affecting the collector.
func (c *Collector) Export() []Span {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.spans) == 0 {
		return nil
	}

	result := make([]Span, len(c.spans))
	for i := range c.spans {
		result[i] = c.spans[i].clone()
	}

	// Only shrink if buffer is very oversized to avoid allocation churn.
	if cap(c.spans) > 256 && len(c.spans) < cap(c.spans)/8 {
		c.spans = make([]Span, 0, max(cap(c.spans)/4, 32))
	} else {
		c.spans = c.spans[:0]
	}

	return result
}

// Count returns the current number of buffered spans.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.spans)
}

// DroppedCount returns the total number of spans dropped due to backpressure.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// SetSyncMode enables synchronous collection for testing.
// When enabled, spans are collected directly without using the channel.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode.Store(sync)
}

// Reset clears all buffered spans and resets the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.spans = c.spans[:0]
	c.droppedCount.Store(0)
}
