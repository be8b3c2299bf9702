// Package memtrace is an in-process flowtrace.Backend.
//
// Spans are kept in memory, finished spans are handed to registered handlers
// and collectors, and span context is stored as an OpenTelemetry SpanContext
// so any OpenTelemetry propagator (propagation.TraceContext by default) can
// move it across process boundaries.
//
// Basic Usage:
//
//	backend := memtrace.New()
//	defer backend.Close()
//
//	collector := memtrace.NewCollector("spans", 256)
//	backend.AddCollector(collector)
//
//	tracer := flowtrace.New(backend, memtrace.Propagator())
//
// Thread Safety:
//
// Tracer is safe for concurrent use by multiple goroutines.
// ActiveSpan operations are safe for concurrent use.
// Collectors are safe for concurrent span buffering.
package memtrace

import (
	"context"
	"crypto/rand"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/flowtrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// SpanHandler is called when a span completes.
type SpanHandler func(span Span)

type handlerEntry struct {
	handler SpanHandler
	id      uint64
	async   bool
}

// Tracer creates spans and dispatches completed ones to handlers.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	handlers     []handlerEntry
	started      []*ActiveSpan
	panicHook    func(handlerID uint64, r interface{})
	workers      *workerPool
	traceIDPool  *idPool[trace.TraceID]
	spanIDPool   *idPool[trace.SpanID]
	clock        clockz.Clock
	handlersLock sync.RWMutex
	startedLock  sync.Mutex
	idPoolOnce   sync.Once
	nextID       atomic.Uint64
	droppedSpans atomic.Uint64
	recording    atomic.Bool
}

// New creates a new tracer.
// Uses the real clock for production behavior.
func New() *Tracer {
	return &Tracer{
		handlers: make([]handlerEntry, 0),
		clock:    clockz.RealClock,
	}
}

// WithClock returns a new tracer with the specified clock.
// Enables clock injection for deterministic testing.
func (*Tracer) WithClock(clock clockz.Clock) *Tracer {
	return &Tracer{
		handlers: make([]handlerEntry, 0),
		clock:    clock,
	}
}

// WithRecording makes the tracer keep every started span for Started.
// Retained spans are never released, so use it in tests only.
func (t *Tracer) WithRecording() *Tracer {
	t.recording.Store(true)
	return t
}

// Propagator returns the codec memtrace span context is designed for.
func Propagator() flowtrace.Codec {
	return propagation.TraceContext{}
}

// ensureIDPools initializes ID pools if not already created.
func (t *Tracer) ensureIDPools() {
	t.idPoolOnce.Do(func() {
		// Pool size based on number of CPUs for optimal contention balance.
		poolSize := runtime.NumCPU() * 100

		t.traceIDPool = newIDPool(poolSize, func() trace.TraceID {
			var id trace.TraceID
			t.fillID(id[:])
			return id
		})
		t.spanIDPool = newIDPool(poolSize, func() trace.SpanID {
			var id trace.SpanID
			t.fillID(id[:])
			return id
		})
	})
}

// fillID writes random bytes into id, falling back to the clock if
// crypto/rand fails. The result is never all zero.
func (t *Tracer) fillID(id []byte) {
	if _, err := rand.Read(id); err != nil {
		nanos := uint64(t.clock.Now().UnixNano())
		for i := range id {
			id[i] = byte(nanos >> (8 * (i % 8)))
		}
	}
	id[len(id)-1] |= 1
}

// Start creates a span. A valid span context in parent, local or remote,
// becomes the span's parent.
func (t *Tracer) Start(parent context.Context, name string, opts flowtrace.StartOptions) flowtrace.Span {
	if parent == nil {
		parent = context.Background()
	}
	t.ensureIDPools()

	span := &Span{
		Name:      name,
		Kind:      opts.Kind,
		StartTime: opts.StartTime,
	}
	if span.StartTime.IsZero() {
		span.StartTime = t.clock.Now()
	}

	traceID := t.traceIDPool.get()
	if psc := trace.SpanContextFromContext(parent); psc.IsValid() {
		traceID = psc.TraceID()
		span.ParentID = psc.SpanID().String()
		span.RemoteParent = psc.IsRemote()
	}
	spanID := t.spanIDPool.get()
	span.TraceID = traceID.String()
	span.SpanID = spanID.String()

	active := &ActiveSpan{
		span:   span,
		tracer: t,
		spanContext: trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: trace.FlagsSampled,
		}),
	}

	if t.recording.Load() {
		t.startedLock.Lock()
		t.started = append(t.started, active)
		t.startedLock.Unlock()
	}

	return active
}

// Started returns every span started by this tracer, in start order. It is
// empty unless WithRecording was called before the spans started.
func (t *Tracer) Started() []*ActiveSpan {
	t.startedLock.Lock()
	defer t.startedLock.Unlock()
	out := make([]*ActiveSpan, len(t.started))
	copy(out, t.started)
	return out
}

// OnSpanEnd registers a synchronous handler called when spans complete.
func (t *Tracer) OnSpanEnd(handler SpanHandler) uint64 {
	return t.registerHandler(handler, false)
}

// OnSpanEndAsync registers an asynchronous handler called when spans complete.
func (t *Tracer) OnSpanEndAsync(handler SpanHandler) uint64 {
	return t.registerHandler(handler, true)
}

// AddCollector feeds completed spans to collector.
func (t *Tracer) AddCollector(collector *Collector) uint64 {
	return t.OnSpanEnd(func(span Span) {
		collector.Collect(&span)
	})
}

func (t *Tracer) registerHandler(handler SpanHandler, async bool) uint64 {
	if handler == nil {
		return 0
	}

	id := t.nextID.Add(1)

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	t.handlers = append(t.handlers, handlerEntry{
		id:      id,
		handler: handler,
		async:   async,
	})

	return id
}

// RemoveHandler removes a handler by ID.
func (t *Tracer) RemoveHandler(id uint64) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	for i, h := range t.handlers {
		if h.id == id {
			t.handlers = append(t.handlers[:i], t.handlers[i+1:]...)
			return
		}
	}
}

// SetPanicHook sets a function to be called when a handler panics.
func (t *Tracer) SetPanicHook(hook func(handlerID uint64, r interface{})) {
	t.handlersLock.Lock()
	t.panicHook = hook
	t.handlersLock.Unlock()
}

// collectSpan hands a completed span to every handler.
func (t *Tracer) collectSpan(span Span) {
	t.handlersLock.RLock()
	if len(t.handlers) == 0 {
		t.handlersLock.RUnlock()
		return
	}

	handlers := make([]handlerEntry, len(t.handlers))
	copy(handlers, t.handlers)
	workers := t.workers
	t.handlersLock.RUnlock()

	for _, h := range handlers {
		if !h.async {
			t.safeCall(h, span)
			continue
		}
		entry, spanCopy := h, span.clone()
		if workers != nil {
			workers.submit(func() {
				t.safeCall(entry, spanCopy)
			})
		} else {
			go t.safeCall(entry, spanCopy)
		}
	}
}

func (t *Tracer) safeCall(entry handlerEntry, span Span) {
	defer func() {
		if r := recover(); r != nil {
			t.handlersLock.RLock()
			hook := t.panicHook
			t.handlersLock.RUnlock()
			if hook != nil {
				hook(entry.id, r)
			}
		}
	}()
	entry.handler(span)
}

// EnableWorkerPool creates a bounded worker pool for async handlers.
func (t *Tracer) EnableWorkerPool(workers, queueSize int) error {
	if workers <= 0 {
		return errors.New("workers must be > 0")
	}
	if queueSize <= 0 {
		return errors.New("queueSize must be > 0")
	}

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()
	if t.workers != nil {
		return errors.New("worker pool already enabled")
	}

	pool := &workerPool{
		tasks:   make(chan func(), queueSize),
		stop:    make(chan struct{}),
		dropped: &t.droppedSpans,
	}
	pool.wg.Add(workers)
	for range workers {
		go pool.run()
	}
	t.workers = pool

	return nil
}

// DroppedSpans returns the number of spans dropped due to full worker queue.
func (t *Tracer) DroppedSpans() uint64 {
	return t.droppedSpans.Load()
}

// Close shuts down the tracer and releases its goroutines.
func (t *Tracer) Close() {
	t.handlersLock.Lock()
	t.handlers = nil
	workers := t.workers
	t.workers = nil
	t.handlersLock.Unlock()

	if workers != nil {
		workers.shutdown()
	}

	if t.traceIDPool != nil {
		t.traceIDPool.close()
	}
	if t.spanIDPool != nil {
		t.spanIDPool.close()
	}
}

// workerPool runs async handlers on a fixed number of goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type workerPool struct {
	tasks   chan func()
	stop    chan struct{}
	dropped *atomic.Uint64
	wg      sync.WaitGroup
}

func (w *workerPool) run() {
	defer w.wg.Done()
	for {
		select {
		case task := <-w.tasks:
			task()
		case <-w.stop:
			return
		}
	}
}

func (w *workerPool) submit(task func()) {
	select {
	case w.tasks <- task:
	default:
		w.dropped.Add(1)
	}
}

func (w *workerPool) shutdown() {
	close(w.stop)
	w.wg.Wait()
}

var _ flowtrace.Backend = (*Tracer)(nil)
