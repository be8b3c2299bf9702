package memtrace

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/zoobzio/flowtrace"
	"go.opentelemetry.io/otel/trace"
)

// activeKeyType is a private type for context keys to avoid collisions.
type activeKeyType struct{}

var activeKey activeKeyType

// Span is the record of a single unit of work.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type Span struct {
	Attributes   map[string]any `json:"attributes,omitempty"`
	Errors       []string       `json:"errors,omitempty"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time,omitempty"`
	Duration     time.Duration  `json:"duration"`
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentID     string         `json:"parent_id,omitempty"`
	Name         string         `json:"name"`
	Kind         trace.SpanKind `json:"kind"`
	RemoteParent bool           `json:"remote_parent,omitempty"`
}

// clone returns a deep copy safe to hand to handlers and collectors.
func (s *Span) clone() Span {
	cp := *s
	cp.Attributes = maps.Clone(s.Attributes)
	cp.Errors = slices.Clone(s.Errors)
	return cp
}

// ActiveSpan is a span in progress. It implements flowtrace.Span and counts
// every lifecycle call so tests can assert on them.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type ActiveSpan struct {
	span        *Span
	tracer      *Tracer
	spanContext trace.SpanContext
	recorded    []error
	mu          sync.Mutex
	ends        int
	activations int
	detaches    int
	renames     int
	attrCalls   int
}

// Activate returns ctx with this span current.
func (a *ActiveSpan) Activate(ctx context.Context) (context.Context, flowtrace.Scope) {
	a.mu.Lock()
	a.activations++
	a.mu.Unlock()
	return a.ContextWithSpan(ctx), &scope{span: a}
}

// UpdateName renames the span.
// No-op if span is already finished.
func (a *ActiveSpan) UpdateName(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.renames++
	if !a.span.EndTime.IsZero() {
		return
	}
	a.span.Name = name
}

// SetAttributes stores attrs; a repeated key keeps the last value.
// No-op if span is already finished.
func (a *ActiveSpan) SetAttributes(attrs ...flowtrace.Attr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.attrCalls++
	if !a.span.EndTime.IsZero() {
		return
	}
	if a.span.Attributes == nil {
		a.span.Attributes = make(map[string]any, len(attrs))
	}
	for _, attr := range attrs {
		a.span.Attributes[attr.Key] = attr.Value
	}
}

// RecordError records err on the span.
func (a *ActiveSpan) RecordError(err error) {
	if err == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.recorded = append(a.recorded, err)
	if !a.span.EndTime.IsZero() {
		return
	}
	a.span.Errors = append(a.span.Errors, err.Error())
}

// End completes the span and sends it to the tracer for collection.
// Safe to call multiple times - subsequent calls are no-ops.
func (a *ActiveSpan) End() {
	a.mu.Lock()
	a.ends++
	if !a.span.EndTime.IsZero() {
		a.mu.Unlock()
		return
	}
	a.span.EndTime = a.tracer.clock.Now()
	a.span.Duration = a.span.EndTime.Sub(a.span.StartTime)
	completed := a.span.clone()
	a.mu.Unlock()

	a.tracer.collectSpan(completed)
}

// ContextWithSpan stores the span in ctx so child spans and codecs see it.
func (a *ActiveSpan) ContextWithSpan(ctx context.Context) context.Context {
	ctx = trace.ContextWithSpanContext(ctx, a.spanContext)
	return context.WithValue(ctx, activeKey, a)
}

// SpanContext returns the OpenTelemetry span context of this span.
func (a *ActiveSpan) SpanContext() trace.SpanContext {
	return a.spanContext
}

// Snapshot returns a copy of the span record as it stands.
func (a *ActiveSpan) Snapshot() Span {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.clone()
}

// Ended reports whether End has been called.
func (a *ActiveSpan) Ended() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.span.EndTime.IsZero()
}

// EndCalls returns how many times End was called.
func (a *ActiveSpan) EndCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ends
}

// Activations returns how many times Activate was called.
func (a *ActiveSpan) Activations() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activations
}

// Detaches returns how many times a scope of this span was detached.
func (a *ActiveSpan) Detaches() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.detaches
}

// RenameCalls returns how many times UpdateName was called.
func (a *ActiveSpan) RenameCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.renames
}

// AttributeCalls returns how many times SetAttributes was called.
func (a *ActiveSpan) AttributeCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attrCalls
}

// RecordedErrors returns the error values passed to RecordError.
func (a *ActiveSpan) RecordedErrors() []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.recorded)
}

type scope struct {
	span *ActiveSpan
}

func (s *scope) Detach() {
	s.span.mu.Lock()
	defer s.span.mu.Unlock()
	s.span.detaches++
}

// SpanFromContext returns the memtrace span current in ctx.
// Returns nil if no span is present.
func SpanFromContext(ctx context.Context) *ActiveSpan {
	if ctx == nil {
		return nil
	}
	if span, ok := ctx.Value(activeKey).(*ActiveSpan); ok {
		return span
	}
	return nil
}

// compile-time checks
var (
	_ flowtrace.Span  = (*ActiveSpan)(nil)
	_ flowtrace.Scope = (*scope)(nil)
)
