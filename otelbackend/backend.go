// Package otelbackend runs flowtrace spans on the OpenTelemetry SDK.
//
// Backend adapts any trace.TracerProvider to flowtrace.Backend. Setup builds
// a complete provider from configuration: resource, span exporter, optional
// metric exporter and propagator.
//
//	provider, err := otelbackend.Setup(ctx, otelbackend.Config{
//		ServiceName: "orders",
//		Exporter:    otelbackend.ExporterOTLP,
//	})
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	tracing := interceptor.NewTracing(provider.Tracer())
package otelbackend

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/flowtrace"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ScopeName is the instrumentation scope of spans and metrics created here.
const ScopeName = "github.com/zoobzio/flowtrace"

// Backend starts flowtrace spans on an OpenTelemetry tracer.
type Backend struct {
	tracer  trace.Tracer
	metrics *Metrics
	clock   clockz.Clock
}

// Option configures a Backend.
type Option func(*Backend)

// WithMetrics records span counts and durations on m.
func WithMetrics(m *Metrics) Option {
	return func(b *Backend) {
		b.metrics = m
	}
}

// WithClock sets the clock used to time spans for metrics.
func WithClock(clock clockz.Clock) Option {
	return func(b *Backend) {
		b.clock = clock
	}
}

// New returns a backend using tp's tracer for ScopeName.
func New(tp trace.TracerProvider, opts ...Option) *Backend {
	b := &Backend{
		tracer: tp.Tracer(ScopeName),
		clock:  clockz.RealClock,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start implements flowtrace.Backend.
func (b *Backend) Start(parent context.Context, name string, opts flowtrace.StartOptions) flowtrace.Span {
	if parent == nil {
		parent = context.Background()
	}

	start := opts.StartTime
	startOpts := []trace.SpanStartOption{trace.WithSpanKind(opts.Kind)}
	if !start.IsZero() {
		startOpts = append(startOpts, trace.WithTimestamp(start))
	} else {
		start = b.clock.Now()
	}

	_, span := b.tracer.Start(parent, name, startOpts...)
	return &otelSpan{
		inner:   span,
		kind:    opts.Kind,
		start:   start,
		backend: b,
	}
}

// otelSpan implements flowtrace.Span using an OTEL trace.Span.
type otelSpan struct {
	inner   trace.Span
	start   time.Time
	backend *Backend
	kind    trace.SpanKind
	mu      sync.Mutex
	failed  bool
	ended   bool
}

func (s *otelSpan) Activate(ctx context.Context) (context.Context, flowtrace.Scope) {
	return s.ContextWithSpan(ctx), scope{}
}

func (s *otelSpan) UpdateName(name string) {
	s.inner.SetName(name)
}

func (s *otelSpan) SetAttributes(attrs ...flowtrace.Attr) {
	s.inner.SetAttributes(toOTELAttrs(attrs)...)
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.failed = true
	s.mu.Unlock()

	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	failed := s.failed
	s.mu.Unlock()

	s.inner.End()
	if m := s.backend.metrics; m != nil {
		m.record(s.kind, failed, s.backend.clock.Now().Sub(s.start))
	}
}

func (s *otelSpan) ContextWithSpan(ctx context.Context) context.Context {
	return trace.ContextWithSpan(ctx, s.inner)
}

// scope is a no-op: the activated span lives only in the returned context.
type scope struct{}

func (scope) Detach() {}

// compile-time checks
var (
	_ flowtrace.Backend = (*Backend)(nil)
	_ flowtrace.Span    = (*otelSpan)(nil)
)
