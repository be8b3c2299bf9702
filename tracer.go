package flowtrace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/flowtrace/internal/logging"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Tracer starts spans through a Backend and carries the propagation context
// received from another process. Tracer values are immutable.
type Tracer struct {
	backend Backend
	codec   Codec
	clock   clockz.Clock
	logger  *slog.Logger
	context PropagationContext
}

// New creates a tracer with no propagation context.
// Uses the real clock and discards log output.
func New(backend Backend, codec Codec) *Tracer {
	return &Tracer{
		backend: backend,
		codec:   codec,
		clock:   clockz.RealClock,
		logger:  logging.Nop(),
	}
}

// WithClock returns a copy of t reading time from clock.
func (t *Tracer) WithClock(clock clockz.Clock) *Tracer {
	cp := *t
	cp.clock = clock
	return &cp
}

// WithLogger returns a copy of t logging to logger.
func (t *Tracer) WithLogger(logger *slog.Logger) *Tracer {
	cp := *t
	cp.logger = logger
	return &cp
}

// WithContext returns a copy of t whose propagation context is the part of
// carrier the codec recognizes. Other keys are dropped.
func (t *Tracer) WithContext(carrier map[string]string) *Tracer {
	cp := *t
	cp.context = FilterContext(t.codec.Fields(), carrier)
	return &cp
}

// Context returns the propagation context t was forked with.
func (t *Tracer) Context() PropagationContext {
	return t.context
}

// ContextOf injects span through the codec and returns the resulting carrier.
func (t *Tracer) ContextOf(span Span) PropagationContext {
	carrier := propagation.MapCarrier{}
	t.codec.Inject(span.ContextWithSpan(context.Background()), carrier)
	return newPropagationContext(carrier)
}

// Now returns the current time from the tracer's clock.
func (t *Tracer) Now() time.Time {
	return t.clock.Now()
}

// Logger returns the tracer's logger.
func (t *Tracer) Logger() *slog.Logger {
	return t.logger
}

// TraceOption configures a single Trace call.
type TraceOption func(*traceConfig)

type traceConfig struct {
	startTime time.Time
	attrs     []Attr
	kind      trace.SpanKind
	scoped    bool
	passive   bool
}

// WithAttributes sets attributes applied when the body succeeds.
func WithAttributes(attrs ...Attr) TraceOption {
	return func(c *traceConfig) {
		c.attrs = append(c.attrs, attrs...)
	}
}

// WithScope makes the span current in the context handed to the body.
func WithScope() TraceOption {
	return func(c *traceConfig) {
		c.scoped = true
	}
}

// WithSpanKind sets the span kind.
func WithSpanKind(kind trace.SpanKind) TraceOption {
	return func(c *traceConfig) {
		c.kind = kind
	}
}

// WithStartTime overrides the span's start time.
func WithStartTime(ts time.Time) TraceOption {
	return func(c *traceConfig) {
		c.startTime = ts
	}
}

// WithPassiveCleanup keeps cleanup failures out of the returned error. They
// are still logged. Interceptors use it so a host call that succeeded is
// never reported as failed.
func WithPassiveCleanup() TraceOption {
	return func(c *traceConfig) {
		c.passive = true
	}
}

// Trace runs fn inside a new span and returns fn's result together with the
// span's exported propagation context.
//
// The span is a child of the tracer's propagation context when it has one,
// otherwise of whatever span ctx carries. On success the span is renamed to
// name and receives the normalized attributes. On failure the error is
// recorded and returned unchanged; a panic is recorded and re-raised. The span
// is ended, and its scope detached, on every path.
func Trace[R any](
	ctx context.Context,
	t *Tracer,
	name string,
	fn func(context.Context, Span) (R, error),
	opts ...TraceOption,
) (result R, spanCtx PropagationContext, err error) {
	var cfg traceConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	parent := ctx
	if !t.context.IsEmpty() {
		parent = t.codec.Extract(ctx, t.context.carrier())
	}

	span := t.backend.Start(parent, name, StartOptions{
		Kind:      cfg.kind,
		StartTime: cfg.startTime,
	})
	spanCtx = t.ContextOf(span)

	bodyCtx := ctx
	var scope Scope
	if cfg.scoped {
		bodyCtx, scope = span.Activate(parent)
	}

	failed := true
	defer func() {
		r := recover()
		if r != nil {
			span.RecordError(&PanicError{Value: r})
		}
		if cleanup := t.finish(name, span, scope); cleanup != nil && !failed && r == nil && !cfg.passive {
			err = cleanup
		}
		if r != nil {
			panic(r)
		}
	}()

	result, err = fn(bodyCtx, span)
	if err != nil {
		span.RecordError(err)
		return result, spanCtx, err
	}

	span.UpdateName(name)
	span.SetAttributes(NormalizeAttrs(cfg.attrs)...)
	failed = false
	return result, spanCtx, nil
}

// finish ends span and detaches scope. Both steps run even if one panics.
func (t *Tracer) finish(name string, span Span, scope Scope) error {
	var cleanup *CleanupError
	if r := guard(span.End); r != nil {
		t.logger.Error("span end failed", "span", name, "panic", r)
		cleanup = &CleanupError{Span: name, Step: "end", Cause: r}
	}
	if scope != nil {
		if r := guard(scope.Detach); r != nil {
			t.logger.Error("scope detach failed", "span", name, "panic", r)
			if cleanup == nil {
				cleanup = &CleanupError{Span: name, Step: "detach", Cause: r}
			}
		}
	}
	if cleanup == nil {
		return nil
	}
	return cleanup
}

func guard(step func()) (r any) {
	defer func() {
		r = recover()
	}()
	step()
	return nil
}

// PanicError is recorded on a span when the traced body panics.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// CleanupError reports a span that could not be ended or detached cleanly.
// It is returned only when the traced body itself succeeded and
// WithPassiveCleanup was not given.
type CleanupError struct {
	Cause any
	Span  string
	Step  string
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("flowtrace: %s of span %q failed: %v", e.Step, e.Span, e.Cause)
}
