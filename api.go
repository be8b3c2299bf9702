// Package flowtrace attaches distributed-tracing spans to the interceptor
// points of a workflow-orchestration SDK.
//
// flowtrace does not create or export spans itself. A Backend creates spans
// and a Codec (an OpenTelemetry TextMapPropagator) moves span context in and
// out of flat string carriers. The Tracer ties the two together and carries
// the propagation context received from another process.
//
// Core Components:
//   - Tracer: Forks per call, starts spans, exports their context.
//   - Trace: Runs a body inside a span with guaranteed cleanup.
//   - Header: Immutable carrier attached to every cross-boundary call.
//   - PropagationContext: The codec fields found in a carrier.
//   - Normalize: Total conversion of arbitrary values into span attributes.
//
// Basic Usage:
//
//	tracer := flowtrace.New(backend, propagation.TraceContext{})
//
//	// Resume a trace received from another process.
//	if carrier, ok := flowtrace.ContextFromHeader(header); ok {
//		tracer = tracer.WithContext(carrier)
//	}
//
//	result, spanCtx, err := flowtrace.Trace(ctx, tracer, "operation",
//		func(ctx context.Context, span flowtrace.Span) (int, error) {
//			return 42, nil
//		},
//		flowtrace.WithSpanKind(trace.SpanKindServer),
//		flowtrace.WithAttributes(flowtrace.Attribute("user.id", 123)),
//	)
//
//	// Forward spanCtx so the next hop becomes a child of this span.
//	header = header.With(flowtrace.HeaderKey, flowtrace.MapValue(spanCtx.Map()))
//
// Thread Safety:
//
// Tracer values are immutable and safe to share between goroutines. Each
// derivation (WithContext, WithClock, WithLogger) returns a new Tracer.
// Spans returned by a Backend belong to a single Trace call.
//
// Export:
//
// Span export is the Backend's concern. A backend configured for synchronous
// export adds the export round-trip to every traced call.
package flowtrace

// Attr is a single span attribute before normalization.
type Attr struct {
	Value any
	Key   string
}

// Attribute returns an Attr for key and value.
func Attribute(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}
