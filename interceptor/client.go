package interceptor

import (
	"context"

	"github.com/zoobzio/flowtrace"
	"go.opentelemetry.io/otel/trace"
)

// WorkflowClientCalls traces client requests that start workflows and writes
// the new span's context into the outgoing header.
type WorkflowClientCalls struct {
	tracer *flowtrace.Tracer
}

// NewWorkflowClientCalls returns a client interceptor using tracer as the base
// for every call.
func NewWorkflowClientCalls(tracer *flowtrace.Tracer) *WorkflowClientCalls {
	return &WorkflowClientCalls{tracer: tracer}
}

// Start traces a workflow start.
func (c *WorkflowClientCalls) Start(ctx context.Context, in StartInput, next StartFunc) (WorkflowExecution, error) {
	return traceStart(ctx, c.tracer, SpanStartWorkflow, in,
		func(ctx context.Context, header flowtrace.Header) (WorkflowExecution, error) {
			return next(ctx, in.WithHeader(header))
		})
}

// SignalWithStart traces a signal-with-start request.
func (c *WorkflowClientCalls) SignalWithStart(ctx context.Context, in SignalWithStartInput, next SignalWithStartFunc) (WorkflowExecution, error) {
	return traceStart(ctx, c.tracer, SpanSignalWithStartWorkflow, in.Start,
		func(ctx context.Context, header flowtrace.Header) (WorkflowExecution, error) {
			return next(ctx, in.WithHeader(header))
		})
}

// UpdateWithStart traces an update-with-start request.
func (c *WorkflowClientCalls) UpdateWithStart(ctx context.Context, in UpdateWithStartInput, next UpdateWithStartFunc) (UpdateWithStartOutput, error) {
	return traceStart(ctx, c.tracer, SpanUpdateWithStartWorkflow, in.Start,
		func(ctx context.Context, header flowtrace.Header) (UpdateWithStartOutput, error) {
			return next(ctx, in.WithHeader(header))
		})
}

// traceStart runs call inside a client span. The header handed to call is the
// start header with HeaderKey set to the span's context, so the header rewrite
// happens within the span's lifetime.
func traceStart[R any](
	ctx context.Context,
	base *flowtrace.Tracer,
	prefix string,
	in StartInput,
	call func(context.Context, flowtrace.Header) (R, error),
) (R, error) {
	tracer := fork(base, in.Header)

	header := in.Header
	if header == nil {
		header = flowtrace.EmptyHeader()
	}

	result, _, err := flowtrace.Trace(ctx, tracer, prefix+SpanDelimiter+in.WorkflowType,
		func(ctx context.Context, span flowtrace.Span) (R, error) {
			spanCtx := tracer.ContextOf(span)
			return call(ctx, header.With(flowtrace.HeaderKey, flowtrace.MapValue(spanCtx.Map())))
		},
		flowtrace.WithSpanKind(trace.SpanKindClient),
		flowtrace.WithPassiveCleanup(),
		flowtrace.WithAttributes(
			flowtrace.Attribute(AttrWorkflowType, in.WorkflowType),
			flowtrace.Attribute(AttrWorkflowID, in.WorkflowID),
			flowtrace.Attribute(AttrHeader, flowtrace.HeaderAttribute(in.Header)),
		),
	)
	return result, err
}
