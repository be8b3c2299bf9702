package interceptor

import (
	"context"

	"github.com/zoobzio/flowtrace"
	"go.opentelemetry.io/otel/trace"
)

// ActivityInbound traces activity executions on the worker.
type ActivityInbound struct {
	tracer *flowtrace.Tracer
}

// NewActivityInbound returns an activity interceptor using tracer as the base
// for every call.
func NewActivityInbound(tracer *flowtrace.Tracer) *ActivityInbound {
	return &ActivityInbound{tracer: tracer}
}

// ExecuteActivity runs next inside a server span that continues the trace
// found in the activity header. The result and error of next pass through
// unchanged.
func (a *ActivityInbound) ExecuteActivity(ctx context.Context, in ActivityInput, next ActivityHandler) (any, error) {
	tracer := fork(a.tracer, in.Header)

	info := in.Info
	result, _, err := flowtrace.Trace(ctx, tracer, SpanActivityHandle,
		func(ctx context.Context, _ flowtrace.Span) (any, error) {
			return next(ctx, in)
		},
		flowtrace.WithScope(),
		flowtrace.WithSpanKind(trace.SpanKindServer),
		flowtrace.WithPassiveCleanup(),
		flowtrace.WithAttributes(
			flowtrace.Attribute(AttrActivityID, info.ID),
			flowtrace.Attribute(AttrActivityAttempt, info.Attempt),
			flowtrace.Attribute(AttrActivityType, info.Type),
			flowtrace.Attribute(AttrActivityTaskQueue, info.TaskQueue),
			flowtrace.Attribute(AttrWorkflowType, nullable(info.WorkflowType)),
			flowtrace.Attribute(AttrWorkflowNamespace, info.WorkflowNamespace),
			flowtrace.Attribute(AttrHeader, flowtrace.HeaderAttribute(in.Header)),
		),
	)
	return result, err
}
