package interceptor

import (
	"context"

	"github.com/zoobzio/flowtrace"
	"go.opentelemetry.io/otel/trace"
)

// WorkflowOutbound traces requests issued by running workflow code.
//
// The span is created once the request's future settles, with its start time
// taken before dispatch, so its duration covers the whole request. Replayed
// requests and requests without a propagation context are not traced.
type WorkflowOutbound struct {
	tracer *flowtrace.Tracer
}

// NewWorkflowOutbound returns an outbound interceptor using tracer as the base
// for every call.
func NewWorkflowOutbound(tracer *flowtrace.Tracer) *WorkflowOutbound {
	return &WorkflowOutbound{tracer: tracer}
}

// HandleOutboundRequest dispatches req through next and, unless skipped,
// traces it when the returned future settles. The returned future settles
// with the same value and error as next's.
func (o *WorkflowOutbound) HandleOutboundRequest(ctx context.Context, wf Workflow, req OutboundRequest, next OutboundFunc) Future {
	carrier, ok := flowtrace.ContextFromHeader(req.Header)
	if !ok {
		return next(ctx, req)
	}
	if wf.IsReplaying() {
		o.tracer.Logger().Debug("outbound request replaying, not traced",
			"kind", req.Kind, "name", req.Name, "id", req.ID)
		return next(ctx, req)
	}

	tracer := o.tracer.WithContext(carrier)
	start := tracer.Now()
	workflowType := wf.WorkflowType()

	return next(ctx, req).Then(func(value any, err error) (any, error) {
		result, _, traceErr := flowtrace.Trace(ctx, tracer, SpanWorkflowOutboundRequest+SpanDelimiter+req.Name,
			func(context.Context, flowtrace.Span) (any, error) {
				return value, err
			},
			flowtrace.WithSpanKind(trace.SpanKindServer),
			flowtrace.WithPassiveCleanup(),
			flowtrace.WithStartTime(start),
			flowtrace.WithAttributes(
				flowtrace.Attribute(AttrRequestKind, string(req.Kind)),
				flowtrace.Attribute(AttrRequestName, req.Name),
				flowtrace.Attribute(AttrRequestID, req.ID),
				flowtrace.Attribute(AttrWorkflowType, workflowType),
			),
		)
		return result, traceErr
	})
}
