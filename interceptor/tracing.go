package interceptor

import "github.com/zoobzio/flowtrace"

// Tracing groups the three interceptors built from one base tracer so a host
// can install them together.
type Tracing struct {
	Activity *ActivityInbound
	Client   *WorkflowClientCalls
	Outbound *WorkflowOutbound
}

// NewTracing returns all interceptors sharing tracer.
func NewTracing(tracer *flowtrace.Tracer) *Tracing {
	return &Tracing{
		Activity: NewActivityInbound(tracer),
		Client:   NewWorkflowClientCalls(tracer),
		Outbound: NewWorkflowOutbound(tracer),
	}
}
