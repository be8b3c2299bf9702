// Package interceptor traces the activity, client and workflow-outbound
// interceptor points of a workflow SDK.
//
// Each interceptor wraps a next continuation supplied by the host. Trace
// context travels between processes in the flowtrace.HeaderKey entry of the
// call's header: client calls write it, activities and workflow outbound
// requests read it.
package interceptor

import (
	"context"

	"github.com/zoobzio/flowtrace"
)

// Span names written by the interceptors.
const (
	SpanActivityHandle          = "ActivityHandle"
	SpanStartWorkflow           = "StartWorkflow"
	SpanSignalWithStartWorkflow = "SignalWithStartWorkflow"
	SpanUpdateWithStartWorkflow = "UpdateWithStartWorkflow"
	SpanWorkflowOutboundRequest = "WorkflowOutboundRequest"

	// SpanDelimiter joins a span name prefix with the operation it names.
	SpanDelimiter = ":"
)

// Attribute keys written by the interceptors.
const (
	AttrActivityID        = "activity.id"
	AttrActivityAttempt   = "activity.attempt"
	AttrActivityType      = "activity.type"
	AttrActivityTaskQueue = "activity.task_queue"
	AttrWorkflowType      = "workflow.type"
	AttrWorkflowID        = "workflow.id"
	AttrWorkflowNamespace = "workflow.namespace"
	AttrRequestKind       = "request.kind"
	AttrRequestName       = "request.name"
	AttrRequestID         = "request.id"
	AttrHeader            = "header"
)

// ActivityInfo identifies an activity execution.
type ActivityInfo struct {
	ID                string
	Type              string
	TaskQueue         string
	WorkflowType      string
	WorkflowID        string
	RunID             string
	WorkflowNamespace string
	Attempt           int32
}

// ActivityInput is an inbound activity invocation.
type ActivityInput struct {
	Header flowtrace.Header
	Args   []any
	Info   ActivityInfo
}

// WithHeader returns a copy of in carrying header.
func (in ActivityInput) WithHeader(header flowtrace.Header) ActivityInput {
	in.Header = header
	return in
}

// ActivityHandler runs an activity.
type ActivityHandler func(ctx context.Context, in ActivityInput) (any, error)

// StartInput describes a client request to start a workflow.
type StartInput struct {
	Header       flowtrace.Header
	WorkflowID   string
	WorkflowType string
	TaskQueue    string
	Args         []any
}

// WithHeader returns a copy of in carrying header.
func (in StartInput) WithHeader(header flowtrace.Header) StartInput {
	in.Header = header
	return in
}

// SignalWithStartInput describes a client signal-with-start request.
type SignalWithStartInput struct {
	SignalName string
	SignalArgs []any
	Start      StartInput
}

// WithHeader returns a copy of in whose start request carries header.
func (in SignalWithStartInput) WithHeader(header flowtrace.Header) SignalWithStartInput {
	in.Start = in.Start.WithHeader(header)
	return in
}

// UpdateWithStartInput describes a client update-with-start request.
type UpdateWithStartInput struct {
	UpdateName string
	UpdateID   string
	UpdateArgs []any
	Start      StartInput
}

// WithHeader returns a copy of in whose start request carries header.
func (in UpdateWithStartInput) WithHeader(header flowtrace.Header) UpdateWithStartInput {
	in.Start = in.Start.WithHeader(header)
	return in
}

// WorkflowExecution identifies a started workflow run.
type WorkflowExecution struct {
	ID    string
	RunID string
}

// UpdateWithStartOutput is the result of an update-with-start request.
type UpdateWithStartOutput struct {
	UpdateID  string
	Execution WorkflowExecution
}

// Client continuations.
type (
	StartFunc           func(ctx context.Context, in StartInput) (WorkflowExecution, error)
	SignalWithStartFunc func(ctx context.Context, in SignalWithStartInput) (WorkflowExecution, error)
	UpdateWithStartFunc func(ctx context.Context, in UpdateWithStartInput) (UpdateWithStartOutput, error)
)

// RequestKind names the type of a workflow outbound request.
type RequestKind string

// Outbound request kinds issued by workflow code.
const (
	RequestExecuteActivity        RequestKind = "ExecuteActivity"
	RequestExecuteLocalActivity   RequestKind = "ExecuteLocalActivity"
	RequestExecuteChildWorkflow   RequestKind = "ExecuteChildWorkflow"
	RequestNewTimer               RequestKind = "NewTimer"
	RequestSignalExternalWorkflow RequestKind = "SignalExternalWorkflow"
	RequestCancelExternalWorkflow RequestKind = "CancelExternalWorkflow"
	RequestContinueAsNew          RequestKind = "ContinueAsNew"
	RequestSideEffect             RequestKind = "SideEffect"
	RequestUpsertSearchAttributes RequestKind = "UpsertSearchAttributes"
)

// OutboundRequest is a request issued by running workflow code.
type OutboundRequest struct {
	Header flowtrace.Header
	Kind   RequestKind
	Name   string
	ID     int64
}

// WithHeader returns a copy of req carrying header.
func (req OutboundRequest) WithHeader(header flowtrace.Header) OutboundRequest {
	req.Header = header
	return req
}

// OutboundFunc dispatches a workflow outbound request.
type OutboundFunc func(ctx context.Context, req OutboundRequest) Future

// Workflow is the host engine's view of the workflow issuing a request.
type Workflow interface {
	// IsReplaying reports whether the engine is re-executing recorded history.
	IsReplaying() bool
	// WorkflowType returns the workflow's type name.
	WorkflowType() string
}

// fork derives a per-call tracer from the propagation context in header.
// The base tracer is returned unchanged when header carries none.
func fork(base *flowtrace.Tracer, header flowtrace.Header) *flowtrace.Tracer {
	if carrier, ok := flowtrace.ContextFromHeader(header); ok {
		return base.WithContext(carrier)
	}
	return base
}

// nullable maps an empty identifier to a null attribute.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
