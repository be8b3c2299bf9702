package flowtrace

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Backend creates spans.
type Backend interface {
	// Start begins a span named name. The span's parent is whatever span
	// context parent carries, local or extracted from a carrier.
	Start(parent context.Context, name string, opts StartOptions) Span
}

// StartOptions configures a span at creation.
type StartOptions struct {
	// StartTime overrides the creation time when non-zero.
	StartTime time.Time
	// Kind is left to the backend default when unspecified.
	Kind trace.SpanKind
}

// Span is one traced unit of work.
type Span interface {
	// Activate makes the span current in the returned context.
	Activate(ctx context.Context) (context.Context, Scope)
	// UpdateName renames the span. Last write wins.
	UpdateName(name string)
	// SetAttributes records normalized attributes.
	SetAttributes(attrs ...Attr)
	// RecordError marks the span as failed with err.
	RecordError(err error)
	// End completes the span.
	End()
	// ContextWithSpan stores the span's context in ctx without activating it.
	ContextWithSpan(ctx context.Context) context.Context
}

// Scope is returned by Span.Activate.
type Scope interface {
	Detach()
}
