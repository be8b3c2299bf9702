package otelbackend

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metric instrument names.
const (
	MetricSpans        = "flowtrace.spans"
	MetricSpanDuration = "flowtrace.span.duration"
)

// Metrics holds the instruments recorded when a span ends.
type Metrics struct {
	spans    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics creates the span instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(ScopeName)

	spans, err := meter.Int64Counter(MetricSpans,
		metric.WithDescription("Ended span count"),
		metric.WithUnit("{span}"))
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(MetricSpanDuration,
		metric.WithDescription("Span duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Metrics{spans: spans, duration: duration}, nil
}

func (m *Metrics) record(kind trace.SpanKind, failed bool, elapsed time.Duration) {
	status := "ok"
	if failed {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("span.kind", kind.String()),
		attribute.String("status", status),
	)

	// Spans end after the traced call returns, so no request context is left.
	ctx := context.Background()
	m.spans.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
}
