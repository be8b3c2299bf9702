package benchmarks

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/zoobzio/flowtrace"
	"github.com/zoobzio/flowtrace/interceptor"
	"github.com/zoobzio/flowtrace/memtrace"
)

const parentTraceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func newTracer(b *testing.B) (*flowtrace.Tracer, *memtrace.Collector) {
	b.Helper()
	backend := memtrace.New()
	b.Cleanup(backend.Close)
	collector := memtrace.NewCollector("bench", 1024)
	collector.SetSyncMode(true)
	b.Cleanup(collector.Close)
	backend.AddCollector(collector)
	return flowtrace.New(backend, memtrace.Propagator()), collector
}

func tracedHeader() flowtrace.Header {
	return flowtrace.NewHeader(
		flowtrace.HeaderEntry{Key: flowtrace.HeaderKey, Value: flowtrace.MapValue(map[string]string{
			"traceparent": parentTraceparent,
		})},
		flowtrace.HeaderEntry{Key: "tenant", Value: flowtrace.StringValue("acme")},
	)
}

// BenchmarkTrace measures the core wrapper on the success and failure paths.
func BenchmarkTrace(b *testing.B) {
	tracer, collector := newTracer(b)
	ctx := context.Background()
	fail := errors.New("fail")

	b.Run("success", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_, _, _ = flowtrace.Trace(ctx, tracer, "op", func(context.Context, flowtrace.Span) (int, error) {
				return i, nil
			}, flowtrace.WithAttributes(flowtrace.Attribute("i", i)))
			if i%1000 == 0 {
				collector.Reset()
			}
		}
	})

	b.Run("failure", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_, _, _ = flowtrace.Trace(ctx, tracer, "op", func(context.Context, flowtrace.Span) (int, error) {
				return 0, fail
			})
			if i%1000 == 0 {
				collector.Reset()
			}
		}
	})

	b.Run("remote-parent", func(b *testing.B) {
		remote := tracer.WithContext(map[string]string{"traceparent": parentTraceparent})
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_, _, _ = flowtrace.Trace(ctx, remote, "op", func(context.Context, flowtrace.Span) (int, error) {
				return i, nil
			}, flowtrace.WithScope())
			if i%1000 == 0 {
				collector.Reset()
			}
		}
	})
}

// BenchmarkTraceParallel measures the wrapper from many goroutines.
func BenchmarkTraceParallel(b *testing.B) {
	tracer, collector := newTracer(b)
	collector.SetSyncMode(false)
	ctx := context.Background()

	b.ReportAllocs()
	start := time.Now()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _, _ = flowtrace.Trace(ctx, tracer, "parallel", func(context.Context, flowtrace.Span) (struct{}, error) {
				return struct{}{}, nil
			})
		}
	})
	b.ReportMetric(float64(b.N)/time.Since(start).Seconds(), "spans/sec")
}

// BenchmarkNormalize measures attribute normalization by value shape.
func BenchmarkNormalize(b *testing.B) {
	values := map[string]any{
		"scalar": int32(7),
		"string": "charge-card",
		"list":   []any{1, "two", 3.0},
		"map":    map[string]any{"tenant": "acme", "attempt": 2},
		"error":  errors.New("declined"),
		"struct": struct{ ID, Kind string }{"1", "activity"},
		"header": flowtrace.HeaderAttribute(tracedHeader()),
	}
	for name, v := range values {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = flowtrace.Normalize(v)
			}
		})
	}
}

// BenchmarkFilterContext measures carrier filtering against codec fields.
func BenchmarkFilterContext(b *testing.B) {
	fields := []string{"traceparent", "tracestate", "baggage"}
	for _, size := range []int{1, 10, 100} {
		carrier := map[string]string{"traceparent": parentTraceparent}
		for i := range size {
			carrier[fmt.Sprintf("x-extra-%d", i)] = "v"
		}
		b.Run(fmt.Sprintf("keys-%d", size), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = flowtrace.FilterContext(fields, carrier)
			}
		})
	}
}

// BenchmarkInterceptors measures each interception point end to end.
func BenchmarkInterceptors(b *testing.B) {
	tracer, collector := newTracer(b)
	tracing := interceptor.NewTracing(tracer)
	ctx := context.Background()
	header := tracedHeader()

	b.Run("client-start", func(b *testing.B) {
		in := interceptor.StartInput{Header: header, WorkflowID: "wf", WorkflowType: "Order", TaskQueue: "q"}
		next := func(context.Context, interceptor.StartInput) (interceptor.WorkflowExecution, error) {
			return interceptor.WorkflowExecution{ID: "wf"}, nil
		}
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_, _ = tracing.Client.Start(ctx, in, next)
			if i%1000 == 0 {
				collector.Reset()
			}
		}
	})

	b.Run("activity", func(b *testing.B) {
		in := interceptor.ActivityInput{
			Header: header,
			Info:   interceptor.ActivityInfo{ID: "1", Type: "ChargeCard", WorkflowType: "Order", Attempt: 1},
		}
		next := func(context.Context, interceptor.ActivityInput) (any, error) { return nil, nil }
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_, _ = tracing.Activity.ExecuteActivity(ctx, in, next)
			if i%1000 == 0 {
				collector.Reset()
			}
		}
	})

	wf := workflow{}
	req := interceptor.OutboundRequest{Header: header, Kind: interceptor.RequestExecuteActivity, Name: "ChargeCard", ID: 1}
	next := func(context.Context, interceptor.OutboundRequest) interceptor.Future {
		return interceptor.ReadyFuture("ok", nil)
	}

	b.Run("outbound", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_, _ = tracing.Outbound.HandleOutboundRequest(ctx, wf, req, next).Get(ctx)
			if i%1000 == 0 {
				collector.Reset()
			}
		}
	})

	b.Run("outbound-replay", func(b *testing.B) {
		replay := workflow{replaying: true}
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_, _ = tracing.Outbound.HandleOutboundRequest(ctx, replay, req, next).Get(ctx)
		}
	})
}

type workflow struct{ replaying bool }

func (w workflow) IsReplaying() bool { return w.replaying }
func (workflow) WorkflowType() string { return "Order" }
