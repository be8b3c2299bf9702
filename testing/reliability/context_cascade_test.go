package reliability

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/zoobzio/flowtrace"
	"github.com/zoobzio/flowtrace/interceptor"
	"github.com/zoobzio/flowtrace/memtrace"
)

// Context cascade tests verify trace context survives long chains of
// process hops and wide fan-out through the interceptors.
//
// Environment: FLOWTRACE_RELIABILITY_LEVEL controls test intensity
//
//	basic: CI-safe depth and width
//	stress: depth and width multiplied by ten

func TestContextCascade(t *testing.T) {
	cfg := skipUnlessEnabled(t)
	if cfg.stress() {
		cfg.Depth *= 10
		cfg.MaxGoroutines *= 10
	}

	t.Run("deep_hops", func(t *testing.T) { testDeepHops(t, cfg.Depth) })
	t.Run("fanout", func(t *testing.T) { testFanout(t, cfg.MaxGoroutines) })
	t.Run("corrupt_headers", testCorruptHeaders)
}

type rig struct {
	backend   *memtrace.Tracer
	collector *memtrace.Collector
	tracing   *interceptor.Tracing
}

func newRig(t *testing.T, buffer int) *rig {
	t.Helper()
	backend := memtrace.New()
	t.Cleanup(backend.Close)
	collector := memtrace.NewCollector("reliability", buffer)
	collector.SetSyncMode(true)
	t.Cleanup(collector.Close)
	backend.AddCollector(collector)
	return &rig{
		backend:   backend,
		collector: collector,
		tracing:   interceptor.NewTracing(flowtrace.New(backend, memtrace.Propagator())),
	}
}

// hop starts a workflow from ctx and runs one activity in it with the
// delivered header. The activity recurses until depth reaches zero.
func (r *rig) hop(ctx context.Context, depth int) error {
	if depth == 0 {
		return nil
	}
	var delivered flowtrace.Header
	_, err := r.tracing.Client.Start(ctx, interceptor.StartInput{
		WorkflowID:   fmt.Sprintf("hop-%d", depth),
		WorkflowType: "Hop",
	}, func(_ context.Context, in interceptor.StartInput) (interceptor.WorkflowExecution, error) {
		delivered = in.Header
		return interceptor.WorkflowExecution{ID: in.WorkflowID}, nil
	})
	if err != nil {
		return err
	}

	_, err = r.tracing.Activity.ExecuteActivity(ctx, interceptor.ActivityInput{
		Header: delivered,
		Info:   interceptor.ActivityInfo{ID: fmt.Sprint(depth), Type: "Hop", WorkflowType: "Hop"},
	}, func(ctx context.Context, _ interceptor.ActivityInput) (any, error) {
		return nil, r.hop(ctx, depth-1)
	})
	return err
}

func testDeepHops(t *testing.T, depth int) {
	r := newRig(t, depth*2)

	if err := r.hop(context.Background(), depth); err != nil {
		t.Fatal(err)
	}

	spans := r.collector.Export()
	if len(spans) != depth*2 {
		t.Fatalf("expected %d spans, got %d", depth*2, len(spans))
	}

	byID := make(map[string]memtrace.Span, len(spans))
	traceID := spans[0].TraceID
	roots := 0
	for _, s := range spans {
		byID[s.SpanID] = s
		if s.TraceID != traceID {
			t.Fatalf("span %s left trace %s for %s", s.Name, traceID, s.TraceID)
		}
	}
	for _, s := range spans {
		if s.ParentID == "" {
			roots++
			continue
		}
		parent, ok := byID[s.ParentID]
		if !ok {
			t.Errorf("span %s has unknown parent %s", s.Name, s.ParentID)
			continue
		}
		if s.Name == interceptor.SpanActivityHandle && parent.Name != interceptor.SpanStartWorkflow+":Hop" {
			t.Errorf("activity parent is %s", parent.Name)
		}
	}
	if roots != 1 {
		t.Errorf("expected 1 root, got %d", roots)
	}
}

func testFanout(t *testing.T, width int) {
	r := newRig(t, width*2)

	var wg sync.WaitGroup
	errs := make(chan error, width)
	for range width {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.hop(context.Background(), 1)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}

	traces := make(map[string]int)
	for _, s := range r.collector.Export() {
		traces[s.TraceID]++
	}
	if len(traces) != width {
		t.Errorf("expected %d traces, got %d", width, len(traces))
	}
	for id, n := range traces {
		if n != 2 {
			t.Errorf("trace %s has %d spans, want 2", id, n)
		}
	}
}

// testCorruptHeaders feeds malformed propagation contexts to the activity
// interceptor. Each must still produce exactly one span, as a new root.
func testCorruptHeaders(t *testing.T) {
	r := newRig(t, 64)

	headers := []flowtrace.Header{
		flowtrace.NewHeader(flowtrace.HeaderEntry{Key: flowtrace.HeaderKey, Value: flowtrace.StringValue("garbage")}),
		flowtrace.NewHeader(flowtrace.HeaderEntry{Key: flowtrace.HeaderKey, Value: flowtrace.NullValue()}),
		flowtrace.NewHeader(flowtrace.HeaderEntry{Key: flowtrace.HeaderKey, Value: flowtrace.MapValue(nil)}),
		flowtrace.NewHeader(flowtrace.HeaderEntry{Key: flowtrace.HeaderKey, Value: flowtrace.MapValue(map[string]string{
			"traceparent": "00-zz-yy-01",
		})}),
		flowtrace.NewHeader(flowtrace.HeaderEntry{Key: flowtrace.HeaderKey, Value: flowtrace.MapValue(map[string]string{
			"traceparent": "00-00000000000000000000000000000000-0000000000000000-01",
		})}),
	}

	for i, header := range headers {
		_, err := r.tracing.Activity.ExecuteActivity(context.Background(), interceptor.ActivityInput{
			Header: header,
			Info:   interceptor.ActivityInfo{ID: fmt.Sprint(i), Type: "Corrupt"},
		}, func(context.Context, interceptor.ActivityInput) (any, error) { return i, nil })
		if err != nil {
			t.Fatalf("header %d: %v", i, err)
		}
	}

	spans := r.collector.Export()
	if len(spans) != len(headers) {
		t.Fatalf("expected %d spans, got %d", len(headers), len(spans))
	}
	for _, s := range spans {
		if s.ParentID != "" {
			t.Errorf("span %s adopted parent %s from a corrupt header", s.Attributes[interceptor.AttrActivityID], s.ParentID)
		}
	}
}
