package interceptor

import (
	"testing"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/flowtrace"
	"github.com/zoobzio/flowtrace/memtrace"
)

const (
	remoteTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	remoteSpanID  = "00f067aa0ba902b7"
	remoteParent  = "00-" + remoteTraceID + "-" + remoteSpanID + "-01"
)

// testTracer wires a flowtrace tracer to an in-memory backend on a fake clock.
type testTracer struct {
	tracer  *flowtrace.Tracer
	backend *memtrace.Tracer
	clock   *clockz.FakeClock
}

func newTestTracer(t *testing.T) *testTracer {
	t.Helper()
	clock := clockz.NewFakeClock()
	backend := memtrace.New().WithClock(clock).WithRecording()
	t.Cleanup(backend.Close)

	return &testTracer{
		tracer:  flowtrace.New(backend, memtrace.Propagator()).WithClock(clock),
		backend: backend,
		clock:   clock,
	}
}

// only returns the single span started so far.
func (tt *testTracer) only(t *testing.T) *memtrace.ActiveSpan {
	t.Helper()
	started := tt.backend.Started()
	if len(started) != 1 {
		t.Fatalf("expected 1 span, got %d", len(started))
	}
	return started[0]
}

// remoteHeader returns a header carrying the fixed remote parent.
func remoteHeader(extra ...flowtrace.HeaderEntry) flowtrace.MapHeader {
	entries := append([]flowtrace.HeaderEntry{}, extra...)
	entries = append(entries, flowtrace.HeaderEntry{
		Key:   flowtrace.HeaderKey,
		Value: flowtrace.MapValue(map[string]string{"traceparent": remoteParent}),
	})
	return flowtrace.NewHeader(entries...)
}

type fakeWorkflow struct {
	workflowType string
	replaying    bool
}

func (w fakeWorkflow) IsReplaying() bool    { return w.replaying }
func (w fakeWorkflow) WorkflowType() string { return w.workflowType }
