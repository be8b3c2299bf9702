// Package integration exercises the interceptors end to end against the
// in-memory backend and a simulated workflow engine.
package integration

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/flowtrace"
	"github.com/zoobzio/flowtrace/interceptor"
	"github.com/zoobzio/flowtrace/memtrace"
)

// MockCollector wraps a real collector with test utilities.
// Collection is synchronous so spans are visible as soon as they end.
//
//nolint:govet // Field alignment optimized for test helper readability
type MockCollector struct {
	exported []memtrace.Span
	*memtrace.Collector
	t  *testing.T
	mu sync.Mutex
}

// NewMockCollector creates a collector for testing.
func NewMockCollector(t *testing.T, name string, bufferSize int) *MockCollector {
	collector := memtrace.NewCollector(name, bufferSize)
	collector.SetSyncMode(true)
	t.Cleanup(collector.Close)
	return &MockCollector{
		Collector: collector,
		t:         t,
	}
}

// GetAll returns every span collected so far without losing earlier exports.
func (m *MockCollector) GetAll() []memtrace.Span {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.exported = append(m.exported, m.Collector.Export()...)
	all := make([]memtrace.Span, len(m.exported))
	copy(all, m.exported)
	return all
}

// AssertSpanCount verifies the exact number of collected spans.
func (m *MockCollector) AssertSpanCount(expected int) []memtrace.Span {
	m.t.Helper()
	spans := m.GetAll()
	if len(spans) != expected {
		m.t.Errorf("Expected %d spans, got %d:\n%s", expected, len(spans), PrintSpanTree(BuildSpanTree(spans)))
	}
	return spans
}

// AssertSpanNamed returns the first span with name.
func (m *MockCollector) AssertSpanNamed(name string) *memtrace.Span {
	m.t.Helper()
	spans := m.GetAll()
	for i := range spans {
		if spans[i].Name == name {
			return &spans[i]
		}
	}
	m.t.Errorf("Span named '%s' not found", name)
	return nil
}

// AssertParentChild verifies parent-child relationship.
func (m *MockCollector) AssertParentChild(parentName, childName string) {
	m.t.Helper()
	parent := m.AssertSpanNamed(parentName)
	child := m.AssertSpanNamed(childName)
	if parent == nil || child == nil {
		return
	}

	if child.ParentID != parent.SpanID {
		m.t.Errorf("Parent-child relationship broken: %s is not parent of %s. Child ParentID=%s, Parent SpanID=%s",
			parentName, childName, child.ParentID, parent.SpanID)
	}
	if child.TraceID != parent.TraceID {
		m.t.Errorf("Trace ID mismatch: parent=%s, child=%s", parent.TraceID, child.TraceID)
	}
}

// Harness wires a base tracer, the in-memory backend and the interceptors.
type Harness struct {
	Backend   *memtrace.Tracer
	Collector *MockCollector
	Tracer    *flowtrace.Tracer
	Tracing   *interceptor.Tracing
}

// NewHarness returns a harness whose spans land in a synchronous collector.
func NewHarness(t *testing.T) *Harness {
	backend := memtrace.New()
	t.Cleanup(backend.Close)

	collector := NewMockCollector(t, "integration", 1024)
	backend.AddCollector(collector.Collector)

	tracer := flowtrace.New(backend, memtrace.Propagator())
	return &Harness{
		Backend:   backend,
		Collector: collector,
		Tracer:    tracer,
		Tracing:   interceptor.NewTracing(tracer),
	}
}

// SpanTree represents a hierarchical view of spans.
type SpanTree struct {
	Span     memtrace.Span
	Children []*SpanTree
}

// BuildSpanTree constructs a tree from flat span list.
// Spans whose parent is not in the list are roots.
func BuildSpanTree(spans []memtrace.Span) []*SpanTree {
	nodeMap := make(map[string]*SpanTree, len(spans))
	roots := make([]*SpanTree, 0)

	for i := range spans {
		nodeMap[spans[i].SpanID] = &SpanTree{Span: spans[i]}
	}

	for i := range spans {
		node := nodeMap[spans[i].SpanID]
		if parent, exists := nodeMap[spans[i].ParentID]; exists && spans[i].ParentID != "" {
			parent.Children = append(parent.Children, node)
			continue
		}
		roots = append(roots, node)
	}

	return roots
}

// PrintSpanTree formats span tree for debugging.
func PrintSpanTree(trees []*SpanTree) string {
	var sb strings.Builder
	for _, tree := range trees {
		printTreeNode(&sb, tree, 0)
	}
	return sb.String()
}

func printTreeNode(sb *strings.Builder, node *SpanTree, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(sb, "%s%s (%.2fms)\n",
		indent, node.Span.Name, node.Span.Duration.Seconds()*1000)
	for _, child := range node.Children {
		printTreeNode(sb, child, depth+1)
	}
}

// TraceAnalyzer provides trace-level assertions.
type TraceAnalyzer struct {
	byName map[string][]memtrace.Span
	traces map[string]int
	trees  []*SpanTree
	spans  []memtrace.Span
}

// NewTraceAnalyzer creates an analyzer for a set of spans.
func NewTraceAnalyzer(spans []memtrace.Span) *TraceAnalyzer {
	a := &TraceAnalyzer{
		spans:  spans,
		byName: make(map[string][]memtrace.Span),
		traces: make(map[string]int),
	}
	for i := range spans {
		a.byName[spans[i].Name] = append(a.byName[spans[i].Name], spans[i])
		a.traces[spans[i].TraceID]++
	}
	a.trees = BuildSpanTree(spans)
	return a
}

// GetSpansByName retrieves all spans with given name.
func (a *TraceAnalyzer) GetSpansByName(name string) []memtrace.Span {
	return a.byName[name]
}

// CountSpans returns total span count.
func (a *TraceAnalyzer) CountSpans() int {
	return len(a.spans)
}

// CountTrees returns number of root spans.
func (a *TraceAnalyzer) CountTrees() int {
	return len(a.trees)
}

// CountTraces returns the number of distinct trace IDs.
func (a *TraceAnalyzer) CountTraces() int {
	return len(a.traces)
}

// VerifyChain checks that the first span of each name is the child of the
// previous one.
func (a *TraceAnalyzer) VerifyChain(names ...string) error {
	if len(names) < 2 {
		return errors.New("chain requires at least 2 spans")
	}

	var prev *memtrace.Span
	for i, name := range names {
		spans := a.GetSpansByName(name)
		if len(spans) == 0 {
			return fmt.Errorf("span '%s' not found", name)
		}
		span := spans[0]
		if prev != nil && span.ParentID != prev.SpanID {
			return fmt.Errorf("broken chain: %s is not child of %s", name, names[i-1])
		}
		prev = &span
	}
	return nil
}

// SpanMatcher provides fluent assertions for spans.
type SpanMatcher struct {
	t    *testing.T
	span *memtrace.Span
}

// NewSpanMatcher creates a matcher for span assertions.
func NewSpanMatcher(t *testing.T, span *memtrace.Span) *SpanMatcher {
	return &SpanMatcher{t: t, span: span}
}

// HasAttr verifies the attribute exists with value.
func (m *SpanMatcher) HasAttr(key string, value any) *SpanMatcher {
	m.t.Helper()
	if m.span == nil {
		return m
	}
	if actual, exists := m.span.Attributes[key]; !exists {
		m.t.Errorf("Span %s missing attribute '%s'", m.span.Name, key)
	} else if !reflect.DeepEqual(actual, value) {
		m.t.Errorf("Span %s attribute '%s': expected %v (%T), got %v (%T)",
			m.span.Name, key, value, value, actual, actual)
	}
	return m
}

// HasParent verifies parent relationship.
func (m *SpanMatcher) HasParent(parentID string) *SpanMatcher {
	m.t.Helper()
	if m.span == nil {
		return m
	}
	if m.span.ParentID != parentID {
		m.t.Errorf("Span %s wrong parent: expected %s, got %s",
			m.span.Name, parentID, m.span.ParentID)
	}
	return m
}

// HasErrors verifies the recorded error messages.
func (m *SpanMatcher) HasErrors(messages ...string) *SpanMatcher {
	m.t.Helper()
	if m.span == nil {
		return m
	}
	if strings.Join(m.span.Errors, "|") != strings.Join(messages, "|") {
		m.t.Errorf("Span %s errors: expected %q, got %q", m.span.Name, messages, m.span.Errors)
	}
	return m
}

// DurationAtLeast verifies the span lasted at least d.
func (m *SpanMatcher) DurationAtLeast(d time.Duration) *SpanMatcher {
	m.t.Helper()
	if m.span == nil {
		return m
	}
	if m.span.Duration < d {
		m.t.Errorf("Span %s duration %v shorter than %v", m.span.Name, m.span.Duration, d)
	}
	return m
}

// Workflow is a simulated workflow execution.
type Workflow struct {
	Type      string
	replaying bool
}

// IsReplaying reports whether the workflow is replaying history.
func (w *Workflow) IsReplaying() bool { return w.replaying }

// WorkflowType returns the workflow type name.
func (w *Workflow) WorkflowType() string { return w.Type }

// MockWorker simulates the engine side: it resolves outbound requests by
// running activities through the activity interceptor on a goroutine, and
// records results so a replay can resolve from history.
type MockWorker struct {
	tracing    *interceptor.Tracing
	activities map[string]interceptor.ActivityHandler
	history    map[int64]result
	latency    time.Duration
	mu         sync.Mutex
}

type result struct {
	value any
	err   error
}

// NewMockWorker creates a worker dispatching to the harness interceptors.
func NewMockWorker(tracing *interceptor.Tracing) *MockWorker {
	return &MockWorker{
		tracing:    tracing,
		activities: make(map[string]interceptor.ActivityHandler),
		history:    make(map[int64]result),
	}
}

// Register adds an activity implementation.
func (w *MockWorker) Register(name string, handler interceptor.ActivityHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.activities[name] = handler
}

// SetLatency configures how long each activity dispatch takes.
func (w *MockWorker) SetLatency(d time.Duration) {
	w.mu.Lock()
	w.latency = d
	w.mu.Unlock()
}

// Execute issues an ExecuteActivity request from wf through the outbound
// interceptor and waits for its result.
func (w *MockWorker) Execute(ctx context.Context, wf *Workflow, header flowtrace.Header, id int64, activity string) (any, error) {
	req := interceptor.OutboundRequest{
		Header: header,
		Kind:   interceptor.RequestExecuteActivity,
		Name:   activity,
		ID:     id,
	}
	return w.tracing.Outbound.HandleOutboundRequest(ctx, wf, req, w.dispatch(wf)).Get(ctx)
}

// Replay re-executes the request from history.
func (w *MockWorker) Replay(ctx context.Context, wf *Workflow, header flowtrace.Header, id int64, activity string) (any, error) {
	replay := *wf
	replay.replaying = true
	return w.Execute(ctx, &replay, header, id, activity)
}

func (w *MockWorker) dispatch(wf *Workflow) interceptor.OutboundFunc {
	return func(ctx context.Context, req interceptor.OutboundRequest) interceptor.Future {
		w.mu.Lock()
		recorded, seen := w.history[req.ID]
		handler, ok := w.activities[req.Name]
		latency := w.latency
		w.mu.Unlock()

		if wf.replaying && seen {
			return interceptor.ReadyFuture(recorded.value, recorded.err)
		}
		if !ok {
			return interceptor.ReadyFuture(nil, fmt.Errorf("activity %s not registered", req.Name))
		}

		future, settable := interceptor.NewFuture()
		in := interceptor.ActivityInput{
			Header: req.Header,
			Info: interceptor.ActivityInfo{
				ID:                strconv.FormatInt(req.ID, 10),
				Type:              req.Name,
				TaskQueue:         "integration",
				WorkflowType:      wf.Type,
				WorkflowNamespace: "default",
				Attempt:           1,
			},
		}
		go func() {
			time.Sleep(latency)
			value, err := w.tracing.Activity.ExecuteActivity(ctx, in, handler)
			w.mu.Lock()
			w.history[req.ID] = result{value: value, err: err}
			w.mu.Unlock()
			settable.Set(value, err)
		}()
		return future
	}
}

// StartWorkflow starts wfType through the client interceptor and returns the
// header the engine would deliver to the workflow.
func StartWorkflow(ctx context.Context, tracing *interceptor.Tracing, header flowtrace.Header, wfType, id string) (flowtrace.Header, error) {
	var delivered flowtrace.Header
	_, err := tracing.Client.Start(ctx, interceptor.StartInput{
		Header:       header,
		WorkflowID:   id,
		WorkflowType: wfType,
		TaskQueue:    "integration",
	}, func(_ context.Context, in interceptor.StartInput) (interceptor.WorkflowExecution, error) {
		delivered = in.Header
		return interceptor.WorkflowExecution{ID: in.WorkflowID, RunID: id + "-run"}, nil
	})
	return delivered, err
}
