package flowtrace

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const remoteParent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

// spyBackend records every span it starts.
type spyBackend struct {
	spans []*spySpan
}

func (b *spyBackend) Start(parent context.Context, name string, opts StartOptions) Span {
	s := &spySpan{
		startName: name,
		opts:      opts,
		parent:    parent,
		sc: trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    trace.TraceID{0x0a, byte(len(b.spans) + 1)},
			SpanID:     trace.SpanID{0x0b, byte(len(b.spans) + 1)},
			TraceFlags: trace.FlagsSampled,
		}),
	}
	b.spans = append(b.spans, s)
	return s
}

type spySpan struct {
	startName   string
	opts        StartOptions
	parent      context.Context
	sc          trace.SpanContext
	renames     []string
	attrs       [][]Attr
	errs        []error
	ends        int
	activations int
	detaches    int
	endPanics   bool
	attrPanics  bool
}

type spyScope struct{ span *spySpan }

func (s spyScope) Detach() { s.span.detaches++ }

func (s *spySpan) Activate(ctx context.Context) (context.Context, Scope) {
	s.activations++
	return s.ContextWithSpan(ctx), spyScope{span: s}
}

func (s *spySpan) UpdateName(name string) { s.renames = append(s.renames, name) }

func (s *spySpan) SetAttributes(attrs ...Attr) {
	if s.attrPanics {
		panic("attribute sink failed")
	}
	s.attrs = append(s.attrs, attrs)
}

func (s *spySpan) RecordError(err error) { s.errs = append(s.errs, err) }

func (s *spySpan) End() {
	s.ends++
	if s.endPanics {
		panic("exporter failed")
	}
}

func (s *spySpan) ContextWithSpan(ctx context.Context) context.Context {
	return trace.ContextWithSpanContext(ctx, s.sc)
}

func newSpyTracer() (*Tracer, *spyBackend) {
	backend := &spyBackend{}
	return New(backend, propagation.TraceContext{}), backend
}

func TestTraceReturnsResult(t *testing.T) {
	tracer, backend := newSpyTracer()

	result, _, err := Trace(context.Background(), tracer, "foo",
		func(context.Context, Span) (int, error) { return 42, nil })

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	require.Len(t, backend.spans, 1)

	span := backend.spans[0]
	assert.Equal(t, "foo", span.startName)
	assert.Equal(t, []string{"foo"}, span.renames)
	assert.Equal(t, 1, span.ends)
	assert.Equal(t, 0, span.activations)
	assert.Equal(t, 0, span.detaches)
	assert.Empty(t, span.errs)
}

func TestTraceFailureIsRecordedAndReturnedUnchanged(t *testing.T) {
	tracer, backend := newSpyTracer()
	boom := errors.New("boom")

	_, _, err := Trace(context.Background(), tracer, "foo",
		func(context.Context, Span) (int, error) { return 0, boom },
		WithScope(),
		WithAttributes(Attribute("ignored", true)),
	)

	require.Error(t, err)
	assert.True(t, err == boom, "error must be the identical value")
	require.Len(t, backend.spans, 1)

	span := backend.spans[0]
	assert.Equal(t, []error{boom}, span.errs)
	assert.Equal(t, 1, span.ends)
	assert.Equal(t, 1, span.detaches)
	assert.Empty(t, span.renames, "UpdateName must not run on failure")
	assert.Empty(t, span.attrs, "SetAttributes must not run on failure")
}

func TestTraceCleanupRunsOncePerPath(t *testing.T) {
	for _, scoped := range []bool{false, true} {
		for _, fails := range []bool{false, true} {
			t.Run(fmt.Sprintf("scoped=%t/fails=%t", scoped, fails), func(t *testing.T) {
				tracer, backend := newSpyTracer()

				var opts []TraceOption
				if scoped {
					opts = append(opts, WithScope())
				}
				_, _, _ = Trace(context.Background(), tracer, "op",
					func(context.Context, Span) (string, error) {
						if fails {
							return "", errors.New("failed")
						}
						return "ok", nil
					}, opts...)

				span := backend.spans[0]
				assert.Equal(t, 1, span.ends)
				if scoped {
					assert.Equal(t, 1, span.activations)
					assert.Equal(t, 1, span.detaches)
				} else {
					assert.Equal(t, 0, span.activations)
					assert.Equal(t, 0, span.detaches)
				}
			})
		}
	}
}

func TestTraceScopedBodySeesSpan(t *testing.T) {
	tracer, backend := newSpyTracer()

	var inside trace.SpanContext
	_, _, err := Trace(context.Background(), tracer, "op",
		func(ctx context.Context, _ Span) (struct{}, error) {
			inside = trace.SpanContextFromContext(ctx)
			return struct{}{}, nil
		}, WithScope())

	require.NoError(t, err)
	assert.Equal(t, backend.spans[0].sc, inside)
}

func TestTraceUnscopedBodyKeepsCallerContext(t *testing.T) {
	tracer, _ := newSpyTracer()

	var inside trace.SpanContext
	_, _, err := Trace(context.Background(), tracer, "op",
		func(ctx context.Context, _ Span) (struct{}, error) {
			inside = trace.SpanContextFromContext(ctx)
			return struct{}{}, nil
		})

	require.NoError(t, err)
	assert.False(t, inside.IsValid())
}

func TestTracePanicIsRecordedAndRepanicked(t *testing.T) {
	tracer, backend := newSpyTracer()

	assert.PanicsWithValue(t, "kaboom", func() {
		_, _, _ = Trace(context.Background(), tracer, "op",
			func(context.Context, Span) (int, error) { panic("kaboom") },
			WithScope())
	})

	span := backend.spans[0]
	require.Len(t, span.errs, 1)
	var pe *PanicError
	require.ErrorAs(t, span.errs[0], &pe)
	assert.Equal(t, "kaboom", pe.Value)
	assert.Equal(t, 1, span.ends)
	assert.Equal(t, 1, span.detaches)
}

func TestTraceAttributeFailureStillCleansUp(t *testing.T) {
	backend := &attrPanicBackend{}
	tracer := New(backend, propagation.TraceContext{})

	assert.Panics(t, func() {
		_, _, _ = Trace(context.Background(), tracer, "op",
			func(context.Context, Span) (int, error) { return 1, nil },
			WithScope())
	})

	span := backend.span
	assert.Equal(t, 1, span.ends)
	assert.Equal(t, 1, span.detaches)
}

type attrPanicBackend struct {
	span *spySpan
}

func (b *attrPanicBackend) Start(parent context.Context, name string, opts StartOptions) Span {
	b.span = &spySpan{startName: name, opts: opts, parent: parent, attrPanics: true}
	return b.span
}

func TestTraceEndFailureSurfacesOnSuccess(t *testing.T) {
	backend := &endPanicBackend{}
	tracer := New(backend, propagation.TraceContext{})

	_, _, err := Trace(context.Background(), tracer, "op",
		func(context.Context, Span) (int, error) { return 1, nil },
		WithScope())

	var ce *CleanupError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "end", ce.Step)
	assert.Equal(t, "op", ce.Span)
	assert.Equal(t, 1, backend.span.detaches, "detach must run even when End fails")
}

func TestTracePassiveCleanupKeepsSuccess(t *testing.T) {
	backend := &endPanicBackend{}
	tracer := New(backend, propagation.TraceContext{})

	got, _, err := Trace(context.Background(), tracer, "op",
		func(context.Context, Span) (int, error) { return 1, nil },
		WithScope(), WithPassiveCleanup())

	require.NoError(t, err)
	assert.Equal(t, 1, got)
	assert.Equal(t, 1, backend.span.ends)
	assert.Equal(t, 1, backend.span.detaches)
}

func TestTraceEndFailureDoesNotMaskBodyError(t *testing.T) {
	backend := &endPanicBackend{}
	tracer := New(backend, propagation.TraceContext{})
	boom := errors.New("boom")

	_, _, err := Trace(context.Background(), tracer, "op",
		func(context.Context, Span) (int, error) { return 0, boom })

	assert.True(t, err == boom)
}

type endPanicBackend struct {
	span *spySpan
}

func (b *endPanicBackend) Start(parent context.Context, name string, opts StartOptions) Span {
	b.span = &spySpan{startName: name, opts: opts, parent: parent, endPanics: true}
	return b.span
}

func TestTraceSetsNormalizedAttributes(t *testing.T) {
	tracer, backend := newSpyTracer()

	_, _, err := Trace(context.Background(), tracer, "op",
		func(context.Context, Span) (int, error) { return 0, nil },
		WithAttributes(
			Attribute("test", []string{"a", "b", "c"}),
			Attribute("single", []int{7}),
			Attribute("", "dropped"),
		))

	require.NoError(t, err)
	require.Len(t, backend.spans[0].attrs, 1)
	assert.Equal(t, []Attr{
		{Key: "test", Value: []any{"a", "b", "c"}},
		{Key: "single", Value: int64(7)},
	}, backend.spans[0].attrs[0])
}

func TestTracePassesStartOptions(t *testing.T) {
	tracer, backend := newSpyTracer()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := Trace(context.Background(), tracer, "op",
		func(context.Context, Span) (int, error) { return 0, nil },
		WithSpanKind(trace.SpanKindClient),
		WithStartTime(start))

	require.NoError(t, err)
	assert.Equal(t, StartOptions{Kind: trace.SpanKindClient, StartTime: start}, backend.spans[0].opts)
}

func TestTraceWithoutContextUsesCallerParent(t *testing.T) {
	tracer, backend := newSpyTracer()
	ctx := context.WithValue(context.Background(), markerKey{}, "marker")

	_, _, err := Trace(ctx, tracer, "op",
		func(context.Context, Span) (int, error) { return 0, nil })

	require.NoError(t, err)
	assert.Equal(t, "marker", backend.spans[0].parent.Value(markerKey{}))
	assert.False(t, trace.SpanContextFromContext(backend.spans[0].parent).IsValid())
}

type markerKey struct{}

func TestTraceWithContextExtractsParent(t *testing.T) {
	base, backend := newSpyTracer()
	tracer := base.WithContext(map[string]string{"traceparent": remoteParent})

	_, _, err := Trace(context.Background(), tracer, "op",
		func(context.Context, Span) (int, error) { return 0, nil })

	require.NoError(t, err)
	parent := trace.SpanContextFromContext(backend.spans[0].parent)
	require.True(t, parent.IsValid())
	assert.True(t, parent.IsRemote())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", parent.TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", parent.SpanID().String())
}

func TestTraceReturnsSpanContext(t *testing.T) {
	tracer, backend := newSpyTracer()

	_, spanCtx, err := Trace(context.Background(), tracer, "op",
		func(context.Context, Span) (int, error) { return 0, nil })

	require.NoError(t, err)
	sc := backend.spans[0].sc
	want := "00-" + sc.TraceID().String() + "-" + sc.SpanID().String() + "-01"
	got, ok := spanCtx.Get("traceparent")
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, spanCtx, tracer.ContextOf(backend.spans[0]))
}

func TestTraceReturnsSpanContextOnFailure(t *testing.T) {
	tracer, _ := newSpyTracer()

	_, spanCtx, err := Trace(context.Background(), tracer, "op",
		func(context.Context, Span) (int, error) { return 0, errors.New("x") })

	require.Error(t, err)
	assert.False(t, spanCtx.IsEmpty())
}

func TestWithContextFiltersCarrier(t *testing.T) {
	base, _ := newSpyTracer()

	tracer := base.WithContext(map[string]string{
		"Traceparent": remoteParent,
		"tracestate":  "vendor=1",
		"x-noise":     "dropped",
		"workflowID":  "dropped",
	})

	assert.Equal(t, map[string]string{
		"Traceparent": remoteParent,
		"tracestate":  "vendor=1",
	}, tracer.Context().Map())
	assert.True(t, base.Context().IsEmpty(), "base tracer must be unchanged")
}

func TestWithContextEmptyCarrier(t *testing.T) {
	base, _ := newSpyTracer()

	assert.True(t, base.WithContext(nil).Context().IsEmpty())
	assert.True(t, base.WithContext(map[string]string{"noise": "x"}).Context().IsEmpty())
	assert.Equal(t, map[string]string{}, base.Context().Map())
}

func TestMixedCaseContextStillExtracts(t *testing.T) {
	base, backend := newSpyTracer()
	tracer := base.WithContext(map[string]string{"TRACEPARENT": remoteParent})

	_, _, err := Trace(context.Background(), tracer, "op",
		func(context.Context, Span) (int, error) { return 0, nil })

	require.NoError(t, err)
	assert.True(t, trace.SpanContextFromContext(backend.spans[0].parent).IsValid())
}

func TestTracerWithClock(t *testing.T) {
	clock := clockz.NewFakeClock()
	tracer, _ := newSpyTracer()

	clocked := tracer.WithClock(clock)
	assert.Equal(t, clock.Now(), clocked.Now())

	clock.Advance(time.Minute)
	assert.Equal(t, clock.Now(), clocked.Now())
}
