package otelbackend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zoobzio/flowtrace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Span exporter kinds.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
	ExporterNone   = "none"
)

// Config selects how spans and metrics leave the process.
//
//nolint:govet // Field order follows the configuration file
type Config struct {
	ServiceName string
	Exporter    string
	Endpoint    string
	Insecure    bool
	// Sync exports each span as it ends instead of batching. Every traced
	// call then waits for the exporter.
	Sync    bool
	Baggage bool
	Metrics bool

	// Writer receives stdout exporter output. Defaults to os.Stdout.
	Writer io.Writer
	// SpanExporter replaces the exporter named by Exporter.
	SpanExporter sdktrace.SpanExporter
	// MetricReader replaces the OTLP metric reader. Setting it enables metrics.
	MetricReader sdkmetric.Reader
}

// Provider owns the SDK providers built by Setup.
type Provider struct {
	backend        *Backend
	propagator     propagation.TextMapPropagator
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// Setup builds trace and metric providers from cfg.
// Call Shutdown on exit to flush pending spans.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}

	exporter, err := spanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		if cfg.Sync {
			tpOpts = append(tpOpts, sdktrace.WithSyncer(exporter))
		} else {
			tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
		}
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	p := &Provider{
		propagator:     newPropagator(cfg.Baggage),
		tracerProvider: tp,
	}

	reader, err := metricReader(ctx, cfg)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	var opts []Option
	if reader != nil {
		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(reader),
			sdkmetric.WithResource(res),
		)
		metrics, err := NewMetrics(p.meterProvider)
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("creating span metrics: %w", err)
		}
		opts = append(opts, WithMetrics(metrics))
	}

	p.backend = New(tp, opts...)
	return p, nil
}

func spanExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	if cfg.SpanExporter != nil {
		return cfg.SpanExporter, nil
	}

	switch cfg.Exporter {
	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLP:
		var opts []otlptracehttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating otlp exporter: %w", err)
		}
		return exp, nil
	case ExporterNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown exporter %q", cfg.Exporter)
	}
}

// metricReader returns nil when metrics are off or there is nowhere to send them.
func metricReader(ctx context.Context, cfg Config) (sdkmetric.Reader, error) {
	if cfg.MetricReader != nil {
		return cfg.MetricReader, nil
	}
	if !cfg.Metrics || cfg.Exporter != ExporterOTLP {
		return nil, nil
	}

	var opts []otlpmetrichttp.Option
	if cfg.Endpoint != "" {
		opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating otlp metric exporter: %w", err)
	}
	return sdkmetric.NewPeriodicReader(exp), nil
}

func newPropagator(baggage bool) propagation.TextMapPropagator {
	if baggage {
		return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	}
	return propagation.TraceContext{}
}

// Backend returns the flowtrace backend.
func (p *Provider) Backend() *Backend { return p.backend }

// Propagator returns the configured codec.
func (p *Provider) Propagator() flowtrace.Codec { return p.propagator }

// Tracer returns a base tracer on this provider.
func (p *Provider) Tracer() *flowtrace.Tracer {
	return flowtrace.New(p.backend, p.propagator)
}

// Register installs the providers and propagator as the OpenTelemetry globals.
func (p *Provider) Register() {
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(p.propagator)
	if p.meterProvider != nil {
		otel.SetMeterProvider(p.meterProvider)
	}
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var mpErr error
	if p.meterProvider != nil {
		mpErr = p.meterProvider.Shutdown(ctx)
	}
	return errors.Join(p.tracerProvider.Shutdown(ctx), mpErr)
}
