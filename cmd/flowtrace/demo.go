package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/zoobzio/flowtrace"
	"github.com/zoobzio/flowtrace/interceptor"
	"github.com/zoobzio/flowtrace/internal/config"
	"github.com/zoobzio/flowtrace/memtrace"
	"github.com/zoobzio/flowtrace/otelbackend"
)

// Backends selectable with --backend.
const (
	backendOTel   = "otel"
	backendMemory = "memory"
)

func newDemoCmd(opts *options) *cobra.Command {
	var (
		backend string
		work    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a traced workflow start, activity and replay against a simulated host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			switch backend {
			case backendOTel:
				return runOTelDemo(cmd.Context(), cmd.OutOrStdout(), cfg, logger, work)
			case backendMemory:
				return runMemoryDemo(cmd.Context(), cmd.OutOrStdout(), logger, work)
			default:
				return fmt.Errorf("unknown backend %q: want %s or %s", backend, backendOTel, backendMemory)
			}
		},
	}

	cmd.Flags().StringVar(&backend, "backend", backendOTel, "Span backend: otel or memory")
	cmd.Flags().DurationVar(&work, "work", 50*time.Millisecond, "Simulated activity run time")
	return cmd
}

func runOTelDemo(ctx context.Context, out io.Writer, cfg config.Config, logger *slog.Logger, work time.Duration) error {
	provider, err := otelbackend.Setup(ctx, otelbackend.Config{
		ServiceName: cfg.Service.Name,
		Exporter:    cfg.Exporter.Kind,
		Endpoint:    cfg.Exporter.Endpoint,
		Insecure:    cfg.Exporter.Insecure,
		Sync:        cfg.Exporter.Sync,
		Baggage:     cfg.Propagation.Baggage,
		Metrics:     cfg.Metrics.Enabled,
		Writer:      out,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	provider.Register()
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Error("tracing shutdown failed", "error", err)
		}
	}()

	host := &simulatedHost{
		tracing: interceptor.NewTracing(provider.Tracer().WithLogger(logger)),
		logger:  logger,
		work:    work,
	}
	res, err := host.run(ctx)
	if err != nil {
		return err
	}
	logger.Info("demo finished",
		"workflow_id", res.Execution.ID,
		"charge", res.Charge,
		"update_id", res.UpdateID)
	return nil
}

func runMemoryDemo(ctx context.Context, out io.Writer, logger *slog.Logger, work time.Duration) error {
	backend := memtrace.New()
	defer backend.Close()

	collector := memtrace.NewCollector("demo", 256)
	defer collector.Close()
	collector.SetSyncMode(true)
	backend.AddCollector(collector)

	tracer := flowtrace.New(backend, memtrace.Propagator()).WithLogger(logger)
	host := &simulatedHost{
		tracing: interceptor.NewTracing(tracer),
		logger:  logger,
		work:    work,
	}
	if _, err := host.run(ctx); err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	for _, span := range collector.Export() {
		if err := enc.Encode(span); err != nil {
			return fmt.Errorf("writing span: %w", err)
		}
	}
	return nil
}
