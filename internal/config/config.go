// Package config loads flowtrace settings from defaults, a TOML file and
// FLOWTRACE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Exporter kinds accepted in [exporter] kind.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
	ExporterNone   = "none"
)

// Config is the full flowtrace configuration.
type Config struct {
	Service     ServiceConfig     `toml:"service"`
	Exporter    ExporterConfig    `toml:"exporter"`
	Propagation PropagationConfig `toml:"propagation"`
	Metrics     MetricsConfig     `toml:"metrics"`
	Log         LogConfig         `toml:"log"`
}

// ServiceConfig names the service on exported spans.
type ServiceConfig struct {
	Name string `toml:"name"`
}

// ExporterConfig selects where spans are sent.
// Sync exports every span as it ends, adding exporter latency to each traced call.
type ExporterConfig struct {
	Kind     string `toml:"kind"`
	Endpoint string `toml:"endpoint"`
	Insecure bool   `toml:"insecure"`
	Sync     bool   `toml:"sync"`
}

// PropagationConfig selects the propagators beyond W3C trace context.
type PropagationConfig struct {
	Baggage bool `toml:"baggage"`
}

// MetricsConfig enables span metrics export.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file or env overrides it.
func Default() Config {
	return Config{
		Service:  ServiceConfig{Name: "flowtrace"},
		Exporter: ExporterConfig{Kind: ExporterStdout},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("FLOWTRACE_SERVICE_NAME"); v != "" {
		cfg.Service.Name = v
	}
	if v := os.Getenv("FLOWTRACE_EXPORTER_KIND"); v != "" {
		cfg.Exporter.Kind = v
	}
	if v := os.Getenv("FLOWTRACE_EXPORTER_ENDPOINT"); v != "" {
		cfg.Exporter.Endpoint = v
	}
	if v := os.Getenv("FLOWTRACE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("FLOWTRACE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	flags := []struct {
		target *bool
		name   string
	}{
		{&cfg.Exporter.Insecure, "FLOWTRACE_EXPORTER_INSECURE"},
		{&cfg.Exporter.Sync, "FLOWTRACE_EXPORTER_SYNC"},
		{&cfg.Propagation.Baggage, "FLOWTRACE_PROPAGATION_BAGGAGE"},
		{&cfg.Metrics.Enabled, "FLOWTRACE_METRICS_ENABLED"},
	}
	for _, f := range flags {
		v := os.Getenv(f.name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.target = b
	}
	return nil
}

// Validate reports settings no component can act on.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Service.Name) == "" {
		errs = append(errs, errors.New("service.name is required"))
	}
	switch c.Exporter.Kind {
	case ExporterStdout, ExporterOTLP, ExporterNone:
	default:
		errs = append(errs, fmt.Errorf("exporter.kind %q: want stdout, otlp or none", c.Exporter.Kind))
	}
	if c.Exporter.Endpoint != "" && c.Exporter.Kind != ExporterOTLP {
		errs = append(errs, errors.New("exporter.endpoint is only used by the otlp exporter"))
	}
	return errors.Join(errs...)
}
