package main

import (
	"fmt"
	"log/slog"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/zoobzio/flowtrace/internal/config"
	"github.com/zoobzio/flowtrace/internal/logging"
)

// options holds the persistent flags shared by every subcommand.
type options struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "flowtrace",
		Short: "Trace workflow client calls, activities and outbound requests",
		Long: `flowtrace propagates trace context across workflow boundaries.

Configuration is read from a TOML file (--config) and FLOWTRACE_* environment
variables, which take precedence over the file.`,
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "flowtrace.toml", "Path to the TOML configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(newDemoCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	root.AddCommand(newValidateCmd(opts))
	return root
}

// load reads and validates the effective configuration.
func (o *options) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	return logging.New(logging.Config{
		Output: cmd.ErrOrStderr(),
		Format: logging.ParseFormat(cfg.Log.Format),
		Level:  logging.ParseLevel(cfg.Log.Level),
	})
}

func newConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	}
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration without running anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := opts.load(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration ok")
			return nil
		},
	}
}
