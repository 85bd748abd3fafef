package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/parkflow/internal/api"
	"github.com/roach88/parkflow/internal/config"
	"github.com/roach88/parkflow/internal/metrics"
	"github.com/roach88/parkflow/internal/pipeline"
	"github.com/roach88/parkflow/internal/telemetry"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config   string
	Database string
	Addr     string

	// PipelineOptions are passed to pipeline.New (for testing).
	PipelineOptions []pipeline.Option
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the pipeline and API server",
		Long: `Start polling the occupancy feed and serve the API.

Settings come from the optional YAML file, then PARKFLOW_* environment
variables (a .env file is read when present), then these flags. Without a
database path every log is kept in memory.

Example:
  parkflow run --config parkflow.yaml
  parkflow run --db ./parkflow.db --addr :9090 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "API listen address (overrides config)")

	return cmd
}

func runPipeline(opts *RunOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up tracing", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("error shutting down tracing", "error", err)
		}
	}()

	m := metrics.New()
	p, err := pipeline.New(ctx, cfg, m, opts.PipelineOptions...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build pipeline", err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			slog.Error("error closing pipeline", "error", err)
		}
	}()

	srv := api.New(cfg.Server.Addr, p.Query(),
		api.WithMetrics(m),
		api.WithRecentErrors(p.RecentErrors),
		api.WithHealthCheck(p.Ping),
	)

	slog.Info("pipeline starting",
		"feed", cfg.Feed.URL,
		"db", cfg.Database.Path,
		"addr", cfg.Server.Addr,
		"interval", cfg.Feed.Interval.String(),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s. Press Ctrl-C to stop.\n", cfg.Server.Addr)

	if err := p.Run(ctx, srv.Run); err != nil {
		return WrapExitError(ExitFailure, "pipeline error", err)
	}

	slog.Info("pipeline stopped gracefully")
	return nil
}
