package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/parkflow/internal/carpark"
	"github.com/roach88/parkflow/internal/query"
)

// QueryOptions holds flags for commands that talk to the API.
type QueryOptions struct {
	*RootOptions
	Addr   string
	Filter filterFlags
	From   string
}

func (o *QueryOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout(), Verbose: o.Verbose}
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Show the latest state of one car park",
		Long: `Look up the latest known state of a car park by name.

Exit codes:
  0 - Car park found
  2 - Car park not found, or the API is unreachable

Examples:
  parkflow get "Kirkgate Centre"
  parkflow get Westgate --addr localhost:9090 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(opts, args[0], cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", defaultAPIAddr, "API server address")
	return cmd
}

func runGet(opts *QueryOptions, name string, cmd *cobra.Command) error {
	ctx, cancel := requestTimeout(cmd)
	defer cancel()

	out := opts.formatter(cmd)
	st, err := newAPIClient(opts.Addr).State(ctx, name)
	if carpark.IsNotFound(err) {
		_ = out.Error(string(carpark.ErrCodeNotFound), "car park not found: "+name, nil)
		return NewExitError(ExitCommandError, "car park not found: "+name)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "lookup failed", err)
	}
	return out.Success(st, func(w io.Writer) error { return renderState(w, st) })
}

// NewSelectCommand creates the select command.
func NewSelectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "select",
		Short: "List the current state of matching car parks",
		Long: `Run a snapshot query over the materialized table.

Examples:
  parkflow select
  parkflow select --min-empty 10
  parkflow select --status Spaces --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelect(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", defaultAPIAddr, "API server address")
	opts.Filter.register(cmd)
	return cmd
}

func runSelect(opts *QueryOptions, cmd *cobra.Command) error {
	ctx, cancel := requestTimeout(cmd)
	defer cancel()

	states, err := newAPIClient(opts.Addr).Select(ctx, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "select failed", err)
	}
	if states == nil {
		states = []carpark.CarparkState{}
	}
	return opts.formatter(cmd).Success(states, func(w io.Writer) error { return renderStates(w, states) })
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream matching events as they arrive",
		Long: `Open a live subscription and print every matching event until
interrupted. With --from earliest the whole event history is replayed
first, then live events follow without gaps or duplicates.

Examples:
  parkflow watch --name "Kirkgate Centre"
  parkflow watch --from earliest --min-empty 1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", defaultAPIAddr, "API server address")
	cmd.Flags().StringVar(&opts.From, "from", "latest", "replay position (latest|earliest)")
	opts.Filter.register(cmd)
	return cmd
}

func runWatch(opts *QueryOptions, cmd *cobra.Command) error {
	from, err := query.ParseReplayFrom(opts.From)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --from", err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := opts.formatter(cmd)
	err = newAPIClient(opts.Addr).Stream(ctx, opts.Filter, from.String(), func(row carpark.Row) bool {
		if err := out.Success(row, func(w io.Writer) error { return renderRow(w, row) }); err != nil {
			return false
		}
		return true
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitCommandError, "watch failed", err)
	}
	return nil
}
