package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/roach88/parkflow/internal/carpark"
	"github.com/roach88/parkflow/internal/eventlog"
	"github.com/roach88/parkflow/internal/pipeline"
	"github.com/roach88/parkflow/internal/store"
	"github.com/roach88/parkflow/internal/transform"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	From     int64
	TimeZone string
	Source   string
}

// ReplayResult holds the outcome of a determinism check.
type ReplayResult struct {
	From          int64    `json:"from"`
	Tail          int64    `json:"tail"`
	Events        int      `json:"events"`
	Errors        int      `json:"errors"`
	ErrorMessages []string `json:"error_messages,omitempty"`
	Deterministic bool     `json:"deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-derive events from the raw log and verify determinism",
		Long: `Run the transformer twice over the stored raw log without writing
anything and verify that both runs yield identical event sequences.

Exit codes:
  0 - Replay is deterministic
  1 - Determinism verification failed (differences detected)
  2 - Command error (database not found, etc.)

Examples:
  parkflow replay --db ./parkflow.db
  parkflow replay --db ./parkflow.db --from 1200 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().Int64Var(&opts.From, "from", 0, "first raw offset to replay")
	cmd.Flags().StringVar(&opts.TimeZone, "time-zone", transform.DefaultTimeZone, "zone the feed's local times are read in")
	cmd.Flags().StringVar(&opts.Source, "source", transform.DefaultSource, "lineage tag stamped on derived events")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.From < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--from must not be negative, got %d", opts.From))
	}
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}
	loc, err := transform.LoadLocation(opts.TimeZone)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid time zone", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	raw, err := eventlog.Open[carpark.RawRecord](ctx, pipeline.RawLog,
		eventlog.NewSQLiteBackend(st, pipeline.RawLog), eventlog.JSONCodec[carpark.RawRecord]{})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open raw log", err)
	}
	defer raw.Close()

	cfg := transform.Config{Location: loc, Source: opts.Source}
	result, err := replayTwice(ctx, raw, opts.From, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// replayTwice derives the raw log twice and compares the runs.
func replayTwice(ctx context.Context, raw *eventlog.Log[carpark.RawRecord], from int64, cfg transform.Config) (ReplayResult, error) {
	events1, errs1, err := transform.Replay(ctx, raw, from, cfg)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("first replay failed: %w", err)
	}
	events2, errs2, err := transform.Replay(ctx, raw, from, cfg)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("second replay failed: %w", err)
	}

	msgs1, msgs2 := errorMessages(errs1), errorMessages(errs2)
	return ReplayResult{
		From:          from,
		Tail:          raw.LastOffset(),
		Events:        len(events1),
		Errors:        len(errs1),
		ErrorMessages: msgs1,
		Deterministic: reflect.DeepEqual(events1, events2) && reflect.DeepEqual(msgs1, msgs2),
	}, nil
}

func errorMessages(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}

func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}
	if !result.Deterministic {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_DETERMINISM",
			Message: "determinism verification failed",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.Deterministic {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	if result.Tail < result.From {
		fmt.Fprintf(w, "Nothing to replay from offset %d (raw log tail %d).\n", result.From, result.Tail)
	} else {
		fmt.Fprintf(w, "Replayed raw offsets %d..%d: %d event(s), %d error(s)\n",
			result.From, result.Tail, result.Events, result.Errors)
	}
	if verbose {
		for _, msg := range result.ErrorMessages {
			fmt.Fprintf(w, "  skipped: %s\n", msg)
		}
	}

	if result.Deterministic {
		fmt.Fprintln(w, "✓ Replay verified deterministic")
		return nil
	}

	fmt.Fprintln(w, "✗ Determinism verification failed")
	return NewExitError(ExitFailure, "determinism verification failed")
}
