// Package transform derives typed Events from raw feed records.
//
// The Transformer reads the raw log in offset order, runs Derive on each
// record and appends the result to the event log. Records that cannot be
// derived are skipped and published on Errors(); they are never retried
// because the input is immutable.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "time/tzdata" // Europe/London must resolve on hosts without zoneinfo

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/parkflow/internal/carpark"
	"github.com/roach88/parkflow/internal/eventlog"
	"github.com/roach88/parkflow/internal/metrics"
	"github.com/roach88/parkflow/internal/telemetry"
)

const (
	// DefaultSource is the lineage tag stamped on derived events.
	DefaultSource = "parkflow-transform/v1"

	// DefaultTimeZone is the zone the feed's local date and time are read in.
	DefaultTimeZone = "Europe/London"

	// Consumer is the checkpoint name of the transformer.
	Consumer = "transformer"

	defaultErrorBuffer = 64
)

// Config holds Transformer settings. Zero values select defaults.
type Config struct {
	Location    *time.Location
	Source      string
	ErrorBuffer int
}

// Transformer moves records from the raw log to the event log.
type Transformer struct {
	raw         *eventlog.Log[carpark.RawRecord]
	events      *eventlog.Log[carpark.Event]
	checkpoints eventlog.Checkpoints
	loc         *time.Location
	source      string
	errs        chan error
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

// New creates a Transformer. m may be nil.
func New(raw *eventlog.Log[carpark.RawRecord], events *eventlog.Log[carpark.Event], cp eventlog.Checkpoints, cfg Config, m *metrics.Metrics) *Transformer {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}
	if cfg.ErrorBuffer <= 0 {
		cfg.ErrorBuffer = defaultErrorBuffer
	}
	return &Transformer{
		raw:         raw,
		events:      events,
		checkpoints: cp,
		loc:         cfg.Location,
		source:      cfg.Source,
		errs:        make(chan error, cfg.ErrorBuffer),
		logger:      slog.Default().With("component", "transformer"),
		metrics:     m,
		tracer:      telemetry.Tracer("transform"),
	}
}

// Errors returns the side channel of skipped-record errors.
// The channel is bounded; errors are discarded when nobody drains it.
func (t *Transformer) Errors() <-chan error {
	return t.errs
}

// ResumePoint returns the raw offset the next run starts at.
//
// The checkpoint can lag the event log by one record if the process stopped
// between an append and the checkpoint write, so the tail event's source
// offset is consulted too.
func (t *Transformer) ResumePoint(ctx context.Context) (int64, error) {
	next, _, err := t.checkpoints.Checkpoint(ctx, Consumer)
	if err != nil {
		return 0, carpark.NewStorageError("read transformer checkpoint", err)
	}

	last := t.events.LastOffset()
	if last < 0 {
		return next, nil
	}
	tail, err := t.events.Read(ctx, last, 1)
	if err != nil {
		return 0, err
	}
	if len(tail) == 1 && tail[0].Value.SourceOffset+1 > next {
		next = tail[0].Value.SourceOffset + 1
	}
	return next, nil
}

// Run consumes the raw log until ctx is cancelled.
// Returns nil on cancellation and an error only when a log append or
// checkpoint write fails.
func (t *Transformer) Run(ctx context.Context) error {
	start, err := t.ResumePoint(ctx)
	if err != nil {
		return err
	}
	t.logger.Info("transformer started", "from", start)

	cur := t.raw.Cursor(start)
	defer cur.Close()

	for {
		entry, err := cur.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, eventlog.ErrClosed) {
				return nil
			}
			return err
		}
		if err := t.process(ctx, entry.Value); err != nil {
			return err
		}
	}
}

func (t *Transformer) process(ctx context.Context, raw carpark.RawRecord) error {
	ctx, span := t.tracer.Start(ctx, "transform.record",
		trace.WithAttributes(attribute.Int64("parkflow.raw_offset", raw.Offset)))
	defer span.End()

	ev, err := Derive(raw, t.loc, t.source)
	if err != nil {
		t.reject(raw, err)
	} else {
		offset, err := t.events.Append(ctx, ev)
		if err != nil {
			return fmt.Errorf("append event for raw offset %d: %w", raw.Offset, err)
		}
		t.metrics.EventEmitted()
		t.metrics.LogAppended(t.events.Name(), offset)
		t.logger.Debug("event appended", "name", ev.Name, "offset", offset, "source_offset", raw.Offset)
	}

	if err := t.checkpoints.SaveCheckpoint(ctx, Consumer, raw.Offset+1); err != nil {
		return carpark.NewStorageError("save transformer checkpoint", err)
	}
	return nil
}

func (t *Transformer) reject(raw carpark.RawRecord, err error) {
	code := string(carpark.ErrCodeTransform)
	var cerr *carpark.Error
	if errors.As(err, &cerr) {
		code = string(cerr.Code)
	}
	t.metrics.TransformFailed(code)
	t.metrics.RecordsDropped("transform", 1)
	t.logger.Warn("record skipped", "offset", raw.Offset, "error", err)

	select {
	case t.errs <- err:
	default:
	}
}

// Replay derives events for every raw record in [from, tail] without
// writing anything. Two replays over the same log return equal results.
func Replay(ctx context.Context, raw *eventlog.Log[carpark.RawRecord], from int64, cfg Config) ([]carpark.Event, []error, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}

	var (
		events []carpark.Event
		errs   []error
	)
	tail := raw.LastOffset()
	for next := from; next <= tail; {
		batch, err := raw.Read(ctx, next, 256)
		if err != nil {
			return nil, nil, err
		}
		if len(batch) == 0 {
			break
		}
		for _, e := range batch {
			if e.Offset > tail {
				return events, errs, nil
			}
			ev, err := Derive(e.Value, cfg.Location, cfg.Source)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			events = append(events, ev)
		}
		next = batch[len(batch)-1].Offset + 1
	}
	return events, errs, nil
}

// LoadLocation resolves a time zone name, defaulting to DefaultTimeZone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimeZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", name, err)
	}
	return loc, nil
}
