// Package poller fetches the external feed on a schedule and appends its rows
// to the raw log.
//
// Poll failures are transient: they are logged and the next tick tries
// again. A raw log append failure is fatal and ends Run.
package poller

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/parkflow/internal/carpark"
	"github.com/roach88/parkflow/internal/eventlog"
	"github.com/roach88/parkflow/internal/metrics"
	"github.com/roach88/parkflow/internal/telemetry"
)

// DefaultInterval is the time between polls.
const DefaultInterval = 180 * time.Second

// Config holds Poller settings.
type Config struct {
	Interval time.Duration

	// Dedup drops a row identical to the previous row seen for its key.
	Dedup bool
}

// Result summarises one poll.
type Result struct {
	BatchID    string
	Fetched    int
	Appended   int
	Dropped    int
	Duplicates int
}

// Poller moves feed rows into the raw log.
type Poller struct {
	source  Source
	raw     *eventlog.Log[carpark.RawRecord]
	cfg     Config
	last    map[string]string // key -> previous row, when deduplicating
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// New creates a Poller. m may be nil.
func New(source Source, raw *eventlog.Log[carpark.RawRecord], cfg Config, m *metrics.Metrics) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Poller{
		source:  source,
		raw:     raw,
		cfg:     cfg,
		last:    make(map[string]string),
		logger:  slog.Default().With("component", "poller"),
		metrics: m,
		tracer:  telemetry.Tracer("poller"),
	}
}

// Run polls once immediately and then on every interval until ctx is
// cancelled. Returns nil on cancellation and an error only when the raw log
// rejects an append.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started", "interval", p.cfg.Interval.String(), "dedup", p.cfg.Dedup)

	if err := p.tick(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				return err
			}
		}
	}
}

// tick runs one poll and decides whether its error is fatal.
func (p *Poller) tick(ctx context.Context) error {
	res, err := p.PollOnce(ctx)
	switch {
	case err == nil:
		p.logger.Info("poll complete",
			"batch", res.BatchID,
			"fetched", res.Fetched,
			"appended", res.Appended,
			"dropped", res.Dropped,
			"duplicates", res.Duplicates,
		)
		return nil
	case ctx.Err() != nil:
		return nil
	case carpark.IsTransient(err):
		p.metrics.PollFailed()
		p.logger.Warn("poll failed", "batch", res.BatchID, "error", err)
		return nil
	default:
		p.logger.Error("raw log append failed", "batch", res.BatchID, "error", err)
		return err
	}
}

// PollOnce fetches the feed and appends every well-formed row in received
// order. Malformed rows are dropped and counted.
func (p *Poller) PollOnce(ctx context.Context) (Result, error) {
	res := Result{BatchID: uuid.Must(uuid.NewV7()).String()}

	ctx, span := p.tracer.Start(ctx, "poll",
		trace.WithAttributes(attribute.String("parkflow.batch_id", res.BatchID)))
	defer span.End()

	records, err := p.source.Fetch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		if !carpark.IsTransient(err) {
			err = carpark.NewPollError("fetch", err)
		}
		return res, err
	}
	res.Fetched = len(records)

	for _, rec := range records {
		if !wellFormed(rec) {
			res.Dropped++
			p.logger.Debug("malformed row dropped", "batch", res.BatchID, "fields", len(rec.Fields))
			continue
		}

		key := carpark.NormalizeKey(rec.Field(carpark.FieldName))
		sig := signature(rec, key)
		if p.cfg.Dedup && p.last[key] == sig {
			res.Duplicates++
			continue
		}

		offset, err := p.raw.Append(ctx, rec)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "append failed")
			return res, err
		}
		p.metrics.LogAppended(p.raw.Name(), offset)
		res.Appended++

		if p.cfg.Dedup {
			p.last[key] = sig
		}
	}

	p.metrics.PollSucceeded(res.Appended)
	p.metrics.RecordsDropped("poll", res.Dropped)
	span.SetAttributes(
		attribute.Int("parkflow.appended", res.Appended),
		attribute.Int("parkflow.dropped", res.Dropped),
	)
	return res, nil
}

// signature identifies a row's content for dedup, with the name in its
// canonical form.
func signature(rec carpark.RawRecord, key string) string {
	fields := slices.Clone(rec.Fields)
	fields[carpark.FieldName] = key
	return strings.Join(fields, "\x1f")
}

// wellFormed reports whether a row has every field and a non-blank key.
func wellFormed(rec carpark.RawRecord) bool {
	return len(rec.Fields) == carpark.FieldCount &&
		strings.TrimSpace(rec.Field(carpark.FieldName)) != ""
}
