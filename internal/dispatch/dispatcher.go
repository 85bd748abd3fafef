// Package dispatch forwards subscription deliveries to external systems.
//
// Alert dispatchers and sink exporters are both subscription clients. They
// share the Deliverer capability and one retry policy; they differ only in
// their predicate, replay position and attempt bound.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/parkflow/internal/carpark"
	"github.com/roach88/parkflow/internal/metrics"
	"github.com/roach88/parkflow/internal/query"
	"github.com/roach88/parkflow/internal/telemetry"
)

// Deliverer sends one event to an external system.
type Deliverer interface {
	Name() string
	Deliver(ctx context.Context, ev carpark.Event) error
}

// Policy bounds retries of a failed delivery.
type Policy struct {
	// MaxAttempts is the total number of tries per event. Zero retries until
	// the delivery succeeds or the dispatcher stops.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultAlertPolicy is the retry policy for notifications.
var DefaultAlertPolicy = Policy{
	MaxAttempts:     5,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     30 * time.Second,
}

// DefaultExportPolicy retries exports until they succeed.
var DefaultExportPolicy = Policy{
	MaxAttempts:     0,
	InitialInterval: time.Second,
	MaxInterval:     time.Minute,
}

func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// Dispatcher drains one subscription into a Deliverer.
type Dispatcher struct {
	engine    *query.Engine
	deliverer Deliverer
	pred      carpark.Predicate
	from      query.ReplayFrom
	policy    Policy

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewAlert creates a dispatcher that notifies on live events matching pred.
// Notifications that still fail after policy.MaxAttempts are dropped.
func NewAlert(engine *query.Engine, pred carpark.Predicate, d Deliverer, policy Policy, m *metrics.Metrics) *Dispatcher {
	return newDispatcher(engine, pred, query.Latest, d, policy, m)
}

// NewExporter creates a dispatcher that forwards every event, replaying the
// whole event log first. Delivery is at-least-once.
func NewExporter(engine *query.Engine, d Deliverer, policy Policy, m *metrics.Metrics) *Dispatcher {
	return newDispatcher(engine, carpark.Any(), query.Earliest, d, policy, m)
}

func newDispatcher(engine *query.Engine, pred carpark.Predicate, from query.ReplayFrom, d Deliverer, policy Policy, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		engine:    engine,
		deliverer: d,
		pred:      pred,
		from:      from,
		policy:    policy,
		logger:    slog.Default().With("component", "dispatch", "deliverer", d.Name()),
		metrics:   m,
		tracer:    telemetry.Tracer("dispatch"),
	}
}

// Run subscribes and delivers until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	sub := d.engine.Subscribe(ctx, d.pred, d.from)
	defer sub.Close()
	d.logger.Info("dispatcher started", "subscription", sub.ID, "from", d.from.String())

	for {
		del, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, query.ErrSubscriptionClosed) {
				return nil
			}
			return err
		}
		d.Deliver(ctx, del.Event)
	}
}

// Deliver sends ev with retries and reports whether it was delivered.
// A delivery that exhausts its attempts is logged, counted and dropped.
func (d *Dispatcher) Deliver(ctx context.Context, ev carpark.Event) bool {
	ctx, span := d.tracer.Start(ctx, "dispatch.deliver", trace.WithAttributes(
		attribute.String("parkflow.deliverer", d.deliverer.Name()),
		attribute.String("parkflow.carpark", ev.Name),
		attribute.Int64("parkflow.offset", ev.Offset),
	))
	defer span.End()

	start := time.Now()
	attempts := 0
	op := func() (struct{}, error) {
		attempts++
		if err := d.deliverer.Deliver(ctx, ev); err != nil {
			return struct{}{}, carpark.NewDispatchError(ev.Name, ev.Offset, err)
		}
		return struct{}{}, nil
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(d.policy.backOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			d.logger.Debug("delivery retry", "name", ev.Name, "offset", ev.Offset, "wait", wait, "error", err)
		}),
	}
	if d.policy.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(d.policy.MaxAttempts)))
	}

	_, err := backoff.Retry(ctx, op, opts...)
	elapsed := time.Since(start).Seconds()
	if err == nil {
		d.metrics.Delivered(d.deliverer.Name(), "ok", elapsed)
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "delivery dropped")
	d.metrics.Delivered(d.deliverer.Name(), "dropped", elapsed)
	d.logger.Error("delivery dropped", "name", ev.Name, "offset", ev.Offset, "attempts", attempts, "error", err)
	return false
}
