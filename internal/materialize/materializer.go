// Package materialize maintains the latest state of every car park from the
// event log.
//
// Merges follow last-offset-wins: an event replaces the state for its key
// only when its offset is greater than the state's LastOffset. Events
// arriving out of order can therefore never regress a key.
package materialize

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/parkflow/internal/carpark"
	"github.com/roach88/parkflow/internal/eventlog"
	"github.com/roach88/parkflow/internal/metrics"
)

// Consumer is the checkpoint name of the materializer.
const Consumer = "materializer"

// StateStore persists accepted states together with the materializer
// checkpoint. *store.Store implements it.
type StateStore interface {
	ApplyState(ctx context.Context, consumer string, st carpark.CarparkState, next int64) (bool, error)
	LoadStates(ctx context.Context) ([]carpark.CarparkState, error)
	Checkpoint(ctx context.Context, consumer string) (int64, bool, error)
}

// Materializer applies events from the event log to a Table.
type Materializer struct {
	events  *eventlog.Log[carpark.Event]
	table   *Table
	store   StateStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Materializer. store and m may be nil; without a store the
// table is rebuilt from offset 0 on every start.
func New(events *eventlog.Log[carpark.Event], table *Table, store StateStore, m *metrics.Metrics) *Materializer {
	return &Materializer{
		events:  events,
		table:   table,
		store:   store,
		logger:  slog.Default().With("component", "materializer"),
		metrics: m,
	}
}

// Table returns the table the materializer writes.
func (m *Materializer) Table() *Table {
	return m.table
}

// Restore loads persisted states into the table and returns the event offset
// consumption resumes at.
func (m *Materializer) Restore(ctx context.Context) (int64, error) {
	if m.store == nil {
		return 0, nil
	}

	states, err := m.store.LoadStates(ctx)
	if err != nil {
		return 0, carpark.NewStorageError("load materialized states", err)
	}
	for _, st := range states {
		m.table.apply(st)
	}

	next, _, err := m.store.Checkpoint(ctx, Consumer)
	if err != nil {
		return 0, carpark.NewStorageError("read materializer checkpoint", err)
	}
	m.logger.Info("table restored", "keys", len(states), "from", next)
	return next, nil
}

// Run consumes the event log until ctx is cancelled.
// Returns nil on cancellation; a MaterializeError or storage failure ends
// the run.
func (m *Materializer) Run(ctx context.Context) error {
	from, err := m.Restore(ctx)
	if err != nil {
		return err
	}

	cur := m.events.Cursor(from)
	defer cur.Close()

	for {
		entry, err := cur.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, eventlog.ErrClosed) {
				return nil
			}
			return err
		}
		if _, err := m.Apply(ctx, entry.Value); err != nil {
			m.logger.Error("materialize failed", "offset", entry.Offset, "error", err)
			return err
		}
	}
}

// Apply merges one event into the table. Reports whether the event replaced
// the stored state.
func (m *Materializer) Apply(ctx context.Context, ev carpark.Event) (bool, error) {
	if ev.Name == "" {
		return false, carpark.NewMaterializeError(ev.Offset, "event has no key")
	}

	st := carpark.StateFromEvent(ev)
	accepted := m.table.apply(st)

	if m.store != nil {
		if _, err := m.store.ApplyState(ctx, Consumer, st, ev.Offset+1); err != nil {
			return false, carpark.NewStorageError("persist state", err)
		}
	}

	m.metrics.StateApplied(accepted, m.table.Len())
	if !accepted {
		m.logger.Debug("stale event discarded", "name", ev.Name, "offset", ev.Offset)
	}
	return accepted, nil
}
