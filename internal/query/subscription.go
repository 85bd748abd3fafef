package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/roach88/parkflow/internal/carpark"
	"github.com/roach88/parkflow/internal/eventlog"
)

// Subscription is a live, predicate-filtered view of the event log.
//
// A pump goroutine reads the log and fills a bounded queue; the subscriber
// drains it with Next. Next must be called from one goroutine. Close may be
// called from any goroutine.
type Subscription struct {
	ID string

	// Boundary is the event log tail when the subscription was opened.
	// Deliveries at or below it are replayed history.
	Boundary int64
	From     ReplayFrom

	pred    carpark.Predicate
	queue   *deliveryQueue
	cursor  *eventlog.Cursor[carpark.Event]
	cancel  context.CancelFunc
	stopped chan struct{}
	dropped atomic.Int64
	engine  *Engine

	closeOnce sync.Once
}

// Next returns the next delivery, waiting until one is available.
// Returns ErrSubscriptionClosed once the subscription is closed.
func (s *Subscription) Next(ctx context.Context) (Delivery, error) {
	for {
		if d, ok := s.queue.TryPop(); ok {
			return d, nil
		}

		select {
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case _, ok := <-s.queue.Wait():
			if !ok {
				return Delivery{}, ErrSubscriptionClosed
			}
		}
	}
}

// TryNext returns the next delivery without blocking.
func (s *Subscription) TryNext() (Delivery, bool) {
	return s.queue.TryPop()
}

// Len returns the number of queued deliveries.
func (s *Subscription) Len() int {
	return s.queue.Len()
}

// Dropped returns how many live deliveries were lost to queue overflow.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Done is closed once the subscription has stopped reading the log.
func (s *Subscription) Done() <-chan struct{} {
	return s.stopped
}

// Close stops delivery and releases the log cursor. Queued deliveries are
// discarded. Close is idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.cursor.Close()
		s.queue.Close()
		s.engine.remove(s)
		s.engine.logger.Debug("subscription closed", "id", s.ID, "dropped", s.dropped.Load())
	})
}

func (s *Subscription) pump(ctx context.Context) {
	defer close(s.stopped)
	defer s.Close()

	for {
		entry, err := s.cursor.Next(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, eventlog.ErrClosed) {
				s.engine.logger.Error("subscription read failed", "id", s.ID, "error", err)
			}
			return
		}

		ev := entry.Value
		if !s.pred(ev) {
			continue
		}

		d := Delivery{
			Event:    ev,
			Row:      carpark.EventRow(ev),
			Offset:   entry.Offset,
			Replayed: entry.Offset <= s.Boundary,
		}

		if d.Replayed {
			if !s.queue.PushWait(d, ctx.Done()) {
				return
			}
			continue
		}

		dropped, ok := s.queue.Push(d)
		if !ok {
			return
		}
		if dropped {
			s.dropped.Add(1)
			s.engine.metrics.SubscriptionDropped()
		}
	}
}
