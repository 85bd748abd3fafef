// Package query serves snapshot queries over the materialized table and live
// subscriptions over the event log.
//
// A subscription records the event log tail (its boundary) when it is
// opened. Replaying from the earliest offset delivers history up to and
// including the boundary with backpressure, then switches to live delivery
// for everything after it. Because both phases read one cursor there is no
// gap and no duplicate at the seam.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/parkflow/internal/carpark"
	"github.com/roach88/parkflow/internal/eventlog"
	"github.com/roach88/parkflow/internal/materialize"
	"github.com/roach88/parkflow/internal/metrics"
)

// DefaultQueueSize is the per-subscription delivery queue bound.
const DefaultQueueSize = 256

// ErrSubscriptionClosed is returned by Next once a subscription is closed.
var ErrSubscriptionClosed = errors.New("query: subscription closed")

// ReplayFrom selects where a subscription starts reading.
type ReplayFrom int

const (
	// Latest delivers only events appended after Subscribe.
	Latest ReplayFrom = iota
	// Earliest replays the whole event log first.
	Earliest
)

// String returns "latest" or "earliest".
func (r ReplayFrom) String() string {
	if r == Earliest {
		return "earliest"
	}
	return "latest"
}

// ParseReplayFrom parses "latest" or "earliest". Empty means latest.
func ParseReplayFrom(s string) (ReplayFrom, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "latest":
		return Latest, nil
	case "earliest":
		return Earliest, nil
	default:
		return Latest, fmt.Errorf("invalid replay position %q (want latest or earliest)", s)
	}
}

// Delivery is one matching event as handed to a subscriber.
type Delivery struct {
	Event    carpark.Event
	Row      carpark.Row
	Offset   int64
	Replayed bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithQueueSize sets the per-subscription queue bound.
func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// WithMetrics attaches collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine answers queries and owns live subscriptions.
type Engine struct {
	events    *eventlog.Log[carpark.Event]
	table     *materialize.Table
	queueSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu   sync.Mutex
	subs map[string]*Subscription
}

// New creates an Engine over the event log and the materialized table.
func New(events *eventlog.Log[carpark.Event], table *materialize.Table, opts ...Option) *Engine {
	e := &Engine{
		events:    events,
		table:     table,
		queueSize: DefaultQueueSize,
		logger:    slog.Default().With("component", "query"),
		subs:      make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Get returns the state of one car park or a NotFound error.
func (e *Engine) Get(name string) (carpark.CarparkState, error) {
	return e.table.Get(name)
}

// Select evaluates pred once against the table. A nil pred matches all.
// Results are sorted by name.
func (e *Engine) Select(pred carpark.StatePredicate) []carpark.CarparkState {
	all := e.table.List()
	if pred == nil {
		return all
	}
	out := all[:0]
	for _, st := range all {
		if pred(st) {
			out = append(out, st)
		}
	}
	return out
}

// Subscribe opens a live subscription. A nil pred matches every event.
// The subscription ends when ctx is cancelled or Close is called.
func (e *Engine) Subscribe(ctx context.Context, pred carpark.Predicate, from ReplayFrom) *Subscription {
	if pred == nil {
		pred = carpark.Any()
	}

	boundary := e.events.LastOffset()
	start := boundary + 1
	if from == Earliest {
		start = 0
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		ID:       uuid.Must(uuid.NewV7()).String(),
		Boundary: boundary,
		From:     from,
		pred:     pred,
		queue:    newDeliveryQueue(e.queueSize),
		cursor:   e.events.Cursor(start),
		cancel:   cancel,
		stopped:  make(chan struct{}),
		engine:   e,
	}

	e.mu.Lock()
	e.subs[s.ID] = s
	e.mu.Unlock()
	e.metrics.SubscriptionOpened()
	e.logger.Debug("subscription opened", "id", s.ID, "from", from.String(), "boundary", boundary)

	go s.pump(pumpCtx)
	return s
}

// Active returns the number of open subscriptions.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// Close closes every open subscription.
func (e *Engine) Close() {
	e.mu.Lock()
	subs := make([]*Subscription, 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s)
	}
	e.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

func (e *Engine) remove(s *Subscription) {
	e.mu.Lock()
	delete(e.subs, s.ID)
	e.mu.Unlock()
	e.metrics.SubscriptionClosed()
}
