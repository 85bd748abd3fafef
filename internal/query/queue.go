package query

import "sync"

// deliveryQueue is a bounded FIFO of deliveries for one subscriber.
//
// Live items use Push, which drops the oldest item when the queue is full.
// Replayed history uses PushWait, which blocks until there is room so that
// replay never loses items.
//
// The queue uses a channel for signaling to enable context-aware waiting
// by the consumer.
type deliveryQueue struct {
	mu       sync.Mutex
	items    []Delivery
	capacity int
	closed   bool
	signal   chan struct{} // Signals item availability (buffered, size 1)
	space    chan struct{} // Signals free capacity (buffered, size 1)
}

func newDeliveryQueue(capacity int) *deliveryQueue {
	return &deliveryQueue{
		items:    make([]Delivery, 0, capacity),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
	}
}

// Push appends d, evicting the oldest item if the queue is full.
// Returns dropped=true when an item was evicted and ok=false when closed.
func (q *deliveryQueue) Push(d Delivery) (dropped, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, false
	}

	if len(q.items) >= q.capacity {
		q.items[0] = Delivery{}
		q.items = q.items[1:]
		dropped = true
	}
	q.items = append(q.items, d)
	notify(q.signal)
	return dropped, true
}

// PushWait appends d, blocking while the queue is full.
// Returns false if the queue was closed or done fired first.
func (q *deliveryQueue) PushWait(d Delivery, done <-chan struct{}) bool {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return false
		}
		if len(q.items) < q.capacity {
			q.items = append(q.items, d)
			notify(q.signal)
			q.mu.Unlock()
			return true
		}
		q.mu.Unlock()

		select {
		case <-done:
			return false
		case <-q.space:
		}
	}
}

// TryPop removes and returns the front item without blocking.
func (q *deliveryQueue) TryPop() (Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Delivery{}, false
	}

	d := q.items[0]
	q.items[0] = Delivery{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	notify(q.space)
	return d, true
}

// Wait returns a channel that signals when items may be available.
// The channel is closed once the queue is closed.
func (q *deliveryQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *deliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close discards queued items and rejects further pushes.
// Pending signals are drained before the channels are closed, so a receive
// from Wait after Close always reports the queue closed.
func (q *deliveryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	q.items = nil
	drain(q.signal)
	drain(q.space)
	close(q.signal)
	close(q.space)
}

// drain discards a buffered signal. Senders hold mu, so none can refill it.
func drain(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}

// notify performs a non-blocking send; a buffer of 1 coalesces signals.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
