package eventlog

import (
	"context"
	"sync"
)

// Cursor reads a Log in offset order from a starting position.
//
// A Cursor is owned by a single goroutine; Close may be called from any
// goroutine.
type Cursor[T any] struct {
	log  *Log[T]
	next int64
	buf  []Entry[T]

	// signal is the log's wake channel as of the last backend read.
	signal <-chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// Next returns the next entry, parking until one is appended.
// Returns ctx.Err() on cancellation and ErrClosed once the cursor or log
// is closed.
func (c *Cursor[T]) Next(ctx context.Context) (Entry[T], error) {
	for {
		e, ok, err := c.TryNext(ctx)
		if err != nil || ok {
			return e, err
		}

		// TryNext captured the signal before reading; anything appended
		// since then has already closed it.
		select {
		case <-ctx.Done():
			return Entry[T]{}, ctx.Err()
		case <-c.done:
			return Entry[T]{}, ErrClosed
		case <-c.log.closed:
			return Entry[T]{}, ErrClosed
		case <-c.signal:
		}
	}
}

// TryNext returns the next entry without blocking.
// Returns ok=false when the cursor is at the tail.
func (c *Cursor[T]) TryNext(ctx context.Context) (Entry[T], bool, error) {
	select {
	case <-c.done:
		return Entry[T]{}, false, ErrClosed
	default:
	}

	if len(c.buf) == 0 {
		c.signal = c.log.wait()
		batch, err := c.log.Read(ctx, c.next, c.log.opts.readBatch)
		if err != nil {
			return Entry[T]{}, false, err
		}
		if len(batch) == 0 {
			return Entry[T]{}, false, nil
		}
		c.buf = batch
	}

	e := c.buf[0]
	c.buf[0] = Entry[T]{}
	c.buf = c.buf[1:]
	c.next = e.Offset + 1
	return e, true, nil
}

// Position returns the offset the next read starts at.
func (c *Cursor[T]) Position() int64 {
	return c.next
}

// Close stops the cursor. A parked Next returns ErrClosed.
func (c *Cursor[T]) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
