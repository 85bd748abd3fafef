package eventlog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/parkflow/internal/carpark"
)

// ErrClosed is returned by cursors whose log or cursor has been closed.
var ErrClosed = errors.New("eventlog: closed")

const (
	defaultPartitions = 1
	defaultReadBatch  = 128
)

// Entry is a decoded value together with its position in the log.
type Entry[T any] struct {
	Offset     int64
	Partition  int
	Value      T
	AppendedAt time.Time
}

// Option configures a Log.
type Option func(*options)

type options struct {
	partitions int
	readBatch  int
	now        func() time.Time
}

// WithPartitions sets the number of partitions. A record's partition is its
// offset modulo n.
func WithPartitions(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.partitions = n
		}
	}
}

// WithReadBatch sets how many records a cursor fetches per backend read.
func WithReadBatch(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readBatch = n
		}
	}
}

// WithNow overrides the append timestamp source.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Log is an append-only sequence of values of type T.
//
// Thread-safety: Append is serialised internally. Readers may run
// concurrently with the writer and with each other.
type Log[T any] struct {
	name    string
	backend Backend
	codec   Codec[T]
	opts    options
	clock   *Clock

	mu     sync.Mutex // serialises Append
	notify atomic.Pointer[chan struct{}]

	closed    chan struct{}
	closeOnce sync.Once
}

// Open creates a log over backend, resuming offsets after the backend's tail.
func Open[T any](ctx context.Context, name string, backend Backend, codec Codec[T], opts ...Option) (*Log[T], error) {
	o := options{
		partitions: defaultPartitions,
		readBatch:  defaultReadBatch,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	last, err := backend.LastOffset(ctx)
	if err != nil {
		return nil, carpark.NewStorageError(fmt.Sprintf("open log %s", name), err)
	}

	l := &Log[T]{
		name:    name,
		backend: backend,
		codec:   codec,
		opts:    o,
		clock:   NewClockAt(last),
		closed:  make(chan struct{}),
	}
	ch := make(chan struct{})
	l.notify.Store(&ch)
	return l, nil
}

// NewMemory creates a log backed by a fresh MemoryBackend.
func NewMemory[T any](name string, opts ...Option) *Log[T] {
	// MemoryBackend.LastOffset cannot fail.
	l, _ := Open[T](context.Background(), name, NewMemoryBackend(), JSONCodec[T]{}, opts...)
	return l
}

// Name returns the log name.
func (l *Log[T]) Name() string {
	return l.name
}

// Partitions returns the configured partition count.
func (l *Log[T]) Partitions() int {
	return l.opts.partitions
}

// Append stores v at the next offset and wakes every parked reader.
// Returns the assigned offset.
func (l *Log[T]) Append(ctx context.Context, v T) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.closed:
		return 0, ErrClosed
	default:
	}

	offset := l.clock.Current() + 1
	partition := int(offset % int64(l.opts.partitions))
	stamp(&v, offset, partition)

	payload, err := l.codec.Encode(v)
	if err != nil {
		return 0, fmt.Errorf("encode %s@%d: %w", l.name, offset, err)
	}

	rec := Record{
		Offset:     offset,
		Partition:  partition,
		Payload:    payload,
		AppendedAt: l.opts.now(),
	}
	if err := l.backend.Append(ctx, rec); err != nil {
		return 0, carpark.NewStorageError(fmt.Sprintf("append to log %s", l.name), err)
	}
	l.clock.Next()

	// Wake parked cursors: close the current channel, install a fresh one.
	fresh := make(chan struct{})
	old := l.notify.Swap(&fresh)
	close(*old)

	return offset, nil
}

// LastOffset returns the highest assigned offset, or -1 when the log is empty.
func (l *Log[T]) LastOffset() int64 {
	return l.clock.Current()
}

// Read returns up to limit entries starting at offset from.
func (l *Log[T]) Read(ctx context.Context, from int64, limit int) ([]Entry[T], error) {
	if from < 0 {
		from = 0
	}
	recs, err := l.backend.Read(ctx, from, limit)
	if err != nil {
		return nil, carpark.NewStorageError(fmt.Sprintf("read log %s", l.name), err)
	}

	out := make([]Entry[T], 0, len(recs))
	for _, r := range recs {
		v, err := l.codec.Decode(r.Payload)
		if err != nil {
			return nil, fmt.Errorf("decode %s@%d: %w", l.name, r.Offset, err)
		}
		stamp(&v, r.Offset, r.Partition)
		out = append(out, Entry[T]{
			Offset:     r.Offset,
			Partition:  r.Partition,
			Value:      v,
			AppendedAt: r.AppendedAt,
		})
	}
	return out, nil
}

// Cursor opens an independent reader positioned at offset from.
// Pass 0 to replay the whole log, or LastOffset()+1 to see only new entries.
func (l *Log[T]) Cursor(from int64) *Cursor[T] {
	if from < 0 {
		from = 0
	}
	return &Cursor[T]{
		log:  l,
		next: from,
		done: make(chan struct{}),
	}
}

// Entries iterates the log from offset from, blocking at the tail until ctx
// is cancelled or the log is closed.
func (l *Log[T]) Entries(ctx context.Context, from int64) iter.Seq2[Entry[T], error] {
	return func(yield func(Entry[T], error) bool) {
		c := l.Cursor(from)
		defer c.Close()

		for {
			e, err := c.Next(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, ErrClosed) {
					return
				}
				var zero Entry[T]
				yield(zero, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Close releases parked readers. Further appends fail with ErrClosed.
func (l *Log[T]) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		close(l.closed)
		l.mu.Unlock()
	})
}

func (l *Log[T]) wait() <-chan struct{} {
	return *l.notify.Load()
}
