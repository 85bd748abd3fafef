package eventlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roach88/parkflow/internal/store"
)

// Record is an encoded log entry as held by a Backend.
type Record struct {
	Offset     int64
	Partition  int
	Payload    []byte
	AppendedAt time.Time
}

// Backend stores encoded records for one log.
type Backend interface {
	// Append stores a record. The log guarantees offsets arrive in
	// increasing order.
	Append(ctx context.Context, r Record) error

	// Read returns up to limit records with offset >= from, in offset order.
	Read(ctx context.Context, from int64, limit int) ([]Record, error)

	// LastOffset returns the highest stored offset, or -1 when empty.
	LastOffset(ctx context.Context) (int64, error)
}

// MemoryBackend keeps records in memory for the life of the process.
type MemoryBackend struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make([]Record, 0, 256)}
}

// Append implements Backend.
func (b *MemoryBackend) Append(_ context.Context, r Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, r)
	return nil
}

// Read implements Backend.
func (b *MemoryBackend) Read(_ context.Context, from int64, limit int) ([]Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	i := sort.Search(len(b.records), func(i int) bool {
		return b.records[i].Offset >= from
	})
	end := i + limit
	if end > len(b.records) {
		end = len(b.records)
	}

	out := make([]Record, end-i)
	copy(out, b.records[i:end])
	return out, nil
}

// LastOffset implements Backend.
func (b *MemoryBackend) LastOffset(context.Context) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.records) == 0 {
		return -1, nil
	}
	return b.records[len(b.records)-1].Offset, nil
}

// SQLiteBackend stores one named log in a store.Store.
type SQLiteBackend struct {
	store *store.Store
	name  string
}

// NewSQLiteBackend creates a backend for the log called name.
func NewSQLiteBackend(st *store.Store, name string) *SQLiteBackend {
	return &SQLiteBackend{store: st, name: name}
}

// Append implements Backend.
func (b *SQLiteBackend) Append(ctx context.Context, r Record) error {
	return b.store.AppendEntry(ctx, b.name, store.Entry{
		Offset:     r.Offset,
		Partition:  r.Partition,
		Payload:    r.Payload,
		AppendedAt: r.AppendedAt,
	})
}

// Read implements Backend.
func (b *SQLiteBackend) Read(ctx context.Context, from int64, limit int) ([]Record, error) {
	entries, err := b.store.ReadEntries(ctx, b.name, from, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(entries))
	for i, e := range entries {
		out[i] = Record{
			Offset:     e.Offset,
			Partition:  e.Partition,
			Payload:    e.Payload,
			AppendedAt: e.AppendedAt,
		}
	}
	return out, nil
}

// LastOffset implements Backend.
func (b *SQLiteBackend) LastOffset(ctx context.Context) (int64, error) {
	return b.store.LastOffset(ctx, b.name)
}
