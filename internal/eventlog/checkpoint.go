package eventlog

import (
	"context"
	"sync"
)

// Checkpoints persists the next offset each named consumer should read.
// *store.Store implements it durably.
type Checkpoints interface {
	Checkpoint(ctx context.Context, consumer string) (next int64, ok bool, err error)
	SaveCheckpoint(ctx context.Context, consumer string, next int64) error
}

// MemoryCheckpoints keeps checkpoints for the life of the process.
type MemoryCheckpoints struct {
	mu   sync.Mutex
	next map[string]int64
}

// NewMemoryCheckpoints creates an empty checkpoint set.
func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{next: make(map[string]int64)}
}

// Checkpoint implements Checkpoints.
func (m *MemoryCheckpoints) Checkpoint(_ context.Context, consumer string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, ok := m.next[consumer]
	return next, ok, nil
}

// SaveCheckpoint implements Checkpoints.
func (m *MemoryCheckpoints) SaveCheckpoint(_ context.Context, consumer string, next int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next[consumer] = next
	return nil
}
