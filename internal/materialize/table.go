package materialize

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/roach88/parkflow/internal/carpark"
)

// Table is the keyed set of latest car park states.
//
// Each key holds a pointer to an immutable CarparkState; an update swaps the
// pointer, so readers never see a partially written state. Only the
// Materializer writes; any goroutine may read.
type Table struct {
	states sync.Map // string -> *carpark.CarparkState
	size   atomic.Int64
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{}
}

// Get returns the state for name or a NotFound error.
func (t *Table) Get(name string) (carpark.CarparkState, error) {
	v, ok := t.states.Load(name)
	if !ok {
		return carpark.CarparkState{}, carpark.NewNotFoundError(name)
	}
	return *v.(*carpark.CarparkState), nil
}

// List returns a snapshot of every state, sorted by name.
func (t *Table) List() []carpark.CarparkState {
	out := make([]carpark.CarparkState, 0, t.Len())
	t.states.Range(func(_, v any) bool {
		out = append(out, *v.(*carpark.CarparkState))
		return true
	})
	slices.SortFunc(out, func(a, b carpark.CarparkState) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Len returns the number of keys.
func (t *Table) Len() int {
	return int(t.size.Load())
}

// apply installs st when it is newer than the stored state for its key.
// Reports whether st was installed.
func (t *Table) apply(st carpark.CarparkState) bool {
	next := &st
	for {
		cur, loaded := t.states.LoadOrStore(st.Name, next)
		if !loaded {
			t.size.Add(1)
			return true
		}
		old := cur.(*carpark.CarparkState)
		if st.LastOffset <= old.LastOffset {
			return false
		}
		if t.states.CompareAndSwap(st.Name, old, next) {
			return true
		}
	}
}
