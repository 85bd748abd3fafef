package pipeline

import "sync"

// errorRing keeps the most recent messages up to a fixed size.
type errorRing struct {
	mu    sync.Mutex
	items []string
	next  int
	full  bool
}

func newErrorRing(size int) *errorRing {
	return &errorRing{items: make([]string, size)}
}

func (r *errorRing) Add(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[r.next] = msg
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
}

func (r *errorRing) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.items[:r.next]...)
	}
	out := make([]string, 0, len(r.items))
	out = append(out, r.items[r.next:]...)
	return append(out, r.items[:r.next]...)
}
