package carpark

import "strings"

// Predicate selects Events. Subscriptions evaluate it against every event.
type Predicate func(Event) bool

// StatePredicate selects CarparkStates. Snapshot queries evaluate it once
// against the materialized table.
type StatePredicate func(CarparkState) bool

// Any matches every event.
func Any() Predicate {
	return func(Event) bool { return true }
}

// NameEquals matches events for one car park.
func NameEquals(name string) Predicate {
	return func(e Event) bool { return e.Name == name }
}

// EmptyPlacesAtLeast matches events reporting at least n empty places.
func EmptyPlacesAtLeast(n int) Predicate {
	return func(e Event) bool { return e.EmptyPlaces >= n }
}

// StatusEquals matches events with the given status, case-insensitively.
func StatusEquals(status string) Predicate {
	return func(e Event) bool { return strings.EqualFold(e.Status, status) }
}

// And matches when every predicate matches. And() matches everything.
func And(preds ...Predicate) Predicate {
	return func(e Event) bool {
		for _, p := range preds {
			if !p(e) {
				return false
			}
		}
		return true
	}
}

// Filter is the fixed set of conditions accepted from HTTP and CLI callers.
// Zero values leave a condition unset.
type Filter struct {
	Name     string `json:"name,omitempty"`
	MinEmpty *int   `json:"min_empty,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Events compiles the filter into an event predicate.
func (f Filter) Events() Predicate {
	preds := make([]Predicate, 0, 3)
	if f.Name != "" {
		preds = append(preds, NameEquals(f.Name))
	}
	if f.MinEmpty != nil {
		preds = append(preds, EmptyPlacesAtLeast(*f.MinEmpty))
	}
	if f.Status != "" {
		preds = append(preds, StatusEquals(f.Status))
	}
	return And(preds...)
}

// States compiles the filter into a state predicate.
func (f Filter) States() StatePredicate {
	return func(s CarparkState) bool {
		if f.Name != "" && s.Name != f.Name {
			return false
		}
		if f.MinEmpty != nil && s.CurrentEmptyPlaces < *f.MinEmpty {
			return false
		}
		if f.Status != "" && !strings.EqualFold(s.Status, f.Status) {
			return false
		}
		return true
	}
}
