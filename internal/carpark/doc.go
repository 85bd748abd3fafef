// Package carpark defines the domain types shared by every stage of the
// parkflow pipeline.
//
// A RawRecord is one row of the external occupancy feed exactly as it was
// polled. The transformer turns each RawRecord into exactly one Event (or a
// TransformError), and the materializer folds Events into one CarparkState
// per car park name.
//
// # Invariants
//
//   - RawRecord and Event values are immutable once appended to a log.
//   - Every Event maps to exactly one CarparkState key: Event.Name.
//   - CarparkState.LastOffset is the Event Log offset that produced the
//     state and never decreases for a given key.
//
// Predicates over Events and CarparkStates are plain functions built from a
// fixed set of constructors; there is no expression language.
package carpark
