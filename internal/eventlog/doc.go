// Package eventlog implements the append-only, offset-ordered log that
// connects the stages of the parkflow pipeline.
//
// ARCHITECTURE:
//
// Single Writer, Many Readers:
// Appends are serialised by the log; each reader owns a Cursor with its own
// position. Readers never block the writer and the writer never waits for
// readers.
//
// Park and Wake:
// A Cursor that has caught up with the tail parks on a broadcast channel.
// Every append closes that channel and installs a fresh one, waking all
// parked cursors at once. The cursor captures the channel before it reads
// the backend, so an append racing with the read is never missed.
//
// Offsets:
// Offsets start at 0, are assigned by a monotonic Clock and are never
// reused. Reopening a log over a durable backend resumes the clock from the
// stored tail. The partition of a record is derived from its offset.
//
// Backends:
//   - MemoryBackend: process-lifetime storage, used in tests and when no
//     database is configured
//   - SQLiteBackend: one named log inside a store.Store
package eventlog
