// Package store provides SQLite-backed durable storage for parkflow.
//
// The store holds three kinds of data:
//   - Log entries: the append-only raw and event logs, keyed by (log, offset)
//   - Checkpoints: the next offset each consumer will read
//   - Carpark state: the materialized latest state per car park
//
// # Critical Patterns
//
// Offsets are never reused:
//   - PRIMARY KEY(log, log_offset) rejects a second append at the same offset
//   - Reads are ordered by log_offset ASC
//
// Last offset wins:
//   - Materialized rows are only replaced when the incoming last_offset is
//     greater than the stored one, in the same transaction as the
//     materializer checkpoint
//
// # Database Configuration
//
//   - WAL mode: readers never block the writer and vice versa
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - immediate transactions: writers take the write lock up front
//
// Pragmas are passed in the DSN so every pooled connection gets them.
package store
