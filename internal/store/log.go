package store

import (
	"context"
	"fmt"
	"time"
)

// Entry is one stored log record. Payload is opaque to the store.
type Entry struct {
	Offset     int64
	Partition  int
	Payload    []byte
	AppendedAt time.Time
}

// AppendEntry writes an entry to the named log.
// A second append at an existing offset fails: offsets are never reused.
func (s *Store) AppendEntry(ctx context.Context, log string, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO log_entries (log, log_offset, part, payload, appended_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		log,
		e.Offset,
		e.Partition,
		e.Payload,
		e.AppendedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append %s@%d: %w", log, e.Offset, err)
	}
	return nil
}

// ReadEntries returns up to limit entries of the named log with offset >= from,
// ordered by offset.
//
// Returns an empty slice (not nil) when nothing is available.
func (s *Store) ReadEntries(ctx context.Context, log string, from int64, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT log_offset, part, payload, appended_at
		FROM log_entries
		WHERE log = ? AND log_offset >= ?
		ORDER BY log_offset ASC
		LIMIT ?
	`, log, from, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s entries: %w", log, err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var appendedAt int64
		if err := rows.Scan(&e.Offset, &e.Partition, &e.Payload, &appendedAt); err != nil {
			return nil, fmt.Errorf("scan %s entry: %w", log, err)
		}
		e.AppendedAt = time.Unix(0, appendedAt).UTC()
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s entries: %w", log, err)
	}

	return entries, nil
}

// LastOffset returns the highest offset stored in the named log, or -1 when
// the log is empty.
func (s *Store) LastOffset(ctx context.Context, log string) (int64, error) {
	var last int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(log_offset), -1) FROM log_entries WHERE log = ?
	`, log).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("last offset of %s: %w", log, err)
	}
	return last, nil
}
