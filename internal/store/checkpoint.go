package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Checkpoint returns the next offset the consumer should read.
// ok is false when the consumer has never saved a checkpoint.
func (s *Store) Checkpoint(ctx context.Context, consumer string) (next int64, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT next_offset FROM checkpoints WHERE consumer = ?
	`, consumer).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read checkpoint %s: %w", consumer, err)
	}
	return next, true, nil
}

// SaveCheckpoint records the next offset the consumer should read.
func (s *Store) SaveCheckpoint(ctx context.Context, consumer string, next int64) error {
	if err := saveCheckpoint(ctx, s.db, consumer, next); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", consumer, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveCheckpoint(ctx context.Context, db execer, consumer string, next int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO checkpoints (consumer, next_offset, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(consumer) DO UPDATE
		SET next_offset = excluded.next_offset,
		    updated_at = excluded.updated_at
	`, consumer, next, time.Now().UnixNano())
	return err
}
