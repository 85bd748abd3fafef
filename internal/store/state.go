package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/parkflow/internal/carpark"
)

// ApplyState stores a materialized state and advances the consumer checkpoint
// in one transaction.
//
// The state only replaces an existing row when its LastOffset is greater than
// the stored one; applied reports whether it did. The checkpoint advances
// either way, so a crash never leaves the table ahead of or behind the
// checkpoint.
func (s *Store) ApplyState(ctx context.Context, consumer string, st carpark.CarparkState, next int64) (applied bool, err error) {
	data, err := json.Marshal(st)
	if err != nil {
		return false, fmt.Errorf("apply state: marshal: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("apply state: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO carpark_state (name, state, last_offset)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE
		SET state = excluded.state,
		    last_offset = excluded.last_offset
		WHERE excluded.last_offset > carpark_state.last_offset
	`, st.Name, string(data), st.LastOffset)
	if err != nil {
		return false, fmt.Errorf("apply state: upsert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply state: rows affected: %w", err)
	}

	if err := saveCheckpoint(ctx, tx, consumer, next); err != nil {
		return false, fmt.Errorf("apply state: checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("apply state: commit: %w", err)
	}

	return rowsAffected > 0, nil
}

// LoadStates returns every materialized state ordered by last offset.
func (s *Store) LoadStates(ctx context.Context) ([]carpark.CarparkState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT state FROM carpark_state ORDER BY last_offset ASC, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	defer rows.Close()

	states := []carpark.CarparkState{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		var st carpark.CarparkState
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
		states = append(states, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate states: %w", err)
	}

	return states, nil
}
