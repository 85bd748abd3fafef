package dispatch

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/parkflow/internal/carpark"
)

// execer is the subset of *pgxpool.Pool the sink uses.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const createLatestTable = `
CREATE TABLE IF NOT EXISTS carpark_latest (
    name           TEXT PRIMARY KEY,
    ts             TIMESTAMPTZ NOT NULL,
    capacity       INTEGER NOT NULL,
    empty_places   INTEGER NOT NULL,
    pct_full       DOUBLE PRECISION,
    status         TEXT NOT NULL,
    latitude       DOUBLE PRECISION NOT NULL,
    longitude      DOUBLE PRECISION NOT NULL,
    directions_url TEXT NOT NULL,
    source         TEXT NOT NULL,
    last_offset    BIGINT NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const upsertLatest = `INSERT INTO carpark_latest (name, ts, capacity, empty_places, pct_full, status, latitude, longitude, directions_url, source, last_offset, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
ON CONFLICT (name) DO UPDATE
SET ts = EXCLUDED.ts,
    capacity = EXCLUDED.capacity,
    empty_places = EXCLUDED.empty_places,
    pct_full = EXCLUDED.pct_full,
    status = EXCLUDED.status,
    latitude = EXCLUDED.latitude,
    longitude = EXCLUDED.longitude,
    directions_url = EXCLUDED.directions_url,
    source = EXCLUDED.source,
    last_offset = EXCLUDED.last_offset,
    updated_at = NOW()
WHERE carpark_latest.last_offset < EXCLUDED.last_offset`

// PostgresSink mirrors the latest event per car park into Postgres.
// Writes are keyed by name and guarded by offset, so redelivery is harmless.
type PostgresSink struct {
	db   execer
	pool *pgxpool.Pool
}

// NewPostgresSink connects to url and ensures the target table exists.
func NewPostgresSink(ctx context.Context, url string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createLatestTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create carpark_latest: %w", err)
	}
	return &PostgresSink{db: pool, pool: pool}, nil
}

// Name implements Deliverer.
func (p *PostgresSink) Name() string {
	return "postgres"
}

// Deliver implements Deliverer.
func (p *PostgresSink) Deliver(ctx context.Context, ev carpark.Event) error {
	var pct *float64
	if v := carpark.PctFull(ev.Capacity, ev.EmptyPlaces); !math.IsNaN(v) {
		pct = &v
	}

	_, err := p.db.Exec(ctx, upsertLatest,
		ev.Name,
		ev.Timestamp,
		ev.Capacity,
		ev.EmptyPlaces,
		pct,
		ev.Status,
		ev.Latitude,
		ev.Longitude,
		ev.DirectionsURL,
		ev.Source,
		ev.Offset,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", ev.Name, err)
	}
	return nil
}

// Close releases the connection pool.
func (p *PostgresSink) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}
