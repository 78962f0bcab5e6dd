package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL implementation of Store, for installations
// where several kiosks report into one database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to connStr, pings the server, and applies the
// schema.
func OpenPostgres(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("history: pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresDDL = `
CREATE TABLE IF NOT EXISTS rotations (
    seq        BIGSERIAL   PRIMARY KEY,
    id         TEXT        NOT NULL UNIQUE,
    source     TEXT        NOT NULL,
    target     TEXT        NOT NULL,
    mode       TEXT        NOT NULL,
    reason     TEXT        NOT NULL,
    rotated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rotations_rotated_at ON rotations (rotated_at);
`

// Record inserts r. A duplicate ID is ignored.
func (s *PostgresStore) Record(ctx context.Context, r Rotation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rotations (id, source, target, mode, reason, rotated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		r.ID, r.Source, r.Target, r.Mode, string(r.Trigger), r.RotatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Recent returns up to limit rotations, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Rotation, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, source, target, mode, reason, rotated_at
		 FROM rotations
		 ORDER BY seq DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent query: %w", err)
	}
	defer rows.Close()

	var out []Rotation
	for rows.Next() {
		var (
			r       Rotation
			trigger string
		)
		if err := rows.Scan(&r.ID, &r.Source, &r.Target, &r.Mode, &trigger, &r.RotatedAt); err != nil {
			return nil, fmt.Errorf("history: recent scan: %w", err)
		}
		r.Trigger = Trigger(trigger)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent rows: %w", err)
	}
	return out, nil
}

// Count returns the number of recorded rotations.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rotations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return n, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
