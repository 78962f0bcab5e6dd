package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

// SQLiteStore is a WAL-mode SQLite implementation of Store. It is safe for
// concurrent use.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the
// schema. ":memory:" gives an in-memory database for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %q: %w", path, err)
	}

	// SQLite allows one writer at a time; a single connection also keeps an
	// in-memory database alive across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(sqliteDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

const sqliteDDL = `
CREATE TABLE IF NOT EXISTS rotations (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT    NOT NULL UNIQUE,
    source     TEXT    NOT NULL,
    target     TEXT    NOT NULL,
    mode       TEXT    NOT NULL,
    reason     TEXT    NOT NULL,
    rotated_at TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rotations_rotated_at
    ON rotations (rotated_at);
`

// Record inserts r. A duplicate ID is ignored.
func (s *SQLiteStore) Record(ctx context.Context, r Rotation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO rotations (id, source, target, mode, reason, rotated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Source, r.Target, r.Mode, string(r.Trigger),
		r.RotatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Recent returns up to limit rotations in reverse insertion order.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Rotation, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, target, mode, reason, rotated_at
		 FROM   rotations
		 ORDER  BY seq DESC
		 LIMIT  ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent query: %w", err)
	}
	defer rows.Close()

	var out []Rotation
	for rows.Next() {
		var (
			r       Rotation
			trigger string
			tsStr   string
		)
		if err := rows.Scan(&r.ID, &r.Source, &r.Target, &r.Mode, &trigger, &tsStr); err != nil {
			return nil, fmt.Errorf("history: recent scan: %w", err)
		}
		r.Trigger = Trigger(trigger)
		r.RotatedAt, err = time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			r.RotatedAt, _ = time.Parse(time.RFC3339, tsStr)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent rows: %w", err)
	}
	return out, nil
}

// Count returns the number of recorded rotations.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rotations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
