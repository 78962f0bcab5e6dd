// Package history persists a record of every artwork rotation. The rotator
// writes to it; the control API and kioskctl read from it.
package history

import (
	"context"
	"fmt"
	"time"
)

// Trigger records what caused a rotation.
type Trigger string

const (
	// TriggerSchedule is a rotation fired by the interval ticker.
	TriggerSchedule Trigger = "schedule"
	// TriggerManual is a rotation requested through the control API or CLI.
	TriggerManual Trigger = "manual"
	// TriggerStartup is the optional rotation performed on start-up.
	TriggerStartup Trigger = "startup"
)

// Rotation is one completed replacement of the active artwork.
type Rotation struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Mode      string    `json:"mode"`
	Trigger   Trigger   `json:"trigger"`
	RotatedAt time.Time `json:"rotated_at"`
}

// Store is implemented by the SQLite and PostgreSQL backends.
type Store interface {
	// Record persists r.
	Record(ctx context.Context, r Rotation) error
	// Recent returns up to limit rotations, newest first.
	Recent(ctx context.Context, limit int) ([]Rotation, error)
	// Count returns the total number of recorded rotations.
	Count(ctx context.Context) (int64, error)
	// Close releases the underlying connection.
	Close() error
}

// DefaultLimit is used by Recent when limit is not positive.
const DefaultLimit = 50

// Open returns the Store for driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite", "":
		return OpenSQLite(dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("history: unknown driver %q", driver)
	}
}
