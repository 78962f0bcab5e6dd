// Package watcher turns filesystem changes to a single file into a stream of
// ChangeEvents. The viewer consumes that stream instead of registering
// callbacks with a watch library.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"
)

// Op classifies the kind of change observed on the watched path.
type Op uint32

const (
	// OpCreate indicates the path appeared, including a rename onto it.
	OpCreate Op = iota + 1
	// OpWrite indicates the file content was modified in place.
	OpWrite
	// OpRemove indicates the path was deleted.
	OpRemove
	// OpRename indicates the path was renamed away.
	OpRename
)

// String returns the lower-case name of op.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return fmt.Sprintf("op(%d)", uint32(op))
	}
}

// ChangeEvent describes one observed change of the watched file.
type ChangeEvent struct {
	// Path is the path of the file that changed.
	Path string
	// Op classifies the change.
	Op Op
	// Timestamp is when the watcher observed the change.
	Timestamp time.Time
}

// Watcher is implemented by the notify and poll watchers. Implementations
// must be safe for concurrent use.
type Watcher interface {
	// Start begins watching and returns once the watch is registered.
	Start(ctx context.Context) error
	// Stop releases resources and blocks until internal goroutines exit.
	// The Events channel is closed when Stop returns. Stop is idempotent.
	Stop()
	// Events returns the stream of changes to the watched file.
	Events() <-chan ChangeEvent
	// Ready is closed once the watcher is observing the filesystem.
	Ready() <-chan struct{}
}

// defaultBufferSize is the capacity of the ChangeEvent channel when the
// caller does not specify one.
const defaultBufferSize = 64

// Mode selects the Watcher implementation.
type Mode string

const (
	// ModeNotify uses kernel change notification (inotify, kqueue, ...).
	ModeNotify Mode = "notify"
	// ModePoll compares periodic stat snapshots.
	ModePoll Mode = "poll"
)

// Config holds the settings shared by every Watcher implementation.
type Config struct {
	// Path is the file to watch. Its directory must exist.
	Path string

	// Mode selects the implementation. Empty means ModeNotify.
	Mode Mode

	// PollInterval is used by ModePoll. Zero uses DefaultPollInterval.
	PollInterval time.Duration

	// BufferSize is the capacity of the Events channel. A value of 0 or
	// less uses 64.
	BufferSize int
}

// New constructs the Watcher selected by cfg.Mode.
func New(cfg Config, logger *slog.Logger) (Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("watcher: path is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("watcher: resolve %q: %w", cfg.Path, err)
	}
	cfg.Path = abs

	switch cfg.Mode {
	case "", ModeNotify:
		return NewNotifyWatcher(cfg, logger)
	case ModePoll:
		return NewPollWatcher(cfg, logger), nil
	default:
		return nil, fmt.Errorf("watcher: unknown mode %q", cfg.Mode)
	}
}
