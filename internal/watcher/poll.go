package watcher

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultPollInterval is the frequency at which the PollWatcher stats the
// watched file.
const DefaultPollInterval = 500 * time.Millisecond

// PollWatcher detects changes to one file by comparing periodic stat
// snapshots. It needs no kernel notification support, so it also works on
// network filesystems, and it tolerates a path that does not exist yet.
type PollWatcher struct {
	path     string
	logger   *slog.Logger
	interval time.Duration

	events chan ChangeEvent
	done   chan struct{}
	// ready is closed once the initial snapshot has been taken.
	ready chan struct{}

	mu   sync.Mutex
	last os.FileInfo // nil while the file is absent
	wg   sync.WaitGroup

	stopOnce sync.Once
}

// NewPollWatcher creates a PollWatcher for cfg.Path.
func NewPollWatcher(cfg Config, logger *slog.Logger) *PollWatcher {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	return &PollWatcher{
		path:     cfg.Path,
		logger:   logger,
		interval: interval,
		events:   make(chan ChangeEvent, bufSize),
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
	}
}

// Start launches the polling goroutine and returns immediately.
func (pw *PollWatcher) Start(ctx context.Context) error {
	pw.wg.Add(1)
	go pw.run(ctx)
	return nil
}

// Stop ends polling and closes the Events channel. It is idempotent.
func (pw *PollWatcher) Stop() {
	pw.stopOnce.Do(func() {
		close(pw.done)
		pw.wg.Wait()
		close(pw.events)
	})
}

// Events returns the read-only channel of changes to the watched file.
func (pw *PollWatcher) Events() <-chan ChangeEvent {
	return pw.events
}

// Ready is closed once the initial snapshot has been taken.
func (pw *PollWatcher) Ready() <-chan struct{} {
	return pw.ready
}

func (pw *PollWatcher) run(ctx context.Context) {
	defer pw.wg.Done()

	// Take the initial snapshot before signalling readiness so that the
	// first poll only reports changes made after Start returned.
	pw.mu.Lock()
	pw.last = pw.stat()
	pw.mu.Unlock()
	close(pw.ready)

	ticker := time.NewTicker(pw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-pw.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			pw.mu.Lock()
			current := pw.stat()
			if op := diff(pw.last, current); op != 0 {
				pw.emit(op)
			}
			pw.last = current
			pw.mu.Unlock()
		}
	}
}

func (pw *PollWatcher) stat() os.FileInfo {
	info, err := os.Stat(pw.path)
	if err != nil {
		if !os.IsNotExist(err) {
			pw.logger.Warn("watcher: stat failed",
				slog.String("path", pw.path),
				slog.Any("error", err),
			)
		}
		return nil
	}
	return info
}

// diff classifies the change between two snapshots of the same path.
// A different underlying file (rename over the path) counts as a create.
func diff(prev, cur os.FileInfo) Op {
	switch {
	case prev == nil && cur == nil:
		return 0
	case prev == nil:
		return OpCreate
	case cur == nil:
		return OpRemove
	case !os.SameFile(prev, cur):
		return OpCreate
	case !cur.ModTime().Equal(prev.ModTime()) || cur.Size() != prev.Size():
		return OpWrite
	default:
		return 0
	}
}

func (pw *PollWatcher) emit(op Op) {
	evt := ChangeEvent{Path: pw.path, Op: op, Timestamp: time.Now()}
	select {
	case pw.events <- evt:
		pw.logger.Debug("watcher: change observed",
			slog.String("path", pw.path),
			slog.String("op", op.String()),
		)
	default:
		pw.logger.Warn("watcher: event channel full, dropping event",
			slog.String("path", pw.path),
			slog.String("op", op.String()),
		)
	}
}
