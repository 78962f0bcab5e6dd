package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// NotifyWatcher reports changes to one file using fsnotify.
//
// The containing directory is watched rather than the file itself: the
// rotator replaces the active file by renaming a new file over it, which
// would silently invalidate a watch held on the old inode. Events for other
// names in the directory are discarded.
type NotifyWatcher struct {
	path   string
	dir    string
	name   string
	logger *slog.Logger

	fsw *fsnotify.Watcher

	events   chan ChangeEvent
	done     chan struct{}
	ready    chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewNotifyWatcher creates a NotifyWatcher for cfg.Path. The watch is not
// registered until Start is called.
func NewNotifyWatcher(cfg Config, logger *slog.Logger) (*NotifyWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: fsnotify init: %w", err)
	}
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	path := filepath.Clean(cfg.Path)
	return &NotifyWatcher{
		path:   path,
		dir:    filepath.Dir(path),
		name:   filepath.Base(path),
		logger: logger,
		fsw:    fsw,
		events: make(chan ChangeEvent, bufSize),
		done:   make(chan struct{}),
		ready:  make(chan struct{}),
	}, nil
}

// Start registers the directory watch and launches the event goroutine.
func (nw *NotifyWatcher) Start(ctx context.Context) error {
	if err := nw.fsw.Add(nw.dir); err != nil {
		return fmt.Errorf("watcher: watch %q: %w", nw.dir, err)
	}

	nw.wg.Add(1)
	go nw.run(ctx)
	return nil
}

// Stop ends the event goroutine, closes the fsnotify handle, and closes the
// Events channel. It is idempotent.
func (nw *NotifyWatcher) Stop() {
	nw.stopOnce.Do(func() {
		close(nw.done)
		nw.wg.Wait()
		_ = nw.fsw.Close()
		close(nw.events)
	})
}

// Events returns the read-only channel of changes to the watched file.
func (nw *NotifyWatcher) Events() <-chan ChangeEvent {
	return nw.events
}

// Ready is closed once the event goroutine is running.
func (nw *NotifyWatcher) Ready() <-chan struct{} {
	return nw.ready
}

func (nw *NotifyWatcher) run(ctx context.Context) {
	defer nw.wg.Done()
	close(nw.ready)

	for {
		select {
		case <-nw.done:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-nw.fsw.Events:
			if !ok {
				return
			}
			nw.handle(ev)
		case err, ok := <-nw.fsw.Errors:
			if !ok {
				return
			}
			nw.logger.Warn("watcher: fsnotify error",
				slog.String("dir", nw.dir),
				slog.Any("error", err),
			)
		}
	}
}

func (nw *NotifyWatcher) handle(ev fsnotify.Event) {
	if filepath.Base(ev.Name) != nw.name {
		return
	}
	op := notifyOp(ev.Op)
	if op == 0 {
		return
	}
	nw.emit(ChangeEvent{Path: nw.path, Op: op, Timestamp: time.Now()})
}

// notifyOp maps an fsnotify bitmask to an Op. Chmod-only events map to zero.
func notifyOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Write):
		return OpWrite
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return 0
	}
}

// emit delivers evt without blocking; a full channel drops the event.
func (nw *NotifyWatcher) emit(evt ChangeEvent) {
	select {
	case nw.events <- evt:
		nw.logger.Debug("watcher: change observed",
			slog.String("path", evt.Path),
			slog.String("op", evt.Op.String()),
		)
	default:
		nw.logger.Warn("watcher: event channel full, dropping event",
			slog.String("path", evt.Path),
			slog.String("op", evt.Op.String()),
		)
	}
}
