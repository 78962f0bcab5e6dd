// Package viewer keeps the displayed artwork in sync with the active artwork
// file. A Reactor consumes change events, applies the debounce rule, renders
// the file and publishes the result.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/artkiosk/kiosk/internal/config"
	"github.com/artkiosk/kiosk/internal/render"
	"github.com/artkiosk/kiosk/internal/watcher"
)

// Renderer produces a display image from the artwork file.
// *render.Renderer satisfies it.
type Renderer interface {
	Render(ctx context.Context, path string) (*render.Result, error)
}

// Publisher is told about every newly displayed image.
type Publisher interface {
	Publish(s Snapshot)
}

// Options configures a Reactor.
type Options struct {
	// Path is the active artwork file.
	Path string
	// Debounce drops events arriving sooner than this after the last
	// accepted one.
	Debounce time.Duration
	// Settle is waited after accepting an event, before the file is read.
	Settle time.Duration
}

// OptionsFromConfig maps the viewer section of cfg to Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Path:     cfg.ActiveArtwork,
		Debounce: *cfg.Viewer.Debounce,
		Settle:   *cfg.Viewer.SettleDelay,
	}
}

// Reactor applies change events to State. Events must be handled from a
// single goroutine; Run does so.
type Reactor struct {
	path     string
	debounce time.Duration
	settle   time.Duration

	renderer  Renderer
	state     *State
	logger    *slog.Logger
	now       func() time.Time
	publisher []Publisher

	lastApplied time.Time
}

// Option is a functional option for Reactor construction.
type Option func(*Reactor)

// WithPublisher adds a Publisher notified after each successful render.
func WithPublisher(p Publisher) Option {
	return func(r *Reactor) { r.publisher = append(r.publisher, p) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reactor) { r.now = now }
}

// NewReactor returns a Reactor rendering opts.Path into state.
func NewReactor(opts Options, renderer Renderer, state *State, logger *slog.Logger, options ...Option) (*Reactor, error) {
	if opts.Path == "" {
		return nil, errors.New("viewer: artwork path is required")
	}
	if opts.Debounce < 0 || opts.Settle < 0 {
		return nil, fmt.Errorf("viewer: negative debounce %s or settle %s", opts.Debounce, opts.Settle)
	}
	abs, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("viewer: resolve %q: %w", opts.Path, err)
	}
	r := &Reactor{
		path:     abs,
		debounce: opts.Debounce,
		settle:   opts.Settle,
		renderer: renderer,
		state:    state,
		logger:   logger,
		now:      time.Now,
	}
	for _, o := range options {
		o(r)
	}
	return r, nil
}

// Path returns the absolute path of the watched artwork.
func (r *Reactor) Path() string { return r.path }

// State returns the state the Reactor writes to.
func (r *Reactor) State() *State { return r.state }

// Run handles events until ctx is cancelled or events is closed.
func (r *Reactor) Run(ctx context.Context, events <-chan watcher.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			r.Handle(ctx, evt)
		}
	}
}

// Handle applies one change event and reports whether it caused a redisplay
// attempt. Events for other paths are ignored, as are removals and renames
// away, which leave nothing to render. An event arriving less than
// the debounce window after the last accepted one is dropped. Otherwise the
// Reactor waits the settle delay, then re-renders.
func (r *Reactor) Handle(ctx context.Context, evt watcher.ChangeEvent) bool {
	if filepath.Clean(evt.Path) != r.path {
		r.logger.Debug("viewer: ignoring event for other path", slog.String("path", evt.Path))
		return false
	}

	if evt.Op == watcher.OpRemove || evt.Op == watcher.OpRename {
		r.logger.Debug("viewer: artwork removed, waiting for replacement", slog.String("op", evt.Op.String()))
		return false
	}

	now := r.now()
	if !r.lastApplied.IsZero() && now.Sub(r.lastApplied) < r.debounce {
		r.logger.Debug("viewer: change debounced",
			slog.String("op", evt.Op.String()),
			slog.Duration("since_last", now.Sub(r.lastApplied)),
		)
		return false
	}
	r.lastApplied = now

	if r.settle > 0 {
		t := time.NewTimer(r.settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}

	r.logger.Info("viewer: artwork changed, reloading", slog.String("op", evt.Op.String()))
	_ = r.Redisplay(ctx)
	return true
}

// Redisplay renders the artwork file now and publishes the result. A render
// failure is logged and stored in State; the previous image stays on screen.
func (r *Reactor) Redisplay(ctx context.Context) error {
	res, err := r.renderer.Render(ctx, r.path)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		r.state.SetError(err, r.now())
		r.logger.Error("viewer: render failed", slog.String("path", r.path), slog.Any("error", err))
		return err
	}

	snap := r.state.Update(res, r.now())
	r.logger.Info("viewer: artwork displayed",
		slog.Uint64("version", snap.Version),
		slog.Int("width", snap.Width),
		slog.Int("height", snap.Height),
	)
	for _, p := range r.publisher {
		p.Publish(snap)
	}
	return nil
}
