// Package kiosk contains the viewer orchestrator. It wires the artwork file
// watcher into the reactor and manages their lifecycle through a shared
// context.
package kiosk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/artkiosk/kiosk/internal/viewer"
	"github.com/artkiosk/kiosk/internal/watcher"
)

// Clients reports how many display pages are connected.
// *websocket.Broadcaster satisfies it.
type Clients interface {
	ClientCount() int
}

// defaultReadyTimeout bounds how long Start waits for the watcher to be
// armed before rendering the initial image.
const defaultReadyTimeout = 2 * time.Second

// Service is the viewer orchestrator. It starts the watcher, shows the
// current artwork once, then feeds watcher events to the reactor until
// stopped.
type Service struct {
	logger       *slog.Logger
	reactor      *viewer.Reactor
	watcher      watcher.Watcher
	clients      Clients
	readyTimeout time.Duration

	startTime time.Time
	cancel    context.CancelFunc

	mu      sync.RWMutex
	running bool
	wg      sync.WaitGroup
}

// Option is a functional option for Service construction.
type Option func(*Service)

// WithWatcher registers the watcher whose events drive the reactor. Without
// one the Service only performs the initial render.
func WithWatcher(w watcher.Watcher) Option {
	return func(s *Service) { s.watcher = w }
}

// WithClients registers the connected-page counter reported by Health.
func WithClients(c Clients) Option {
	return func(s *Service) { s.clients = c }
}

// WithReadyTimeout overrides how long Start waits for the watcher.
func WithReadyTimeout(d time.Duration) Option {
	return func(s *Service) { s.readyTimeout = d }
}

// New creates a Service around reactor.
func New(reactor *viewer.Reactor, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		logger:       logger,
		reactor:      reactor,
		readyTimeout: defaultReadyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start arms the watcher, renders the active artwork once and starts the
// reactor loop. A failing initial render is logged, not returned: the next
// change of the file will be picked up.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("kiosk: already running")
	}
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.logger.Info("starting kiosk viewer", slog.String("artwork", s.reactor.Path()))

	// The watcher is armed before the initial render so that a rotation
	// racing with start-up is not missed.
	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			cancel()
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return fmt.Errorf("kiosk: watcher failed to start: %w", err)
		}
		select {
		case <-s.watcher.Ready():
		case <-time.After(s.readyTimeout):
			s.logger.Warn("kiosk: watcher not ready, continuing", slog.Duration("timeout", s.readyTimeout))
		case <-ctx.Done():
		}
	}

	if err := s.reactor.Redisplay(ctx); err != nil {
		s.logger.Warn("kiosk: initial render failed", slog.Any("error", err))
	}

	if s.watcher != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.reactor.Run(ctx, s.watcher.Events())
		}()
	}

	s.logger.Info("kiosk viewer started")
	return nil
}

// Stop shuts the watcher down and waits for the reactor to exit. It is safe
// to call Stop multiple times.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.wg.Wait()

	s.logger.Info("kiosk viewer stopped")
}

// HealthStatus is the payload returned by the /healthz endpoint.
type HealthStatus struct {
	Status       string  `json:"status"`
	UptimeS      float64 `json:"uptime_s"`
	Version      uint64  `json:"version"`
	LastUpdateAt string  `json:"last_update_at,omitempty"`
	LastError    string  `json:"last_error,omitempty"`
	Clients      int     `json:"clients"`
}

// Health returns a snapshot of the viewer health. The status is "starting"
// until the first image is shown and "degraded" while the last render
// failed.
func (s *Service) Health() HealthStatus {
	s.mu.RLock()
	started := s.startTime
	s.mu.RUnlock()

	snap := s.reactor.State().Snapshot()
	h := HealthStatus{
		Status:    "ok",
		Version:   snap.Version,
		LastError: snap.LastError,
	}
	if !started.IsZero() {
		h.UptimeS = time.Since(started).Seconds()
	}
	switch {
	case snap.LastError != "":
		h.Status = "degraded"
	case !snap.Ready():
		h.Status = "starting"
	}
	if snap.Ready() {
		h.LastUpdateAt = snap.UpdatedAt.UTC().Format(time.RFC3339)
	}
	if s.clients != nil {
		h.Clients = s.clients.ClientCount()
	}
	return h
}

// HealthzHandler is an http.HandlerFunc that responds with the viewer's
// health status as a JSON object and HTTP 200.
func (s *Service) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	h := s.Health()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h); err != nil {
		s.logger.Warn("healthz: failed to encode response", slog.Any("error", err))
	}
}
