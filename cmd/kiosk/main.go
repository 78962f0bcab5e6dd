// Command kiosk is the display side of the art kiosk. It watches the active
// artwork file, re-renders it (optionally inside a frame) whenever the
// rotator replaces it, and serves a fullscreen page that a browser in kiosk
// mode shows. It shuts down gracefully on SIGTERM or SIGINT.
package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/artkiosk/kiosk/internal/config"
	"github.com/artkiosk/kiosk/internal/history"
	"github.com/artkiosk/kiosk/internal/kiosk"
	"github.com/artkiosk/kiosk/internal/logging"
	"github.com/artkiosk/kiosk/internal/render"
	"github.com/artkiosk/kiosk/internal/server/rest"
	"github.com/artkiosk/kiosk/internal/server/websocket"
	"github.com/artkiosk/kiosk/internal/viewer"
	"github.com/artkiosk/kiosk/internal/watcher"
)

func main() {
	configPath := flag.String("config", "/etc/artkiosk/config.yaml", "path to the kiosk YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kiosk: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("config_path", *configPath),
		slog.String("active_artwork", cfg.ActiveArtwork),
		slog.String("listen_addr", cfg.Viewer.ListenAddr),
		slog.String("watch_mode", cfg.Viewer.WatchMode),
		slog.Bool("frame", cfg.Viewer.Frame.Enabled()),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("kiosk exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("kiosk exited cleanly")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Rendering ────────────────────────────────────────────────────────────
	var frame *render.Frame
	if cfg.Viewer.Frame.Enabled() {
		var err error
		frame, err = render.LoadFrame(cfg.Viewer.Frame.Path, cfg.Viewer.Frame.InnerWidth, cfg.Viewer.Frame.InnerHeight)
		if err != nil {
			return err
		}
		logger.Info("frame overlay loaded",
			slog.String("path", cfg.Viewer.Frame.Path),
			slog.Int("inner_width", cfg.Viewer.Frame.InnerWidth),
			slog.Int("inner_height", cfg.Viewer.Frame.InnerHeight),
		)
	}
	renderer := render.NewRenderer(render.Options{
		Frame:    frame,
		Quality:  cfg.Viewer.JPEGQuality,
		Attempts: cfg.Viewer.DecodeAttempts,
	})

	// ── Display state and reactor ────────────────────────────────────────────
	state := viewer.NewState(*cfg.Viewer.Fullscreen)
	bc := websocket.NewBroadcaster(logger, 0)
	defer bc.Close()

	reactor, err := viewer.NewReactor(viewer.OptionsFromConfig(cfg), renderer, state, logger,
		viewer.WithPublisher(bc),
	)
	if err != nil {
		return err
	}

	w, err := watcher.New(watcher.Config{
		Path:         cfg.ActiveArtwork,
		Mode:         watcher.Mode(cfg.Viewer.WatchMode),
		PollInterval: cfg.Viewer.PollInterval,
	}, logger)
	if err != nil {
		return err
	}

	svc := kiosk.New(reactor, logger, kiosk.WithWatcher(w), kiosk.WithClients(bc))
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	// ── HTTP surface ─────────────────────────────────────────────────────────
	pubKey, err := loadPublicKey(cfg, logger)
	if err != nil {
		return err
	}

	srvOpts := []rest.Option{
		rest.WithLogger(logger),
		rest.WithDisplay(state, bc),
		rest.WithHealthz(svc.HealthzHandler),
	}
	if cfg.History.Enabled() {
		store, err := history.Open(ctx, cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			logger.Warn("rotation history unavailable", slog.Any("error", err))
		} else {
			defer store.Close()
			srvOpts = append(srvOpts, rest.WithHistory(store))
		}
	}

	// WebSocket connections are long-lived, so only the request header read
	// is bounded here; the handler sets its own per-frame deadlines.
	httpServer := &http.Server{
		Addr:              cfg.Viewer.ListenAddr,
		Handler:           rest.NewRouter(rest.NewServer(srvOpts...), pubKey),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("kiosk HTTP server listening", slog.String("addr", cfg.Viewer.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("HTTP server: %w", err)
		}
		close(httpErrCh)
	}()

	// ── Wait for shutdown signal or fatal error ──────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case runErr = <-httpErrCh:
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	svc.Stop()
	bc.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", slog.Any("error", err))
	}

	return runErr
}

// loadPublicKey returns the configured JWT verification key, or nil with a
// warning when authentication is disabled.
func loadPublicKey(cfg *config.Config, logger *slog.Logger) (*rsa.PublicKey, error) {
	if cfg.Auth.JWTPublicKey == "" {
		logger.Warn("auth.jwt_public_key not configured; control API authentication disabled (dev mode)")
		return nil, nil
	}
	key, err := rest.LoadRSAPublicKey(cfg.Auth.JWTPublicKey)
	if err != nil {
		return nil, err
	}
	logger.Info("JWT validation enabled")
	return key, nil
}
