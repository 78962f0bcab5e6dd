// Command rotator replaces the active artwork file with a random image from
// the image pool at a fixed interval. It optionally exposes a control API for
// manual rotation and history, and shuts down gracefully on SIGTERM or
// SIGINT. SIGUSR1 requests an immediate rotation.
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
	"github.com/artkiosk/kiosk/internal/logging"
	"github.com/artkiosk/kiosk/internal/rotator"
	"github.com/artkiosk/kiosk/internal/server/rest"
)

func main() {
	configPath := flag.String("config", "/etc/artkiosk/config.yaml", "path to the kiosk YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rotator: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("config_path", *configPath),
		slog.String("active_artwork", cfg.ActiveArtwork),
		slog.String("image_directory", cfg.ImageDirectory),
		slog.Duration("interval", cfg.Rotation.Interval),
		slog.String("mode", cfg.Rotation.Mode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var opts []rotator.Option
	var store history.Store
	if cfg.History.Enabled() {
		store, err = history.Open(ctx, cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			logger.Error("failed to open rotation history", slog.Any("error", err))
			os.Exit(1)
		}
		defer store.Close()
		opts = append(opts, rotator.WithRecorder(store))
		logger.Info("rotation history enabled", slog.String("driver", cfg.History.Driver))
	}

	rot, err := rotator.New(rotator.OptionsFromConfig(cfg), logger, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rotator: %v\n", err)
		os.Exit(1)
	}

	// ── Control API ──────────────────────────────────────────────────────────
	var controlServer *http.Server
	if cfg.Rotation.ControlAddr != "" {
		pubKey, err := loadPublicKey(cfg, logger)
		if err != nil {
			logger.Error("failed to load JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		srvOpts := []rest.Option{rest.WithLogger(logger), rest.WithRotator(rot)}
		if store != nil {
			srvOpts = append(srvOpts, rest.WithHistory(store))
		}
		controlServer = &http.Server{
			Addr:              cfg.Rotation.ControlAddr,
			Handler:           rest.NewRouter(rest.NewServer(srvOpts...), pubKey),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}

	// ── Start ────────────────────────────────────────────────────────────────
	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- rot.Run(ctx)
	}()

	httpErrCh := make(chan error, 1)
	if controlServer != nil {
		go func() {
			logger.Info("control API listening", slog.String("addr", controlServer.Addr))
			if err := controlServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErrCh <- fmt.Errorf("control API: %w", err)
			}
			close(httpErrCh)
		}()
	}

	// ── Wait for shutdown signal or fatal error ──────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1)

	exitCode := 0
	runExited := false
wait:
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGUSR1 {
				logger.Info("manual rotation requested", slog.String("signal", sig.String()))
				rot.Trigger()
				continue
			}
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			break wait
		case err := <-runErrCh:
			runExited = true
			if err != nil {
				logger.Error("rotator stopped", slog.Any("error", err))
				exitCode = 1
			}
			break wait
		case err := <-httpErrCh:
			if err != nil {
				logger.Error("control API error", slog.Any("error", err))
				exitCode = 1
				break wait
			}
		}
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	cancel()
	if !runExited {
		<-runErrCh
	}

	if controlServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := controlServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("control API shutdown error", slog.Any("error", err))
		}
	}

	logger.Info("rotator exited")
	if exitCode != 0 {
		if store != nil {
			_ = store.Close()
		}
		os.Exit(exitCode)
	}
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
