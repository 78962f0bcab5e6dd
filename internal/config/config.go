// Package config provides YAML configuration loading and validation for the
// art kiosk rotator and viewer.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure shared by the rotator and
// the viewer. Both processes read the same file.
type Config struct {
	// ActiveArtwork is the path of the JPEG file the viewer displays and the
	// rotator replaces. Required.
	ActiveArtwork string `yaml:"active_artwork"`

	// ImageDirectory is the image pool the rotator samples from. Only the
	// rotator requires it.
	ImageDirectory string `yaml:"image_directory"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// LogFormat is "json", "text" or "auto". Auto selects text output when
	// stderr is a terminal. Defaults to "auto".
	LogFormat string `yaml:"log_format"`

	Rotation RotationConfig `yaml:"rotation"`
	Viewer   ViewerConfig   `yaml:"viewer"`
	History  HistoryConfig  `yaml:"history"`
	Auth     AuthConfig     `yaml:"auth"`
}

// RotationConfig controls the rotator loop.
type RotationConfig struct {
	// Interval between automatic rotations. Defaults to one hour.
	Interval time.Duration `yaml:"interval"`

	// Mode is "copy" (pool is left intact) or "move" (the chosen file is
	// renamed onto the active path and leaves the pool). Defaults to "copy".
	Mode string `yaml:"mode"`

	// Extensions lists the file extensions considered part of the pool.
	// Matching is case-insensitive. Defaults to [".jpg"].
	Extensions []string `yaml:"extensions"`

	// LockFile guards against two rotators sharing one active file.
	// Defaults to "<active_artwork>.lock".
	LockFile string `yaml:"lock_file"`

	// RotateOnStart performs one rotation immediately on start-up.
	RotateOnStart bool `yaml:"rotate_on_start"`

	// ControlAddr is the listen address of the rotator control API
	// (manual rotation, history). Empty disables it.
	ControlAddr string `yaml:"control_addr"`
}

// ViewerConfig controls the display process.
type ViewerConfig struct {
	// ListenAddr is the address of the kiosk HTTP surface.
	// Defaults to "127.0.0.1:8080".
	ListenAddr string `yaml:"listen_addr"`

	// WatchMode is "notify" (kernel change notification) or "poll".
	WatchMode string `yaml:"watch_mode"`

	// PollInterval is used when WatchMode is "poll". Defaults to 500ms.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Debounce is the minimum time between two accepted reloads.
	// Defaults to 1s when omitted; an explicit 0s disables debouncing.
	Debounce *time.Duration `yaml:"debounce"`

	// SettleDelay is waited after an accepted change before the file is
	// read. Defaults to 100ms when omitted; an explicit 0s disables it.
	SettleDelay *time.Duration `yaml:"settle_delay"`

	// JPEGQuality of the composed image served to the display (1-100).
	JPEGQuality int `yaml:"jpeg_quality"`

	// DecodeAttempts bounds retries of a failing decode. Defaults to 3.
	DecodeAttempts int `yaml:"decode_attempts"`

	// Fullscreen is the initial fullscreen state of the kiosk page.
	Fullscreen *bool `yaml:"fullscreen"`

	Frame FrameConfig `yaml:"frame"`
}

// FrameConfig describes the optional frame overlay.
type FrameConfig struct {
	// Path is a JPEG or PNG frame image. Empty disables framing.
	Path string `yaml:"path"`

	// InnerWidth and InnerHeight are the size, in pixels, the artwork is
	// resized to before being centred on the frame. Required with Path.
	InnerWidth  int `yaml:"inner_width"`
	InnerHeight int `yaml:"inner_height"`
}

// Enabled reports whether a frame overlay is configured.
func (f FrameConfig) Enabled() bool { return f.Path != "" }

// HistoryConfig selects the rotation history backend.
type HistoryConfig struct {
	// Driver is "sqlite", "postgres" or "none". Defaults to "sqlite".
	Driver string `yaml:"driver"`

	// DSN is a file path for sqlite or a connection URL for postgres.
	// An empty DSN disables history.
	DSN string `yaml:"dsn"`
}

// Enabled reports whether rotations should be persisted.
func (h HistoryConfig) Enabled() bool { return h.Driver != "none" && h.DSN != "" }

// AuthConfig configures bearer-token authentication of the control API.
type AuthConfig struct {
	// JWTPublicKey is the path to a PEM RSA public key. Empty disables
	// authentication.
	JWTPublicKey string `yaml:"jwt_public_key"`
}

// Defaults.
const (
	DefaultInterval       = time.Hour
	DefaultDebounce       = time.Second
	DefaultSettleDelay    = 100 * time.Millisecond
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultListenAddr     = "127.0.0.1:8080"
	DefaultJPEGQuality    = 90
	DefaultDecodeAttempts = 3
)

// Rotation modes.
const (
	ModeCopy = "copy"
	ModeMove = "move"
)

// Watch modes.
const (
	WatchNotify = "notify"
	WatchPoll   = "poll"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"json": true,
	"text": true,
}

var validModes = map[string]bool{
	ModeCopy: true,
	ModeMove: true,
}

var validWatchModes = map[string]bool{
	WatchNotify: true,
	WatchPoll:   true,
}

var validDrivers = map[string]bool{
	"sqlite":   true,
	"postgres": true,
	"none":     true,
}

// ReadYAML reads the YAML document at path into a generic mapping. A file
// that cannot be read is an error. A document that cannot be parsed as a
// mapping is logged and yields an empty mapping.
func ReadYAML(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		slog.Warn("config: malformed yaml, using empty mapping",
			slog.String("path", path),
			slog.Any("error", err),
		)
		return map[string]any{}, nil
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// LoadConfig reads the YAML file at path, decodes it into Config, applies
// defaults, and validates all required fields.
func LoadConfig(path string) (*Config, error) {
	raw, err := ReadYAML(path)
	if err != nil {
		return nil, err
	}

	cfg, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("config: cannot decode %q: %w", path, err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return cfg, nil
}

// decode converts the generic mapping into a typed Config by re-encoding it,
// so durations and nested sections go through the yaml.v3 decoder.
func decode(raw map[string]any) (*Config, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "auto"
	}

	r := &cfg.Rotation
	if r.Interval == 0 {
		r.Interval = DefaultInterval
	}
	if r.Mode == "" {
		r.Mode = ModeCopy
	}
	if len(r.Extensions) == 0 {
		r.Extensions = []string{".jpg"}
	}
	for i, ext := range r.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.Extensions[i] = ext
	}
	if r.LockFile == "" && cfg.ActiveArtwork != "" {
		r.LockFile = cfg.ActiveArtwork + ".lock"
	}

	v := &cfg.Viewer
	if v.ListenAddr == "" {
		v.ListenAddr = DefaultListenAddr
	}
	if v.WatchMode == "" {
		v.WatchMode = WatchNotify
	}
	if v.PollInterval == 0 {
		v.PollInterval = DefaultPollInterval
	}
	if v.Debounce == nil {
		d := DefaultDebounce
		v.Debounce = &d
	}
	if v.SettleDelay == nil {
		d := DefaultSettleDelay
		v.SettleDelay = &d
	}
	if v.JPEGQuality == 0 {
		v.JPEGQuality = DefaultJPEGQuality
	}
	if v.DecodeAttempts == 0 {
		v.DecodeAttempts = DefaultDecodeAttempts
	}
	if v.Fullscreen == nil {
		on := true
		v.Fullscreen = &on
	}

	if cfg.History.Driver == "" {
		cfg.History.Driver = "sqlite"
	}
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.ActiveArtwork == "" {
		errs = append(errs, errors.New("active_artwork is required"))
	} else if !strings.EqualFold(filepath.Ext(cfg.ActiveArtwork), ".jpg") {
		errs = append(errs, fmt.Errorf("active_artwork %q must be a .jpg file", cfg.ActiveArtwork))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if !validLogFormats[cfg.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format %q must be one of: auto, json, text", cfg.LogFormat))
	}

	r := cfg.Rotation
	if r.Interval < 0 {
		errs = append(errs, fmt.Errorf("rotation.interval %s must be positive", r.Interval))
	}
	if !validModes[r.Mode] {
		errs = append(errs, fmt.Errorf("rotation.mode %q must be one of: copy, move", r.Mode))
	}
	for i, ext := range r.Extensions {
		if ext == "" || ext == "." {
			errs = append(errs, fmt.Errorf("rotation.extensions[%d] is empty", i))
		}
	}

	v := cfg.Viewer
	if !validWatchModes[v.WatchMode] {
		errs = append(errs, fmt.Errorf("viewer.watch_mode %q must be one of: notify, poll", v.WatchMode))
	}
	if v.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("viewer.poll_interval %s must be positive", v.PollInterval))
	}
	if *v.Debounce < 0 {
		errs = append(errs, fmt.Errorf("viewer.debounce %s must not be negative", *v.Debounce))
	}
	if *v.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("viewer.settle_delay %s must not be negative", *v.SettleDelay))
	}
	if v.JPEGQuality < 1 || v.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("viewer.jpeg_quality %d must be between 1 and 100", v.JPEGQuality))
	}
	if v.DecodeAttempts < 1 {
		errs = append(errs, fmt.Errorf("viewer.decode_attempts %d must be at least 1", v.DecodeAttempts))
	}
	if v.Frame.Enabled() && (v.Frame.InnerWidth <= 0 || v.Frame.InnerHeight <= 0) {
		errs = append(errs, errors.New("viewer.frame.inner_width and viewer.frame.inner_height are required with viewer.frame.path"))
	}

	if !validDrivers[cfg.History.Driver] {
		errs = append(errs, fmt.Errorf("history.driver %q must be one of: sqlite, postgres, none", cfg.History.Driver))
	}

	return errors.Join(errs...)
}
