// Package rotator periodically replaces the active artwork file with an image
// sampled uniformly at random from the image pool directory.
package rotator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/artkiosk/kiosk/internal/config"
	"github.com/artkiosk/kiosk/internal/history"
)

var (
	// ErrInvalidActive is returned by New when the active artwork path is
	// missing, not a regular file, or not a .jpg.
	ErrInvalidActive = errors.New("rotator: active artwork is not an existing .jpg file")
	// ErrInvalidPool is returned by New when the image directory is missing.
	ErrInvalidPool = errors.New("rotator: image directory does not exist")
	// ErrEmptyPool is returned when the pool holds no candidate images.
	ErrEmptyPool = errors.New("rotator: image pool is empty")
	// ErrLocked is returned by Acquire when another rotator holds the lock.
	ErrLocked = errors.New("rotator: another rotator is running for this artwork")
)

// Options configures a Rotator.
type Options struct {
	// ActivePath is the artwork file replaced on every rotation.
	ActivePath string
	// PoolDir is the directory sampled for new artwork.
	PoolDir string
	// Interval between scheduled rotations. Zero uses config.DefaultInterval.
	Interval time.Duration
	// Mode is config.ModeCopy or config.ModeMove. Empty means copy.
	Mode string
	// Extensions lists accepted lower-case extensions. Empty means [".jpg"].
	Extensions []string
	// LockFile is the single-instance lock path. Empty disables locking.
	LockFile string
	// RotateOnStart rotates once as soon as Run starts.
	RotateOnStart bool
}

// OptionsFromConfig maps the rotation section of cfg to Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ActivePath:    cfg.ActiveArtwork,
		PoolDir:       cfg.ImageDirectory,
		Interval:      cfg.Rotation.Interval,
		Mode:          cfg.Rotation.Mode,
		Extensions:    cfg.Rotation.Extensions,
		LockFile:      cfg.Rotation.LockFile,
		RotateOnStart: cfg.Rotation.RotateOnStart,
	}
}

// Recorder persists completed rotations. history.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, r history.Rotation) error
}

// Rotator owns the active artwork path and the image pool. RotateOnce may be
// called concurrently with Run; rotations are serialised.
type Rotator struct {
	opts     Options
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time

	lock *flock.Flock

	// mu serialises rotations and guards rng and last.
	mu      sync.Mutex
	rng     *rand.Rand
	last    history.Rotation
	rotated chan struct{}
	trigger chan struct{}
}

// Option is a functional option for Rotator construction.
type Option func(*Rotator)

// WithRecorder registers the store that receives every rotation.
func WithRecorder(rec Recorder) Option {
	return func(r *Rotator) { r.recorder = rec }
}

// WithRand replaces the random source, for deterministic tests.
func WithRand(rng *rand.Rand) Option {
	return func(r *Rotator) { r.rng = rng }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Rotator) { r.now = now }
}

// New validates opts and returns a Rotator. The active artwork must exist,
// be a regular file, and carry a .jpg extension; the pool directory must
// exist.
func New(opts Options, logger *slog.Logger, options ...Option) (*Rotator, error) {
	if err := checkActive(opts.ActivePath); err != nil {
		return nil, err
	}
	if info, err := os.Stat(opts.PoolDir); opts.PoolDir == "" || err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPool, opts.PoolDir)
	}

	if opts.Interval <= 0 {
		opts.Interval = config.DefaultInterval
	}
	switch opts.Mode {
	case "":
		opts.Mode = config.ModeCopy
	case config.ModeCopy, config.ModeMove:
	default:
		return nil, fmt.Errorf("rotator: unknown mode %q", opts.Mode)
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".jpg"}
	}

	r := &Rotator{
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		rotated: make(chan struct{}, 1),
		trigger: make(chan struct{}, 1),
	}
	if opts.LockFile != "" {
		r.lock = flock.New(opts.LockFile)
	}
	for _, o := range options {
		o(r)
	}
	return r, nil
}

func checkActive(path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".jpg") {
		return fmt.Errorf("%w: %q", ErrInvalidActive, path)
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %q", ErrInvalidActive, path)
	}
	return nil
}

// Acquire takes the single-instance lock. It returns ErrLocked when another
// process holds it. Without a configured lock file it is a no-op.
func (r *Rotator) Acquire() error {
	if r.lock == nil {
		return nil
	}
	ok, err := r.lock.TryLock()
	if err != nil {
		return fmt.Errorf("rotator: acquire lock %q: %w", r.opts.LockFile, err)
	}
	if !ok {
		return fmt.Errorf("%w (lock %q)", ErrLocked, r.opts.LockFile)
	}
	return nil
}

// Release drops the single-instance lock.
func (r *Rotator) Release() {
	if r.lock == nil {
		return
	}
	if err := r.lock.Unlock(); err != nil {
		r.logger.Warn("rotator: failed to release lock", slog.Any("error", err))
	}
}

// Candidates lists the pool files eligible for rotation, sorted by name.
// Sub-directories, hidden files, files with other extensions, and the active
// artwork itself are excluded.
func (r *Rotator) Candidates() ([]string, error) {
	entries, err := os.ReadDir(r.opts.PoolDir)
	if err != nil {
		return nil, fmt.Errorf("rotator: read pool %q: %w", r.opts.PoolDir, err)
	}

	activeAbs, _ := filepath.Abs(r.opts.ActivePath)
	activeInfo, _ := os.Stat(r.opts.ActivePath)

	var out []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || !r.accepts(name) {
			continue
		}
		path := filepath.Join(r.opts.PoolDir, name)
		if abs, err := filepath.Abs(path); err == nil && abs == activeAbs {
			continue
		}
		if activeInfo != nil {
			if info, err := e.Info(); err == nil && os.SameFile(info, activeInfo) {
				continue
			}
		}
		out = append(out, path)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Rotator) accepts(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range r.opts.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

// Pick returns one candidate chosen uniformly at random, or ErrEmptyPool.
func (r *Rotator) Pick() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pickLocked()
}

func (r *Rotator) pickLocked() (string, error) {
	candidates, err := r.Candidates()
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: %q", ErrEmptyPool, r.opts.PoolDir)
	}
	return candidates[r.rng.IntN(len(candidates))], nil
}

// RotateOnce replaces the active artwork with a randomly chosen pool image
// and records the rotation. In copy mode the pool is unchanged; in move mode
// the chosen file leaves the pool.
func (r *Rotator) RotateOnce(ctx context.Context, trigger history.Trigger) (history.Rotation, error) {
	if err := ctx.Err(); err != nil {
		return history.Rotation{}, err
	}

	r.mu.Lock()
	src, err := r.pickLocked()
	if err != nil {
		r.mu.Unlock()
		return history.Rotation{}, err
	}

	if r.opts.Mode == config.ModeMove {
		err = moveFile(src, r.opts.ActivePath)
	} else {
		err = copyAtomic(src, r.opts.ActivePath)
	}
	if err != nil {
		r.mu.Unlock()
		return history.Rotation{}, fmt.Errorf("rotator: install %q: %w", src, err)
	}

	rot := history.Rotation{
		ID:        uuid.NewString(),
		Source:    src,
		Target:    r.opts.ActivePath,
		Mode:      r.opts.Mode,
		Trigger:   trigger,
		RotatedAt: r.now().UTC(),
	}
	r.last = rot
	r.mu.Unlock()

	select {
	case r.rotated <- struct{}{}:
	default:
	}

	r.logger.Info("rotator: artwork rotated",
		slog.String("source", src),
		slog.String("target", r.opts.ActivePath),
		slog.String("mode", r.opts.Mode),
		slog.String("trigger", string(trigger)),
	)

	if r.recorder != nil {
		if err := r.recorder.Record(ctx, rot); err != nil {
			r.logger.Warn("rotator: failed to record rotation", slog.Any("error", err))
		}
	}
	return rot, nil
}

// Last returns the most recent rotation performed by this Rotator.
func (r *Rotator) Last() (history.Rotation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.last.ID != ""
}

// Trigger asks a running Run loop for an immediate manual rotation. Requests
// made while one is already pending are coalesced.
func (r *Rotator) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Interval returns the configured rotation interval.
func (r *Rotator) Interval() time.Duration { return r.opts.Interval }

// Run rotates every interval until ctx is cancelled. Any rotation, scheduled
// or not, restarts the interval. Rotation errors, including ErrEmptyPool, are
// logged and the loop continues. Run holds the single-instance lock for its
// whole lifetime.
func (r *Rotator) Run(ctx context.Context) error {
	if err := r.Acquire(); err != nil {
		return err
	}
	defer r.Release()

	r.logger.Info("rotator: started",
		slog.String("active", r.opts.ActivePath),
		slog.String("pool", r.opts.PoolDir),
		slog.Duration("interval", r.opts.Interval),
		slog.String("mode", r.opts.Mode),
	)

	if r.opts.RotateOnStart {
		r.tick(ctx, history.TriggerStartup)
	}

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("rotator: stopped")
			return nil
		case <-r.rotated:
			ticker.Reset(r.opts.Interval)
		case <-r.trigger:
			r.tick(ctx, history.TriggerManual)
		case <-ticker.C:
			r.tick(ctx, history.TriggerSchedule)
		}
	}
}

func (r *Rotator) tick(ctx context.Context, trigger history.Trigger) {
	_, err := r.RotateOnce(ctx, trigger)
	switch {
	case err == nil:
	case errors.Is(err, ErrEmptyPool):
		r.logger.Warn("rotator: nothing to rotate", slog.String("pool", r.opts.PoolDir))
	case errors.Is(err, context.Canceled):
	default:
		r.logger.Error("rotator: rotation failed", slog.Any("error", err))
	}
}
