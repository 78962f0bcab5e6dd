package rotator_test

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/artkiosk/kiosk/internal/config"
	"github.com/artkiosk/kiosk/internal/history"
	"github.com/artkiosk/kiosk/internal/logging"
	"github.com/artkiosk/kiosk/internal/render"
	"github.com/artkiosk/kiosk/internal/rotator"
	"github.com/artkiosk/kiosk/internal/testsupport"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type fixture struct {
	active string
	pool   string
}

// newFixture creates an active artwork plus n distinct pool images.
func newFixture(t *testing.T, n int) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		active: filepath.Join(dir, "active.jpg"),
		pool:   filepath.Join(dir, "pool"),
	}
	testsupport.WriteJPEG(t, f.active, 8, 8, color.Black)
	if err := os.MkdirAll(f.pool, 0o755); err != nil {
		t.Fatalf("mkdir pool: %v", err)
	}
	for i := 0; i < n; i++ {
		c := color.RGBA{R: uint8(40 * (i + 1)), G: 10, B: 200, A: 255}
		testsupport.WriteJPEG(t, filepath.Join(f.pool, string(rune('a'+i))+".jpg"), 8+i, 8, c)
	}
	return f
}

func newRotator(t *testing.T, f fixture, mutate func(*rotator.Options), opts ...rotator.Option) *rotator.Rotator {
	t.Helper()
	o := rotator.Options{ActivePath: f.active, PoolDir: f.pool}
	if mutate != nil {
		mutate(&o)
	}
	opts = append([]rotator.Option{rotator.WithRand(rand.New(rand.NewPCG(1, 2)))}, opts...)
	r, err := rotator.New(o, logging.Discard(), opts...)
	if err != nil {
		t.Fatalf("rotator.New: %v", err)
	}
	return r
}

type memRecorder struct {
	mu   sync.Mutex
	rows []history.Rotation
}

func (m *memRecorder) Record(_ context.Context, r history.Rotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, r)
	return nil
}

func (m *memRecorder) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNew_InvalidActive(t *testing.T) {
	f := newFixture(t, 1)
	cases := map[string]string{
		"missing":       filepath.Join(filepath.Dir(f.active), "missing.jpg"),
		"png extension": filepath.Join(f.pool, "a.png"),
		"directory":     f.pool,
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := rotator.New(rotator.Options{ActivePath: path, PoolDir: f.pool}, logging.Discard())
			if !errors.Is(err, rotator.ErrInvalidActive) {
				t.Errorf("err = %v, want ErrInvalidActive", err)
			}
		})
	}
}

func TestNew_InvalidPool(t *testing.T) {
	f := newFixture(t, 0)
	_, err := rotator.New(rotator.Options{
		ActivePath: f.active,
		PoolDir:    filepath.Join(f.pool, "nope"),
	}, logging.Discard())
	if !errors.Is(err, rotator.ErrInvalidPool) {
		t.Errorf("err = %v, want ErrInvalidPool", err)
	}
}

func TestNew_UnknownMode(t *testing.T) {
	f := newFixture(t, 1)
	_, err := rotator.New(rotator.Options{ActivePath: f.active, PoolDir: f.pool, Mode: "swap"}, logging.Discard())
	if err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestNew_Defaults(t *testing.T) {
	f := newFixture(t, 1)
	r := newRotator(t, f, nil)
	if r.Interval() != config.DefaultInterval {
		t.Errorf("Interval = %s, want %s", r.Interval(), config.DefaultInterval)
	}
}

// ---------------------------------------------------------------------------
// Candidates and Pick
// ---------------------------------------------------------------------------

func TestCandidates_FiltersPool(t *testing.T) {
	f := newFixture(t, 2)
	testsupport.WriteText(t, filepath.Join(f.pool, "notes.txt"), "x")
	testsupport.WriteText(t, filepath.Join(f.pool, ".hidden.jpg"), "x")
	testsupport.WriteJPEG(t, filepath.Join(f.pool, "UPPER.JPG"), 4, 4, color.White)
	if err := os.MkdirAll(filepath.Join(f.pool, "sub.jpg"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := newRotator(t, f, nil).Candidates()
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	want := []string{
		filepath.Join(f.pool, "UPPER.JPG"),
		filepath.Join(f.pool, "a.jpg"),
		filepath.Join(f.pool, "b.jpg"),
	}
	if len(got) != len(want) {
		t.Fatalf("Candidates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Candidates[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCandidates_ExtraExtensions(t *testing.T) {
	f := newFixture(t, 1)
	testsupport.WriteJPEG(t, filepath.Join(f.pool, "z.jpeg"), 4, 4, color.White)
	r := newRotator(t, f, func(o *rotator.Options) { o.Extensions = []string{".jpg", ".jpeg"} })
	got, err := r.Candidates()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("Candidates = %v, want a.jpg and z.jpeg", got)
	}
}

func TestCandidates_ExcludesActiveInsidePool(t *testing.T) {
	f := newFixture(t, 2)
	f.active = filepath.Join(f.pool, "a.jpg")
	r := newRotator(t, f, nil)

	for i := 0; i < 50; i++ {
		p, err := r.Pick()
		if err != nil {
			t.Fatalf("Pick: %v", err)
		}
		if p == f.active {
			t.Fatalf("Pick returned the active artwork %q", p)
		}
	}
}

func TestPick_EmptyPool(t *testing.T) {
	f := newFixture(t, 0)
	_, err := newRotator(t, f, nil).Pick()
	if !errors.Is(err, rotator.ErrEmptyPool) {
		t.Errorf("err = %v, want ErrEmptyPool", err)
	}
}

func TestPick_CoversPool(t *testing.T) {
	f := newFixture(t, 3)
	r := newRotator(t, f, nil)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		p, err := r.Pick()
		if err != nil {
			t.Fatal(err)
		}
		seen[p] = true
	}
	if len(seen) != 3 {
		t.Errorf("picked %d distinct files over 200 draws, want 3", len(seen))
	}
}

// ---------------------------------------------------------------------------
// RotateOnce
// ---------------------------------------------------------------------------

func TestRotateOnce_CopyKeepsPool(t *testing.T) {
	f := newFixture(t, 2)
	rec := &memRecorder{}
	r := newRotator(t, f, nil, rotator.WithRecorder(rec))

	rot, err := r.RotateOnce(context.Background(), history.TriggerManual)
	if err != nil {
		t.Fatalf("RotateOnce: %v", err)
	}
	if err := render.ValidJPEG(f.active); err != nil {
		t.Errorf("active artwork is not a valid jpeg after rotation: %v", err)
	}
	if !bytes.Equal(testsupport.ReadFile(t, f.active), testsupport.ReadFile(t, rot.Source)) {
		t.Error("active artwork does not match the chosen source")
	}
	if cands, _ := r.Candidates(); len(cands) != 2 {
		t.Errorf("pool has %d files after copy, want 2", len(cands))
	}
	if rot.Mode != config.ModeCopy || rot.Trigger != history.TriggerManual || rot.ID == "" {
		t.Errorf("rotation = %+v", rot)
	}
	if rec.len() != 1 {
		t.Errorf("recorded %d rotations, want 1", rec.len())
	}
	if last, ok := r.Last(); !ok || last.ID != rot.ID {
		t.Errorf("Last = %+v, %v", last, ok)
	}
}

func TestRotateOnce_MoveDepletesPool(t *testing.T) {
	f := newFixture(t, 2)
	r := newRotator(t, f, func(o *rotator.Options) { o.Mode = config.ModeMove })

	for i := 0; i < 2; i++ {
		rot, err := r.RotateOnce(context.Background(), history.TriggerSchedule)
		if err != nil {
			t.Fatalf("RotateOnce #%d: %v", i, err)
		}
		if _, err := os.Stat(rot.Source); !os.IsNotExist(err) {
			t.Errorf("source %q still exists after move", rot.Source)
		}
		if err := render.ValidJPEG(f.active); err != nil {
			t.Errorf("active artwork invalid: %v", err)
		}
	}

	_, err := r.RotateOnce(context.Background(), history.TriggerSchedule)
	if !errors.Is(err, rotator.ErrEmptyPool) {
		t.Errorf("third rotation err = %v, want ErrEmptyPool", err)
	}
}

func TestRotateOnce_LeavesNoTempFiles(t *testing.T) {
	f := newFixture(t, 1)
	r := newRotator(t, f, nil)
	if _, err := r.RotateOnce(context.Background(), history.TriggerManual); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Dir(f.active))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file %q left behind", e.Name())
		}
	}
}

func TestRotateOnce_CancelledContext(t *testing.T) {
	f := newFixture(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newRotator(t, f, nil).RotateOnce(ctx, history.TriggerManual); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// ---------------------------------------------------------------------------
// Run and locking
// ---------------------------------------------------------------------------

func TestRun_RotatesOnScheduleAndOnStart(t *testing.T) {
	f := newFixture(t, 2)
	rec := &memRecorder{}
	r := newRotator(t, f, func(o *rotator.Options) {
		o.Interval = 40 * time.Millisecond
		o.RotateOnStart = true
		o.LockFile = f.active + ".lock"
	}, rotator.WithRecorder(rec))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for rec.len() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if rec.len() < 3 {
		t.Fatalf("recorded %d rotations, want at least 3", rec.len())
	}
	if rec.rows[0].Trigger != history.TriggerStartup {
		t.Errorf("first trigger = %q, want startup", rec.rows[0].Trigger)
	}
	if rec.rows[1].Trigger != history.TriggerSchedule {
		t.Errorf("second trigger = %q, want schedule", rec.rows[1].Trigger)
	}
}

func TestRun_EmptyPoolKeepsRunning(t *testing.T) {
	f := newFixture(t, 0)
	r := newRotator(t, f, func(o *rotator.Options) { o.Interval = 10 * time.Millisecond })

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		t.Errorf("Run returned %v, want nil after context expiry", err)
	}
}

func TestRun_SecondInstanceIsLockedOut(t *testing.T) {
	f := newFixture(t, 1)
	lock := f.active + ".lock"
	first := newRotator(t, f, func(o *rotator.Options) { o.LockFile = lock })
	second := newRotator(t, f, func(o *rotator.Options) { o.LockFile = lock })

	if err := first.Acquire(); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer first.Release()

	err := second.Run(context.Background())
	if !errors.Is(err, rotator.ErrLocked) {
		t.Errorf("second Run err = %v, want ErrLocked", err)
	}
}

func TestRun_TriggerRotatesImmediately(t *testing.T) {
	f := newFixture(t, 1)
	rec := &memRecorder{}
	r := newRotator(t, f, func(o *rotator.Options) { o.Interval = time.Hour }, rotator.WithRecorder(rec))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	r.Trigger()
	deadline := time.Now().Add(2 * time.Second)
	for rec.len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rec.len() != 1 {
		t.Fatalf("recorded %d rotations, want 1", rec.len())
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.rows[0].Trigger != history.TriggerManual {
		t.Errorf("trigger = %q, want manual", rec.rows[0].Trigger)
	}
}
