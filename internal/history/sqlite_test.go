package history_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/artkiosk/kiosk/internal/history"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func makeRotation(i int) history.Rotation {
	return history.Rotation{
		ID:        fmt.Sprintf("rot-%d", i),
		Source:    fmt.Sprintf("/pool/%02d.jpg", i),
		Target:    "/srv/active.jpg",
		Mode:      "copy",
		Trigger:   history.TriggerSchedule,
		RotatedAt: time.Date(2026, 10, 1, 12, i, 0, 0, time.UTC),
	}
}

// openMemStore opens an in-memory SQLiteStore closed via t.Cleanup.
func openMemStore(t *testing.T) *history.SQLiteStore {
	t.Helper()
	s, err := history.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite(:memory:): %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSQLite_EmptyStore(t *testing.T) {
	s := openMemStore(t)
	ctx := context.Background()

	n, err := s.Count(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Count = %d, %v; want 0, nil", n, err)
	}
	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Recent returned %d rows, want 0", len(got))
	}
}

func TestSQLite_RecordAndRecentNewestFirst(t *testing.T) {
	s := openMemStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := s.Record(ctx, makeRotation(i)); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent returned %d rows, want 3", len(got))
	}
	for i, want := range []string{"rot-3", "rot-2", "rot-1"} {
		if got[i].ID != want {
			t.Errorf("Recent[%d].ID = %q, want %q", i, got[i].ID, want)
		}
	}

	first := got[2]
	want := makeRotation(1)
	if first.Source != want.Source || first.Target != want.Target || first.Mode != want.Mode {
		t.Errorf("round trip mismatch: %+v", first)
	}
	if first.Trigger != history.TriggerSchedule {
		t.Errorf("Trigger = %q", first.Trigger)
	}
	if !first.RotatedAt.Equal(want.RotatedAt) {
		t.Errorf("RotatedAt = %v, want %v", first.RotatedAt, want.RotatedAt)
	}
}

func TestSQLite_RecentLimit(t *testing.T) {
	s := openMemStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.Record(ctx, makeRotation(i)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].ID != "rot-4" {
		t.Errorf("Recent(2) = %+v", got)
	}
}

func TestSQLite_DuplicateIDIgnored(t *testing.T) {
	s := openMemStore(t)
	ctx := context.Background()
	r := makeRotation(1)
	if err := s.Record(ctx, r); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Record(ctx, r); err != nil {
		t.Fatalf("second Record: %v", err)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("Count = %d after duplicate record, want 1", n)
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := history.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := s.Record(ctx, makeRotation(7)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	_ = s.Close()

	s2, err := history.Open(ctx, "sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if n, _ := s2.Count(ctx); n != 1 {
		t.Errorf("Count after reopen = %d, want 1", n)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := history.Open(context.Background(), "mongo", "x"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
