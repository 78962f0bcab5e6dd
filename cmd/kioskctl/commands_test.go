package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/artkiosk/kiosk/internal/history"
	"github.com/artkiosk/kiosk/internal/logging"
	"github.com/artkiosk/kiosk/internal/rotator"
	"github.com/artkiosk/kiosk/internal/server/rest"
)

func TestConfigValidate(t *testing.T) {
	env := setupCLITestEnv(t, 1)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath, "")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.activePath)
	requireContains(t, out, "History: sqlite")
}

func TestConfigValidateRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("active_artwork: /srv/art.png\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, err := runCLI(t, []string{"config", "validate"}, path, "")
	if err == nil {
		t.Fatal("expected validation error")
	}
	requireContains(t, err.Error(), ".jpg")
}

func TestConfigInitWritesLoadableSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.yaml")
	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	out, _, err = runCLI(t, []string{"config", "validate"}, target, "")
	if err != nil {
		t.Fatalf("sample config should validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", ""); err == nil {
		t.Fatal("expected refusal to overwrite existing config")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, "", ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestCandidatesLocal(t *testing.T) {
	env := setupCLITestEnv(t, 3)

	out, _, err := runCLI(t, []string{"candidates"}, env.configPath, "")
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		requireContains(t, out, name)
	}
	requireContains(t, out, "3 candidates")
}

func TestCandidatesJSON(t *testing.T) {
	env := setupCLITestEnv(t, 2)

	out, _, err := runCLI(t, []string{"candidates", "--json"}, env.configPath, "")
	if err != nil {
		t.Fatalf("candidates --json: %v", err)
	}
	var body struct {
		Candidates []string `json:"candidates"`
	}
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(body.Candidates) != 2 {
		t.Fatalf("candidates = %v, want 2", body.Candidates)
	}
}

func TestRotateLocalThenHistory(t *testing.T) {
	env := setupCLITestEnv(t, 2)

	out, _, err := runCLI(t, []string{"rotate"}, env.configPath, "")
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	requireContains(t, out, "Rotated ")
	requireContains(t, out, env.activePath)

	out, _, err = runCLI(t, []string{"history"}, env.configPath, "")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "manual")
	requireContains(t, out, "1 of 1 rotations")

	out, _, err = runCLI(t, []string{"history", "--json"}, env.configPath, "")
	if err != nil {
		t.Fatalf("history --json: %v", err)
	}
	var body struct {
		Total     int64              `json:"total"`
		Rotations []history.Rotation `json:"rotations"`
	}
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if body.Total != 1 || len(body.Rotations) != 1 {
		t.Fatalf("history = %+v", body)
	}
	if body.Rotations[0].Trigger != history.TriggerManual {
		t.Errorf("trigger = %q, want manual", body.Rotations[0].Trigger)
	}
}

func TestRotateLocalEmptyPool(t *testing.T) {
	env := setupCLITestEnv(t, 0)

	_, _, err := runCLI(t, []string{"rotate"}, env.configPath, "")
	if err == nil {
		t.Fatal("expected error for empty pool")
	}
	if !strings.Contains(err.Error(), "empty") {
		t.Errorf("error %q should mention the empty pool", err)
	}
}

func TestRotateLocalRefusedWhileLocked(t *testing.T) {
	env := setupCLITestEnv(t, 2)

	holder, err := rotator.New(rotator.Options{
		ActivePath: env.activePath,
		PoolDir:    env.poolDir,
		LockFile:   env.activePath + ".lock",
	}, logging.Discard())
	if err != nil {
		t.Fatalf("rotator.New: %v", err)
	}
	if err := holder.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer holder.Release()

	_, _, err = runCLI(t, []string{"rotate"}, env.configPath, "")
	if err == nil {
		t.Fatal("expected lock error")
	}
	requireContains(t, err.Error(), "--addr")
}

func TestHistoryDisabled(t *testing.T) {
	env := setupCLITestEnv(t, 1)
	cfg := "active_artwork: " + env.activePath + "\nhistory:\n  driver: none\n"
	if err := os.WriteFile(env.configPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, err := runCLI(t, []string{"history"}, env.configPath, "")
	if err == nil {
		t.Fatal("expected error when history is disabled")
	}
	requireContains(t, err.Error(), "disabled")
}

func TestRemoteCommands(t *testing.T) {
	env := setupCLITestEnv(t, 2)

	store, err := history.OpenSQLite(env.historyDSN)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer store.Close()

	rot, err := rotator.New(rotator.Options{
		ActivePath: env.activePath,
		PoolDir:    env.poolDir,
	}, logging.Discard(), rotator.WithRecorder(store))
	if err != nil {
		t.Fatalf("rotator.New: %v", err)
	}

	srv := rest.NewServer(rest.WithRotator(rot), rest.WithHistory(store), rest.WithLogger(logging.Discard()))
	ts := httptest.NewServer(rest.NewRouter(srv, nil))
	defer ts.Close()

	out, _, err := runCLI(t, []string{"candidates"}, "", ts.URL)
	if err != nil {
		t.Fatalf("remote candidates: %v", err)
	}
	requireContains(t, out, "2 candidates")

	out, _, err = runCLI(t, []string{"rotate"}, "", ts.URL)
	if err != nil {
		t.Fatalf("remote rotate: %v", err)
	}
	requireContains(t, out, "Rotated ")

	out, _, err = runCLI(t, []string{"history", "--limit", "5"}, "", ts.URL)
	if err != nil {
		t.Fatalf("remote history: %v", err)
	}
	requireContains(t, out, "1 of 1 rotations")

	n, err := store.Count(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Count = %d, %v; want 1", n, err)
	}
}

func TestRemoteErrorsAreReported(t *testing.T) {
	srv := rest.NewServer(rest.WithLogger(logging.Discard()))
	ts := httptest.NewServer(rest.NewRouter(srv, nil))
	defer ts.Close()

	_, _, err := runCLI(t, []string{"rotate"}, "", ts.URL)
	if err == nil {
		t.Fatal("expected error from a server without a rotator")
	}
	requireContains(t, err.Error(), "HTTP 501")
}
