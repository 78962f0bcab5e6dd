package main

import (
	"bytes"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/artkiosk/kiosk/internal/testsupport"
)

type cliTestEnv struct {
	configPath string
	activePath string
	poolDir    string
	historyDSN string
}

// setupCLITestEnv writes a config file pointing at a temp active artwork and
// a pool holding n JPEGs.
func setupCLITestEnv(t *testing.T, n int) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	env := &cliTestEnv{
		configPath: filepath.Join(base, "config.yaml"),
		activePath: filepath.Join(base, "active.jpg"),
		poolDir:    filepath.Join(base, "pool"),
		historyDSN: filepath.Join(base, "history.db"),
	}
	if err := os.MkdirAll(env.poolDir, 0o755); err != nil {
		t.Fatalf("mkdir pool: %v", err)
	}
	testsupport.WriteJPEG(t, env.activePath, 8, 8, color.Black)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%c.jpg", 'a'+i)
		testsupport.WriteJPEG(t, filepath.Join(env.poolDir, name), 8, 8, color.White)
	}

	cfg := fmt.Sprintf(`active_artwork: %q
image_directory: %q
rotation:
  mode: copy
history:
  driver: sqlite
  dsn: %q
`, env.activePath, env.poolDir, env.historyDSN)
	if err := os.WriteFile(env.configPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func runCLI(t *testing.T, args []string, configPath, addr string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--token", ""}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	if addr != "" {
		flags = append(flags, "--addr", addr)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
