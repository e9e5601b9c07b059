// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/invowk/wasmcc/internal/config"
)

// useConfigDir points the config package at a fresh directory. Tests using
// it must not run in parallel.
func useConfigDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "wasmcc")
	config.SetConfigDirOverride(dir)
	t.Cleanup(config.Reset)
	return dir
}

func newConfigApp(stdout *bytes.Buffer) *App {
	return NewApp(Dependencies{Stdout: stdout, Stderr: &bytes.Buffer{}})
}

func runRoot(t *testing.T, app *App, stdout *bytes.Buffer, args ...string) error {
	t.Helper()
	root := NewRootCommand(app)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(&bytes.Buffer{})
	return root.ExecuteContext(context.Background())
}

func TestConfigDumpUsesProvider(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 0)
	h.cfg.Sysroot.Location = "https://example.com/sysroot.tar.zst"

	if err := h.run(t, "config", "dump"); err != nil {
		t.Fatalf("config dump error: %v", err)
	}
	out := h.stdout.String()
	for _, want := range []string{`location: "https://example.com/sysroot.tar.zst"`, `flags: ["-Wall"]`} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
}

func TestConfigShowMarksUnsetValues(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 0)
	h.cfg.Sysroot.Digest = ""

	if err := h.run(t, "config", "show"); err != nil {
		t.Fatalf("config show error: %v", err)
	}
	out := h.stdout.String()
	if !strings.Contains(out, "digest") || !strings.Contains(out, "(unset)") {
		t.Errorf("show output should mark the unset digest:\n%s", out)
	}
	if !strings.Contains(out, "clang.wasm") {
		t.Errorf("show output missing toolchain.clang:\n%s", out)
	}
}

func TestConfigLoadErrorFailsCommand(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 0)
	loadErr := errors.New("broken config")
	h.app.Config = staticConfig{err: loadErr}

	err := h.run(t, "config", "show")
	if !errors.Is(err, loadErr) {
		t.Fatalf("error = %v, want %v", err, loadErr)
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Errorf("error = %v, want ExitError code 1", err)
	}
}

func TestConfigInitAndSet(t *testing.T) {
	dir := useConfigDir(t)
	var stdout bytes.Buffer
	app := newConfigApp(&stdout)

	if err := runRoot(t, app, &stdout, "config", "init"); err != nil {
		t.Fatalf("config init error: %v", err)
	}
	cfgPath := filepath.Join(dir, "config.cue")
	if _, err := os.Stat(cfgPath); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	// A second init leaves the file alone.
	stdout.Reset()
	if err := runRoot(t, newConfigApp(&stdout), &stdout, "config", "init"); err != nil {
		t.Fatalf("second config init error: %v", err)
	}
	if !strings.Contains(stdout.String(), "already exists") {
		t.Errorf("second init output = %q", stdout.String())
	}

	if err := runRoot(t, newConfigApp(&stdout), &stdout, "config", "set", "sysroot.location", "/opt/sysroot.tar.gz"); err != nil {
		t.Fatalf("config set error: %v", err)
	}
	if err := runRoot(t, newConfigApp(&stdout), &stdout, "config", "set", "compile.timeout", "90s"); err != nil {
		t.Fatalf("config set error: %v", err)
	}

	cfg, err := config.NewProvider().Load(context.Background(), config.LoadOptions{})
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if cfg.Sysroot.Location != "/opt/sysroot.tar.gz" {
		t.Errorf("sysroot.location = %q", cfg.Sysroot.Location)
	}
	if cfg.Compile.Timeout != "90s" {
		t.Errorf("compile.timeout = %q", cfg.Compile.Timeout)
	}
}

func TestConfigSetRejectsInvalidValues(t *testing.T) {
	useConfigDir(t)

	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "unknown key", key: "container_engine", value: "docker"},
		{name: "bad digest", key: "sysroot.digest", value: "md5:abc"},
		{name: "bad timeout", key: "compile.timeout", value: "soon"},
		{name: "bad color scheme", key: "ui.color_scheme", value: "neon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout bytes.Buffer
			err := runRoot(t, newConfigApp(&stdout), &stdout, "config", "set", tt.key, tt.value)
			if err == nil {
				t.Fatalf("config set %s %s succeeded, want error", tt.key, tt.value)
			}
		})
	}
}

func TestConfigPath(t *testing.T) {
	dir := useConfigDir(t)
	var stdout bytes.Buffer

	if err := runRoot(t, newConfigApp(&stdout), &stdout, "config", "path"); err != nil {
		t.Fatalf("config path error: %v", err)
	}
	if !strings.Contains(stdout.String(), filepath.Join(dir, "config.cue")) {
		t.Errorf("config path output = %q", stdout.String())
	}
}
