// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// ContextCloser is implemented by sandboxes, toolchains and other resources
// released with a context.
type ContextCloser interface {
	Close(ctx context.Context) error
}

// MustChdir changes the current working directory to dir and restores it
// when the test finishes. Tests calling it must not run in parallel.
func MustChdir(t testing.TB, dir string) {
	t.Helper()
	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get current directory: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("failed to change directory to %s: %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(originalWd); err != nil {
			t.Errorf("failed to restore directory to %s: %v", originalWd, err)
		}
	})
}

// WriteFile writes content to dir/name, creating parent directories, and
// returns the full path.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", name, err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return p
}

// DeferClose registers c.Close as test cleanup. Close errors are reported
// without failing the test.
func DeferClose(t testing.TB, c ContextCloser) {
	t.Helper()
	t.Cleanup(func() {
		if err := c.Close(context.Background()); err != nil {
			t.Logf("warning: close: %v", err)
		}
	})
}
