// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestFSRoundTrip(t *testing.T) {
	t.Parallel()

	backends := map[string]func(t *testing.T) FS{
		"mem": func(*testing.T) FS { return NewMemFS() },
		"dir": func(t *testing.T) FS { return NewDirFS(t.TempDir()) },
	}

	for name, newFS := range backends {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fs := newFS(t)

			if err := fs.MkdirAll("/include/c++/v1"); err != nil {
				t.Fatalf("MkdirAll() error: %v", err)
			}
			if err := fs.MkdirAll("/include/c++/v1"); err != nil {
				t.Fatalf("MkdirAll() on existing dir error: %v", err)
			}
			if err := fs.WriteFile("/include/c++/v1/vector", []byte("#pragma once\n")); err != nil {
				t.Fatalf("WriteFile() error: %v", err)
			}

			for _, p := range []string{"/include", "include/c++", "/include/c++/v1/vector"} {
				ok, err := fs.Exists(p)
				if err != nil {
					t.Fatalf("Exists(%q) error: %v", p, err)
				}
				if !ok {
					t.Errorf("Exists(%q) = false, want true", p)
				}
			}
			if ok, _ := fs.Exists("/lib"); ok {
				t.Error("Exists(/lib) = true on fresh filesystem")
			}

			got, err := fs.ReadFile("include/c++/v1/vector")
			if err != nil {
				t.Fatalf("ReadFile() error: %v", err)
			}
			if !bytes.Equal(got, []byte("#pragma once\n")) {
				t.Errorf("ReadFile() = %q", got)
			}

			if _, err := fs.ReadFile("/missing"); err == nil {
				t.Error("ReadFile(/missing) succeeded")
			}
		})
	}
}

func TestDirFSStaysInsideRoot(t *testing.T) {
	t.Parallel()

	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatal(err)
	}
	fs := NewDirFS(root)

	if err := fs.WriteFile("/../escape.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(parent, "escape.txt")); !os.IsNotExist(err) {
		t.Error("write escaped the sandbox root")
	}
	if _, err := os.Stat(filepath.Join(root, "escape.txt")); err != nil {
		t.Errorf("expected file inside root: %v", err)
	}
}

func TestGuestPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"a/b", "/a/b"},
		{"/a/./b/", "/a/b"},
		{"/../a", "/a"},
		{"/tmp/../lib/x.o", "/lib/x.o"},
	}
	for _, tt := range tests {
		if got := guestPath(tt.in); got != tt.want {
			t.Errorf("guestPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
