// SPDX-License-Identifier: MPL-2.0

package sysroot

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrStage is the sentinel error wrapped by StageError.
var ErrStage = errors.New("staging failed")

type (
	// Target is the filesystem surface Stage writes into. Sandbox
	// filesystems implement it.
	Target interface {
		Exists(path string) (bool, error)
		MkdirAll(path string) error
		WriteFile(path string, data []byte) error
	}

	// File is an extra file staged on top of the archive. It is declared
	// either as text or as raw bytes.
	File struct {
		text   string
		data   []byte
		binary bool
	}

	// Files maps absolute guest paths to extra file contents.
	Files map[string]File

	// StageError reports the path that could not be staged.
	StageError struct {
		Path string
		Err  error
	}
)

// Text declares an extra file with text content.
func Text(s string) File { return File{text: s} }

// Binary declares an extra file with raw byte content.
func Binary(b []byte) File { return File{data: b, binary: true} }

// IsBinary reports whether the file was declared as raw bytes.
func (f File) IsBinary() bool { return f.binary }

// Bytes returns the content to write. Text is written UTF-8 encoded.
func (f File) Bytes() []byte {
	if f.binary {
		return f.data
	}
	return []byte(f.text)
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Path, e.Err)
}

// Unwrap returns ErrStage for errors.Is and exposes the cause for errors.As.
func (e *StageError) Unwrap() []error { return []error{ErrStage, e.Err} }

// Stage writes every file entry of archive and every extra file into target.
//
// Directory markers are skipped; parent directories are created on demand
// before each file is written. Extra files are written after the archive in
// sorted path order so they override archive entries at the same path.
// Staging is idempotent.
func Stage(target Target, archive []byte, extra Files) error {
	seen := make(map[string]bool)

	for entry := range Entries(archive) {
		if entry.IsDir() {
			continue
		}
		if err := ensureDir(target, seen, parentDir(entry.Name)); err != nil {
			return &StageError{Path: entry.Name, Err: err}
		}
		if err := target.WriteFile(entry.Name, entry.Content); err != nil {
			return &StageError{Path: entry.Name, Err: err}
		}
	}

	for _, name := range slices.Sorted(maps.Keys(extra)) {
		if dir := parentDir(name); dir != "" {
			if err := target.MkdirAll(dir); err != nil {
				return &StageError{Path: name, Err: err}
			}
		}
		if err := target.WriteFile(name, extra[name].Bytes()); err != nil {
			return &StageError{Path: name, Err: err}
		}
	}

	return nil
}

func ensureDir(target Target, seen map[string]bool, dir string) error {
	if dir == "" || seen[dir] {
		return nil
	}
	exists, err := target.Exists(dir)
	if err != nil {
		return err
	}
	if !exists {
		if err := target.MkdirAll(dir); err != nil {
			return err
		}
	}
	seen[dir] = true
	return nil
}

// parentDir returns every path segment but the last, joined with "/".
// A name without a separator has no parent to create.
func parentDir(name string) string {
	i := strings.LastIndexByte(name, '/')
	if i < 0 {
		return ""
	}
	return name[:i]
}
