// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"fmt"
	"path"

	"github.com/spf13/afero"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// aferoFS adapts an afero.Fs to FS. Guest paths are cleaned and made
// absolute before they reach the backing filesystem, so "a/b" and "/a/b"
// name the same file.
type aferoFS struct {
	fs afero.Fs
}

// NewFS wraps fs as a sandbox filesystem.
func NewFS(fs afero.Fs) FS {
	return &aferoFS{fs: fs}
}

// NewMemFS returns an empty in-memory sandbox filesystem.
func NewMemFS() FS {
	return NewFS(afero.NewMemMapFs())
}

// NewDirFS returns a sandbox filesystem rooted at the host directory root.
// Guest paths cannot escape root.
func NewDirFS(root string) FS {
	return NewFS(afero.NewBasePathFs(afero.NewOsFs(), root))
}

func guestPath(p string) string {
	return path.Join("/", p)
}

func (f *aferoFS) Exists(p string) (bool, error) {
	ok, err := afero.Exists(f.fs, guestPath(p))
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
	return ok, nil
}

func (f *aferoFS) MkdirAll(p string) error {
	if err := f.fs.MkdirAll(guestPath(p), dirPerm); err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	return nil
}

func (f *aferoFS) WriteFile(p string, data []byte) error {
	if err := afero.WriteFile(f.fs, guestPath(p), data, filePerm); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

func (f *aferoFS) ReadFile(p string) ([]byte, error) {
	data, err := afero.ReadFile(f.fs, guestPath(p))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}
