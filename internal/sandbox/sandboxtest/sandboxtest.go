// SPDX-License-Identifier: MPL-2.0

// Package sandboxtest provides scripted in-memory sandboxes for tests of
// code that drives the toolchain without loading real WASI binaries.
package sandboxtest

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"slices"
	"sync"

	"github.com/invowk/wasmcc/internal/sandbox"
)

type (
	// MainFunc is the scripted entry point of a fake sandbox. It receives
	// the full argv (argv[0] included), the sandbox filesystem and the
	// diagnostics writer.
	MainFunc func(ctx context.Context, argv []string, fs sandbox.FS, diag io.Writer) (sandbox.ExitCode, error)

	// Call records one CallMain invocation.
	Call struct {
		Argv []string
	}

	// Fake is a scripted sandbox.Factory. Every sandbox it creates has a
	// fresh in-memory filesystem holding sandbox.DefaultDirs and runs Main.
	Fake struct {
		Main MainFunc
		// Setup runs against each new filesystem before it is handed out.
		Setup func(fs sandbox.FS) error

		mu        sync.Mutex
		calls     []Call
		instances []*Module
		created   int
	}

	// Module is a sandbox created by Fake.
	Module struct {
		fake   *Fake
		fs     sandbox.FS
		opts   sandbox.Options
		closed bool
	}
)

// New returns a Fake that runs main.
func New(main MainFunc) *Fake {
	return &Fake{Main: main}
}

// Exit returns a MainFunc that writes diag and exits with code.
func Exit(code sandbox.ExitCode, diag string) MainFunc {
	return func(_ context.Context, _ []string, _ sandbox.FS, w io.Writer) (sandbox.ExitCode, error) {
		if diag != "" {
			_, _ = io.WriteString(w, diag)
		}
		return code, nil
	}
}

// WriteOutput writes an artifact the way a WASI guest opens its -o path:
// the parent directory must already exist.
func WriteOutput(sfs sandbox.FS, name string, data []byte) error {
	dir := path.Dir(path.Join("/", name))
	ok, err := sfs.Exists(dir)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("open %s: %w", name, fs.ErrNotExist)
	}
	return sfs.WriteFile(name, data)
}

// Factory returns the sandbox.Factory backed by f.
func (f *Fake) Factory() sandbox.Factory {
	return func(ctx context.Context, opts sandbox.Options) (sandbox.Module, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fs := sandbox.NewMemFS()
		for _, dir := range sandbox.DefaultDirs {
			if err := fs.MkdirAll(dir); err != nil {
				return nil, fmt.Errorf("sandbox setup: %w", err)
			}
		}
		if f.Setup != nil {
			if err := f.Setup(fs); err != nil {
				return nil, fmt.Errorf("sandbox setup: %w", err)
			}
		}
		m := &Module{fake: f, fs: fs, opts: opts}
		f.mu.Lock()
		f.created++
		f.instances = append(f.instances, m)
		f.mu.Unlock()
		return m, nil
	}
}

// Calls returns a copy of every recorded invocation.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Created returns how many sandboxes the factory produced.
func (f *Fake) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// Instances returns every sandbox the factory produced, in creation order.
func (f *Fake) Instances() []*Module {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.instances)
}

// ProgramName implements sandbox.Module.
func (m *Module) ProgramName() string { return m.opts.ProgramName }

// FS implements sandbox.Module.
func (m *Module) FS() sandbox.FS { return m.fs }

// CallMain implements sandbox.Module.
func (m *Module) CallMain(ctx context.Context, args []string) (sandbox.ExitCode, error) {
	argv := append([]string{m.opts.ProgramName}, args...)
	m.fake.mu.Lock()
	m.fake.calls = append(m.fake.calls, Call{Argv: slices.Clone(argv)})
	m.fake.mu.Unlock()

	diag := m.opts.Diagnostics
	if diag == nil {
		diag = io.Discard
	}
	if m.fake.Main == nil {
		return 0, nil
	}
	return m.fake.Main(ctx, argv, m.fs, diag)
}

// Close implements sandbox.Module.
func (m *Module) Close(context.Context) error {
	m.fake.mu.Lock()
	m.closed = true
	m.fake.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (m *Module) Closed() bool {
	m.fake.mu.Lock()
	defer m.fake.mu.Unlock()
	return m.closed
}
