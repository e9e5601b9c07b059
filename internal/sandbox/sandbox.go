// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"context"
	"io"
)

const (
	// ToolClang is the C/C++ driver and front-end module.
	ToolClang Tool = "clang"
	// ToolLLD is the WebAssembly linker module.
	ToolLLD Tool = "wasm-ld"
)

type (
	// Tool identifies a toolchain module.
	Tool string

	// FS is the private filesystem of a sandbox. Paths are guest paths;
	// relative paths are resolved against "/".
	FS interface {
		// Exists reports whether path names an existing file or directory.
		Exists(path string) (bool, error)
		// MkdirAll creates path and any missing parents. Creating an
		// existing directory is not an error.
		MkdirAll(path string) error
		// WriteFile creates or truncates path. The parent must exist.
		WriteFile(path string, data []byte) error
		// ReadFile returns the content of path.
		ReadFile(path string) ([]byte, error)
	}

	// Module is one instantiated sandbox.
	Module interface {
		// ProgramName is argv[0] as seen by the guest.
		ProgramName() string
		// FS returns the sandbox filesystem.
		FS() FS
		// CallMain runs the entry point with args (argv[0] is prepended)
		// and returns its exit code. A non-nil error means the sandbox
		// itself failed, not the program.
		CallMain(ctx context.Context, args []string) (ExitCode, error)
		// Close discards the sandbox and its filesystem.
		Close(ctx context.Context) error
	}

	// Options are the constructor-time settings of a sandbox.
	Options struct {
		// ProgramName is passed as argv[0].
		ProgramName string
		// Diagnostics receives the guest's stderr. nil discards it.
		Diagnostics io.Writer
		// Stdout receives the guest's stdout. nil discards it.
		Stdout io.Writer
	}

	// Factory instantiates a fresh sandbox.
	Factory func(ctx context.Context, opts Options) (Module, error)
)

// String returns the tool name.
func (t Tool) String() string { return string(t) }

func (o Options) diagnostics() io.Writer {
	if o.Diagnostics == nil {
		return io.Discard
	}
	return o.Diagnostics
}

func (o Options) stdout() io.Writer {
	if o.Stdout == nil {
		return io.Discard
	}
	return o.Stdout
}
