// SPDX-License-Identifier: MPL-2.0

package invocation

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/charmbracelet/log"

	"github.com/invowk/wasmcc/internal/sandbox"
)

const (
	// DefaultProgramName is argv[0] of the dry-run driver.
	DefaultProgramName = "clang++"

	// DryRunFlag makes the driver print its sub-process commands instead
	// of running them.
	DryRunFlag = "-###"
)

// scaffoldFiles are empty placeholders that make the driver believe a
// wasm32-wasi sysroot is present.
var (
	scaffoldFiles = []string{
		"/lib/wasm32-wasi/crt1-command.o",
		"/lib/wasm32-wasi/crt1-reactor.o",
	}
	scaffoldDirs = []string{
		"/lib/wasm32-wasi",
		"/include/c++/v1",
		// The driver creates its temp object file even in dry-run mode.
		sandbox.GuestTempDir,
	}
)

type (
	// Resolver runs the driver in dry-run mode to discover the compiler
	// and linker commands for a job.
	Resolver struct {
		newDriver   sandbox.Factory
		logger      *log.Logger
		markers     Markers
		programName string
	}

	// ResolverOption configures a Resolver.
	ResolverOption func(*Resolver)
)

// WithLogger sets the logger for dry-run diagnostics.
func WithLogger(l *log.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// WithMarkers overrides DefaultMarkers.
func WithMarkers(m Markers) ResolverOption {
	return func(r *Resolver) { r.markers = m }
}

// WithProgramName overrides DefaultProgramName.
func WithProgramName(name string) ResolverOption {
	return func(r *Resolver) { r.programName = name }
}

// NewResolver returns a Resolver that creates its throwaway driver
// sandboxes with newDriver.
func NewResolver(newDriver sandbox.Factory, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		newDriver:   newDriver,
		logger:      log.New(io.Discard),
		markers:     DefaultMarkers,
		programName: DefaultProgramName,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve dry-runs the driver on inputName (with content source) and flags
// and returns the parsed invocation. It fails with *DryRunError when the
// driver exits non-zero, *ParseError when the output lacks a stage line and
// *MissingOutputError when a stage declares no artifact.
func (r *Resolver) Resolve(ctx context.Context, inputName, source string, flags []string) (*Invocation, error) {
	diag := sandbox.NewDiagnostics(nil)
	driver, err := r.newDriver(ctx, sandbox.Options{ProgramName: r.programName, Diagnostics: diag})
	if err != nil {
		return nil, fmt.Errorf("instantiate dry-run driver: %w", err)
	}
	defer func() {
		if cerr := driver.Close(ctx); cerr != nil {
			r.logger.Warn("closing dry-run sandbox", "err", cerr)
		}
	}()

	if err := scaffold(driver.FS(), inputName, source); err != nil {
		return nil, fmt.Errorf("prepare dry-run sandbox: %w", err)
	}

	args := make([]string, 0, len(flags)+2)
	args = append(args, inputName)
	args = append(args, flags...)
	args = append(args, DryRunFlag)

	r.logger.Debug("resolving invocation", "input", inputName, "flags", len(flags))
	code, err := driver.CallMain(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("dry run: %w", err)
	}
	if !code.IsSuccess() {
		r.logger.Error("driver dry run failed", "exit_code", int(code), "diagnostics", diag.String())
		return nil, &DryRunError{ExitCode: int(code), Diagnostics: diag.String()}
	}

	inv, err := ParseDryRun(diag.String(), r.markers)
	if err != nil {
		return nil, err
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	r.logger.Debug("invocation resolved",
		"compiler_output", inv.Compiler.Output,
		"linker_output", inv.Linker.Output)
	return inv, nil
}

func scaffold(fs sandbox.FS, inputName, source string) error {
	if dir := path.Dir(path.Join("/", inputName)); dir != "/" {
		if err := fs.MkdirAll(dir); err != nil {
			return err
		}
	}
	if err := fs.WriteFile(inputName, []byte(source)); err != nil {
		return err
	}
	for _, dir := range scaffoldDirs {
		if err := fs.MkdirAll(dir); err != nil {
			return err
		}
	}
	for _, file := range scaffoldFiles {
		if err := fs.WriteFile(file, nil); err != nil {
			return err
		}
	}
	return nil
}
