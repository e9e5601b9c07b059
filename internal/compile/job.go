// SPDX-License-Identifier: MPL-2.0

package compile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"

	"github.com/invowk/wasmcc/internal/invocation"
	"github.com/invowk/wasmcc/internal/sandbox"
	"github.com/invowk/wasmcc/internal/sysroot"
)

const (
	// StagePCH names the precompiled-header build.
	StagePCH invocation.StageName = "pch"

	// DefaultPCHHeader is the umbrella libc++ header precompiled by BuildPCH.
	DefaultPCHHeader = "/include/bits/stdc++.h"
)

var (
	// ErrInvalidJob is returned when a Job fails validation.
	ErrInvalidJob = errors.New("invalid compile job")

	// ErrNoModule is returned by Run for results without a linked module.
	ErrNoModule = errors.New("result has no linked module")

	// ErrToolFailed is the sentinel wrapped by ToolError.
	ErrToolFailed = errors.New("tool exited with non-zero status")
)

type (
	// Job is a single-file compilation request.
	Job struct {
		// Source is the text of the translation unit.
		Source string
		// FileName is the path the source is written to inside the
		// sandboxes. The driver infers the language from its extension.
		FileName string
		// Flags are passed to the driver verbatim, in order.
		Flags []string
		// ExtraFiles are staged on top of the sysroot archive.
		ExtraFiles sysroot.Files
	}

	// Result is the outcome of a Compile call.
	Result struct {
		// Diagnostics is everything the compiler and the linker wrote to
		// stderr, in emission order.
		Diagnostics string
		// Binary is the linked WebAssembly binary. nil unless State is StateDone.
		Binary []byte
		// Module is Binary loaded by the host runtime.
		Module wazero.CompiledModule
		// State is StateDone or StateFailed.
		State State
		// FailedStage names the stage that exited non-zero, if any.
		FailedStage invocation.StageName
		// ExitCode is the exit code of FailedStage.
		ExitCode sandbox.ExitCode
		// Invocation is the resolved command pair, when resolution succeeded.
		Invocation *invocation.Invocation
	}

	// PCHJob describes a precompiled header build.
	PCHJob struct {
		// Header is the guest path of the header to precompile.
		// Empty means DefaultPCHHeader.
		Header string
		// Flags precede the fixed PCH arguments.
		Flags []string
		// ExtraFiles are staged on top of the sysroot archive.
		ExtraFiles sysroot.Files
	}

	// ToolError reports a tool that exited non-zero outside the compile
	// pipeline, where there is no Result to carry the failure.
	ToolError struct {
		Stage       invocation.StageName
		ExitCode    sandbox.ExitCode
		Diagnostics string
	}
)

// IsValid returns whether the job can be compiled.
func (j Job) IsValid() (bool, []error) {
	var errs []error
	name := strings.TrimSpace(j.FileName)
	switch {
	case name == "":
		errs = append(errs, errors.New("file name is empty"))
	case strings.HasSuffix(name, "/"):
		errs = append(errs, fmt.Errorf("file name %q names a directory", j.FileName))
	}
	for i, f := range j.Flags {
		if f == invocation.DryRunFlag {
			errs = append(errs, fmt.Errorf("flag %d: %s is reserved for invocation resolution", i, f))
		}
	}
	for p := range j.ExtraFiles {
		if p == "" || strings.HasSuffix(p, "/") {
			errs = append(errs, fmt.Errorf("extra file path %q is not a file", p))
		}
	}
	return len(errs) == 0, errs
}

// Success reports whether the job produced a loaded module.
func (r *Result) Success() bool {
	return r != nil && r.State == StateDone && r.Module != nil
}

// header returns the header to precompile.
func (j PCHJob) header() string {
	if j.Header == "" {
		return DefaultPCHHeader
	}
	return j.Header
}

// Output returns the guest path of the precompiled header.
func (j PCHJob) Output() string { return j.header() + ".pch" }

// Args returns the driver arguments for the PCH build.
func (j PCHJob) Args() []string {
	args := make([]string, 0, len(j.Flags)+10)
	args = append(args, j.Flags...)
	return append(args,
		"-x", "c++-header",
		j.header(),
		"-o", j.Output(),
		"-Xclang", "-fno-pch-timestamp",
		"-fpch-instantiate-templates",
		"-fdiagnostics-color=always",
	)
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	return fmt.Sprintf("%s failed with exit code %d", e.Stage, e.ExitCode)
}

// Unwrap returns ErrToolFailed for errors.Is() compatibility.
func (e *ToolError) Unwrap() error { return ErrToolFailed }
