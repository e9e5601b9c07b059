// SPDX-License-Identifier: MPL-2.0

package invocation

import (
	"errors"
	"fmt"
	"slices"
)

const (
	// StageCompiler names the front-end stage.
	StageCompiler StageName = "compile"
	// StageLinker names the link stage.
	StageLinker StageName = "link"
)

var (
	// ErrDryRun is the sentinel wrapped by DryRunError.
	ErrDryRun = errors.New("driver dry run failed")
	// ErrParse is the sentinel wrapped by ParseError.
	ErrParse = errors.New("cannot parse driver dry-run output")
	// ErrMissingOutput is the sentinel wrapped by MissingOutputError.
	ErrMissingOutput = errors.New("stage declares no output artifact")

	// DefaultMarkers match the clang front-end and wasm-ld command lines.
	DefaultMarkers = Markers{Compiler: "-cc1", Linker: "wasm-ld"}
)

type (
	// StageName identifies a sub-process of the driver.
	StageName string

	// Markers are the substrings that identify each stage's line in the
	// dry-run output. The first line containing a marker wins.
	Markers struct {
		Compiler string
		Linker   string
	}

	// Stage is one sub-process command: its parameters (without the
	// executable path) and the artifact it writes.
	Stage struct {
		Args []string
		// Output is the path following "-o", or "" when the stage has none.
		Output string
	}

	// Invocation is the resolved pair of sub-process commands.
	Invocation struct {
		Compiler Stage
		Linker   Stage
	}

	// DryRunError is returned when the driver exits non-zero during resolution.
	DryRunError struct {
		ExitCode    int
		Diagnostics string
	}

	// ParseError describes dry-run output that lacks a stage line or its
	// quoted arguments.
	ParseError struct {
		Stage  StageName
		Marker string
		Reason string
		Err    error
	}

	// MissingOutputError reports a stage whose command has no "-o" argument.
	MissingOutputError struct {
		Stage StageName
		Args  []string
	}
)

// String returns the stage name.
func (s StageName) String() string { return string(s) }

// IsValid returns whether both markers are set and distinct.
func (m Markers) IsValid() (bool, []error) {
	var errs []error
	if m.Compiler == "" {
		errs = append(errs, errors.New("compiler marker is empty"))
	}
	if m.Linker == "" {
		errs = append(errs, errors.New("linker marker is empty"))
	}
	if m.Compiler != "" && m.Compiler == m.Linker {
		errs = append(errs, fmt.Errorf("compiler and linker markers are both %q", m.Compiler))
	}
	return len(errs) == 0, errs
}

// Validate returns a *MissingOutputError for the first stage without an
// output artifact.
func (inv *Invocation) Validate() error {
	if inv.Compiler.Output == "" {
		return &MissingOutputError{Stage: StageCompiler, Args: slices.Clone(inv.Compiler.Args)}
	}
	if inv.Linker.Output == "" {
		return &MissingOutputError{Stage: StageLinker, Args: slices.Clone(inv.Linker.Args)}
	}
	return nil
}

// Error implements the error interface.
func (e *DryRunError) Error() string {
	return fmt.Sprintf("clang driver failed with code %d", e.ExitCode)
}

// Unwrap returns ErrDryRun for errors.Is() compatibility.
func (e *DryRunError) Unwrap() error { return ErrDryRun }

// Error implements the error interface.
func (e *ParseError) Error() string {
	msg := fmt.Sprintf("%s stage (marker %q): %s", e.Stage, e.Marker, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns ErrParse and the underlying cause, if any.
func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrParse}
	}
	return []error{ErrParse, e.Err}
}

// Error implements the error interface.
func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("%s stage command has no -o argument", e.Stage)
}

// Unwrap returns ErrMissingOutput for errors.Is() compatibility.
func (e *MissingOutputError) Unwrap() error { return ErrMissingOutput }
