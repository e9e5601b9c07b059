// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidExitCode is the sentinel error wrapped by InvalidExitCodeError.
var ErrInvalidExitCode = errors.New("invalid exit code")

type (
	// ExitCode is the status a guest program returned from main or passed
	// to proc_exit. The zero value means success.
	ExitCode int

	// InvalidExitCodeError reports a proc_exit status that does not fit a
	// host process exit code.
	InvalidExitCodeError struct {
		Status uint32
	}
)

// Error implements the error interface.
func (e *InvalidExitCodeError) Error() string {
	return fmt.Sprintf("guest exit status %d is outside 0-255", e.Status)
}

// Unwrap returns ErrInvalidExitCode for errors.Is() compatibility.
func (e *InvalidExitCodeError) Unwrap() error { return ErrInvalidExitCode }

// exitCodeFromStatus converts a WASI proc_exit status. Statuses above 255
// map to 1 rather than being truncated, so 256 never reads as success.
func exitCodeFromStatus(status uint32) (ExitCode, error) {
	if status > 255 {
		return 1, &InvalidExitCodeError{Status: status}
	}
	return ExitCode(status), nil
}

// IsSuccess returns true if the guest exited with status 0.
func (c ExitCode) IsSuccess() bool { return c == 0 }

// String returns the decimal form of the code.
func (c ExitCode) String() string { return strconv.Itoa(int(c)) }
