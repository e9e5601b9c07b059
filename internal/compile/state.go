// SPDX-License-Identifier: MPL-2.0

package compile

import (
	"errors"
	"fmt"
)

const (
	// StateUnresolved is a job whose driver dry run has not finished.
	StateUnresolved State = "UNRESOLVED"
	// StateResolved is a job with parsed compiler and linker commands.
	StateResolved State = "RESOLVED"
	// StateCompiled is a job whose object file has been read back.
	StateCompiled State = "COMPILED"
	// StateLinked is a job whose linked binary has been read back.
	StateLinked State = "LINKED"
	// StateDone is a job whose binary was loaded by the host runtime.
	StateDone State = "DONE"
	// StateFailed is a job that stopped at a stage failure or host error.
	StateFailed State = "FAILED"
)

// ErrInvalidTransition is returned when a job is moved between states in
// an order the pipeline does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// State is the progress of a compile job.
type State string

// String returns the state name.
func (s State) String() string { return string(s) }

// IsTerminal reports whether the job has finished.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// transition validates from -> to.
func transition(from, to State) error {
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func isAllowedTransition(from, to State) bool {
	if to == StateFailed {
		return !from.IsTerminal()
	}
	switch from {
	case StateUnresolved:
		return to == StateResolved
	case StateResolved:
		return to == StateCompiled
	case StateCompiled:
		return to == StateLinked
	case StateLinked:
		return to == StateDone
	default:
		return false
	}
}
