// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
)

type (
	// ActionableError is a user-facing error: what wasmcc was doing, the
	// file or sandboxed tool involved, and what to try next.
	//
	//	err := issue.NewErrorContext().
	//		WithOperation("compile main.c").
	//		WithTool("link", 1).
	//		WithSuggestion("Check for a missing main function").
	//		Wrap(toolErr).
	//		BuildError()
	ActionableError struct {
		// Operation is a verb phrase such as "read clang module".
		Operation string

		// Resource is the host file or location involved (optional).
		Resource string

		// Tool is the pipeline stage that exited non-zero (optional).
		Tool string

		// ExitCode is the status Tool exited with.
		ExitCode int

		// Suggestions are shown as a bullet list under the message.
		Suggestions []string

		// Cause is the underlying error (optional).
		Cause error
	}

	// ErrorContext builds an ActionableError incrementally.
	ErrorContext struct {
		operation   string
		resource    string
		tool        string
		exitCode    int
		suggestions []string
		cause       error
	}
)

// NewErrorContext creates a new ErrorContext builder.
func NewErrorContext() *ErrorContext {
	return &ErrorContext{}
}

// Error returns the one-line message. A tool failure is reported by its
// stage and exit code; the cause only repeats that and is left to Format.
func (e *ActionableError) Error() string {
	var msg strings.Builder

	msg.WriteString("failed to ")
	msg.WriteString(e.Operation)

	if e.Resource != "" {
		msg.WriteString(": ")
		msg.WriteString(e.Resource)
	}

	switch {
	case e.Tool != "":
		fmt.Fprintf(&msg, ": %s stage exited with code %d", e.Tool, e.ExitCode)
	case e.Cause != nil:
		msg.WriteString(": ")
		msg.WriteString(e.Cause.Error())
	}

	return msg.String()
}

// Unwrap returns the underlying cause error for use with errors.Is/As.
func (e *ActionableError) Unwrap() error {
	return e.Cause
}

// Format returns the message followed by the suggestions:
//
//	failed to compile main.c: link stage exited with code 1
//
//	  • Check for a missing main function
//
// In verbose mode the full cause chain is appended.
func (e *ActionableError) Format(verbose bool) string {
	var msg strings.Builder

	msg.WriteString(e.Error())

	if len(e.Suggestions) > 0 {
		msg.WriteString("\n")
		for _, suggestion := range e.Suggestions {
			msg.WriteString("\n  • ")
			msg.WriteString(suggestion)
		}
	}

	if verbose && e.Cause != nil {
		msg.WriteString("\n\nError chain:")
		err := e.Cause
		for depth := 1; err != nil; depth++ {
			fmt.Fprintf(&msg, "\n  %d. %s", depth, err.Error())
			err = errors.Unwrap(err)
		}
	}

	return msg.String()
}

// WithOperation sets the operation being performed.
func (c *ErrorContext) WithOperation(op string) *ErrorContext {
	c.operation = op
	return c
}

// WithResource sets the host file or location involved.
func (c *ErrorContext) WithResource(res string) *ErrorContext {
	c.resource = res
	return c
}

// WithTool records the stage that exited non-zero and its exit code.
func (c *ErrorContext) WithTool(stage string, exitCode int) *ErrorContext {
	c.tool = stage
	c.exitCode = exitCode
	return c
}

// WithSuggestion adds a suggestion. Repeated calls append.
func (c *ErrorContext) WithSuggestion(sug string) *ErrorContext {
	c.suggestions = append(c.suggestions, sug)
	return c
}

// Wrap sets the underlying cause.
func (c *ErrorContext) Wrap(err error) *ErrorContext {
	c.cause = err
	return c
}

// BuildError returns the ActionableError, or nil when no operation is set.
func (c *ErrorContext) BuildError() error {
	if c.operation == "" {
		return nil
	}
	return &ActionableError{
		Operation:   c.operation,
		Resource:    c.resource,
		Tool:        c.tool,
		ExitCode:    c.exitCode,
		Suggestions: c.suggestions,
		Cause:       c.cause,
	}
}
