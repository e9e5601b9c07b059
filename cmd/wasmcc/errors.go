// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/invowk/wasmcc/internal/compile"
	"github.com/invowk/wasmcc/internal/config"
	"github.com/invowk/wasmcc/internal/invocation"
	"github.com/invowk/wasmcc/internal/issue"
	"github.com/invowk/wasmcc/internal/jobfile"
	"github.com/invowk/wasmcc/internal/sandbox"
	"github.com/invowk/wasmcc/internal/sysroot"
)

// ServiceError is an error that carries rendering information for the CLI
// layer. Always create via newServiceError.
type ServiceError struct {
	// Err is the underlying error (must not be nil).
	Err error
	// IssueID is the optional issue catalog ID for rendering help text.
	IssueID issue.Id
	// StyledMessage is the optional pre-rendered styled error text.
	StyledMessage string
}

// newServiceError creates a ServiceError with a nil-Err panic guard.
func newServiceError(err error, issueID issue.Id, styledMessage string) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{
		Err:           err,
		IssueID:       issueID,
		StyledMessage: styledMessage,
	}
}

// Error implements the error interface.
func (e *ServiceError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *ServiceError) Unwrap() error { return e.Err }

// classifyError maps a pipeline failure to an issue catalog ID and returns
// the styled message for CLI rendering. Zero means no catalog entry applies.
func classifyError(err error, verbose bool) (issueID issue.Id, styledMsg string) {
	var toolErr *compile.ToolError
	switch {
	case errors.Is(err, sandbox.ErrMissingModule):
		issueID = issue.ToolchainModuleNotFoundId
	case errors.Is(err, sysroot.ErrDigestMismatch):
		issueID = issue.SysrootDigestMismatchId
	case errors.Is(err, sysroot.ErrFetch), errors.Is(err, sysroot.ErrEmptyLocation):
		issueID = issue.SysrootFetchFailedId
	case errors.Is(err, invocation.ErrDryRun):
		issueID = issue.DryRunFailedId
	case errors.Is(err, invocation.ErrParse), errors.Is(err, invocation.ErrMissingOutput):
		issueID = issue.InvocationParseErrorId
	case errors.Is(err, jobfile.ErrInvalidManifest), errors.Is(err, jobfile.ErrUnsupportedFormat):
		issueID = issue.JobFileInvalidId
	case errors.Is(err, config.ErrInvalidConfig):
		issueID = issue.ConfigLoadFailedId
	case errors.As(err, &toolErr):
		issueID = issue.CompileFailedId
	case errors.Is(err, os.ErrPermission):
		issueID = issue.PermissionDeniedId
	case errors.Is(err, os.ErrNotExist):
		issueID = issue.FileNotFoundId
	}

	return issueID, fmt.Sprintf("\n%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, verbose))
}

// stageIssue returns the catalog entry for a tool that exited non-zero.
func stageIssue(stage invocation.StageName) issue.Id {
	if stage == invocation.StageLinker {
		return issue.LinkFailedId
	}
	return issue.CompileFailedId
}

// stageSuggestion is the hint shown under a tool failure.
func stageSuggestion(stage invocation.StageName) string {
	switch stage {
	case invocation.StageLinker:
		return "Check for undefined symbols or a missing main function in the diagnostics above"
	case compile.StagePCH:
		return "Check that the header exists in the sysroot or is passed with --extra"
	default:
		return "Fix the diagnostics above, or run 'wasmcc resolve' to inspect the commands"
	}
}

// failTool reports a sandboxed tool that exited non-zero. Its diagnostics
// were already streamed to stderr; wasmcc exits with the tool's code.
func (a *App) failTool(cmd *cobra.Command, operation string, toolErr *compile.ToolError) error {
	err := issue.NewErrorContext().
		WithOperation(operation).
		WithTool(toolErr.Stage.String(), int(toolErr.ExitCode)).
		WithSuggestion(stageSuggestion(toolErr.Stage)).
		Wrap(toolErr).
		BuildError()
	msg := fmt.Sprintf("%s %s\n", ErrorStyle.Render("✗"), formatErrorForDisplay(err, a.verbose))
	return a.fail(cmd, newServiceError(err, stageIssue(toolErr.Stage), msg), toolErr.ExitCode)
}

// formatErrorForDisplay formats an error for user display.
// ActionableErrors use their own Format method.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}

// renderServiceError prints the styled message and, in verbose mode, the
// issue catalog entry.
func renderServiceError(stderr io.Writer, svcErr *ServiceError, verbose bool, style string) {
	if svcErr == nil {
		return
	}
	if svcErr.StyledMessage != "" {
		fmt.Fprint(stderr, svcErr.StyledMessage)
	}
	if svcErr.IssueID == 0 || !verbose {
		return
	}
	if catalogEntry := issue.Get(svcErr.IssueID); catalogEntry != nil {
		rendered, renderErr := catalogEntry.Render(style)
		if renderErr != nil {
			fmt.Fprintln(stderr, VerboseStyle.Render("(cannot render help: "+renderErr.Error()+")"))
			return
		}
		fmt.Fprint(stderr, rendered)
	}
}

// fail renders err and returns an ExitError carrying code, so fang does
// not print the error a second time.
func (a *App) fail(cmd *cobra.Command, err error, code sandbox.ExitCode) error {
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		id, msg := classifyError(err, a.verbose)
		svcErr = newServiceError(err, id, msg)
	}
	renderServiceError(a.stderr, svcErr, a.verbose, a.markdownStyle)
	if code == 0 {
		code = 1
	}
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return &ExitError{Code: code, Err: svcErr}
}
