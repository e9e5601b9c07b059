// SPDX-License-Identifier: MPL-2.0

package invocation

import (
	"errors"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

var errNoArguments = errors.New("line has no quoted arguments")

// ParseDryRun extracts the compiler and linker stages from the diagnostic
// text printed by the driver in "-###" mode. A stage without "-o" is
// returned with an empty Output; use Invocation.Validate to reject it.
func ParseDryRun(text string, markers Markers) (*Invocation, error) {
	if ok, errs := markers.IsValid(); !ok {
		return nil, fmt.Errorf("invalid markers: %w", errors.Join(errs...))
	}

	lines := strings.Split(text, "\n")
	compiler, err := parseStage(lines, StageCompiler, markers.Compiler)
	if err != nil {
		return nil, err
	}
	linker, err := parseStage(lines, StageLinker, markers.Linker)
	if err != nil {
		return nil, err
	}
	return &Invocation{Compiler: compiler, Linker: linker}, nil
}

func parseStage(lines []string, name StageName, marker string) (Stage, error) {
	line, ok := findLine(lines, marker)
	if !ok {
		return Stage{}, &ParseError{Stage: name, Marker: marker, Reason: "no matching line"}
	}
	args, err := ExtractArgs(line)
	if err != nil {
		return Stage{}, &ParseError{Stage: name, Marker: marker, Reason: "malformed command line", Err: err}
	}
	return Stage{Args: args, Output: OutputOf(args)}, nil
}

func findLine(lines []string, marker string) (string, bool) {
	for _, line := range lines {
		if strings.Contains(line, marker) {
			return line, true
		}
	}
	return "", false
}

// ExtractArgs tokenizes one dry-run command line. Every word must be
// double-quoted; the first word (the sub-process executable) is dropped.
//
// clang escapes '"', '\' and '$' inside the quotes but prints '`' raw,
// so backticks are escaped before the line reaches the shell parser. A
// backslash printed by clang is always doubled, which keeps the added
// escape unambiguous.
func ExtractArgs(line string) ([]string, error) {
	line = strings.ReplaceAll(line, "`", "\\`")
	file, err := syntax.NewParser().Parse(strings.NewReader(line), "")
	if err != nil {
		return nil, err
	}
	if len(file.Stmts) != 1 {
		return nil, fmt.Errorf("expected one command, found %d", len(file.Stmts))
	}
	call, ok := file.Stmts[0].Cmd.(*syntax.CallExpr)
	if !ok || len(call.Assigns) > 0 {
		return nil, errors.New("not a simple command")
	}
	if len(call.Args) == 0 {
		return nil, errNoArguments
	}

	// No environment: checkQuoted rejects expansions before they get here.
	cfg := &expand.Config{}
	args := make([]string, 0, len(call.Args)-1)
	for i, word := range call.Args {
		if err := checkQuoted(word); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		value, err := expand.Literal(cfg, word)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		if i > 0 {
			args = append(args, value)
		}
	}
	return args, nil
}

// checkQuoted accepts only a single double-quoted part made of literal text.
func checkQuoted(word *syntax.Word) error {
	if len(word.Parts) != 1 {
		return fmt.Errorf("%q is not a single double-quoted word", wordText(word))
	}
	dq, ok := word.Parts[0].(*syntax.DblQuoted)
	if !ok {
		return fmt.Errorf("%q is not double-quoted", wordText(word))
	}
	for _, part := range dq.Parts {
		if _, ok := part.(*syntax.Lit); !ok {
			return fmt.Errorf("%q contains an expansion", wordText(word))
		}
	}
	return nil
}

func wordText(word *syntax.Word) string {
	var sb strings.Builder
	if err := syntax.NewPrinter().Print(&sb, word); err != nil {
		return "?"
	}
	return sb.String()
}

// OutputOf returns the argument following the first literal "-o", or ""
// when there is none.
func OutputOf(args []string) string {
	for i, arg := range args {
		if arg == "-o" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
