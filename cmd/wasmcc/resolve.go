// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"mvdan.cc/sh/v3/syntax"

	"github.com/invowk/wasmcc/internal/invocation"
)

func newResolveCommand(app *App) *cobra.Command {
	opts := &jobOptions{}
	cmd := &cobra.Command{
		Use:   "resolve [source] [-- clang flags...]",
		Short: "Print the compile and link commands the driver would run",
		Long: `Run the clang driver in dry-run mode and print the front-end and
linker command lines it resolves to, one per line, shell-quoted.

Nothing is compiled and no sysroot is fetched.`,
		Args: validateJobArgs(opts),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, session, err := app.openSession(ctx)
			if err != nil {
				return app.fail(cmd, err, 1)
			}
			defer func() { _ = session.Close(context.WithoutCancel(ctx)) }()

			positional, flags := splitAtDash(cmd, args)
			req, err := loadJob(cfg, opts, positional, flags)
			if err != nil {
				return app.fail(cmd, err, 1)
			}
			inv, err := session.Compiler.Resolve(ctx, req.Job)
			if err != nil {
				return app.fail(cmd, err, 1)
			}
			if err := printInvocation(app.stdout, cfg.Compile.DriverProgram, cfg.Compile.LinkerProgram, inv); err != nil {
				return app.fail(cmd, err, 1)
			}
			return nil
		},
	}
	addJobFlags(cmd, opts)
	return cmd
}

// printInvocation writes each stage as a quoted command line.
func printInvocation(w io.Writer, driver, linker string, inv *invocation.Invocation) error {
	compilerLine, err := quoteArgs(append([]string{driver}, inv.Compiler.Args...))
	if err != nil {
		return err
	}
	linkerLine, err := quoteArgs(append([]string{linker}, inv.Linker.Args...))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %s\n", SubtitleStyle.Render("# "+invocation.StageCompiler.String()+" ->"), CmdStyle.Render(inv.Compiler.Output))
	fmt.Fprintln(w, compilerLine)
	fmt.Fprintf(w, "%s %s\n", SubtitleStyle.Render("# "+invocation.StageLinker.String()+" ->"), CmdStyle.Render(inv.Linker.Output))
	fmt.Fprintln(w, linkerLine)
	return nil
}

func quoteArgs(args []string) (string, error) {
	quoted := make([]string, len(args))
	for i, a := range args {
		q, err := syntax.Quote(a, syntax.LangBash)
		if err != nil {
			return "", fmt.Errorf("quote %q: %w", a, err)
		}
		quoted[i] = q
	}
	return strings.Join(quoted, " "), nil
}
