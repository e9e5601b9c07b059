// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/spf13/cobra"

	"github.com/invowk/wasmcc/internal/compile"
)

// pchOptions configure the pch command.
type pchOptions struct {
	header string
	output string
	extra  []string
}

func newPCHCommand(app *App) *cobra.Command {
	opts := &pchOptions{}
	cmd := &cobra.Command{
		Use:   "pch [-- clang flags...]",
		Short: "Precompile a sysroot header",
		Long: `Precompile a header from the sysroot (by default the libc++ umbrella
header) and write the .pch file to the host.

Stage the result back with --extra /include/bits/stdc++.h.pch=<file> and
compile with -include-pch to skip reparsing the standard library.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			positional, flags := splitAtDash(cmd, args)
			if len(positional) > 0 {
				return fmt.Errorf("unexpected argument %q; pass driver flags after --", positional[0])
			}
			extra, err := parseExtraFiles(opts.extra)
			if err != nil {
				return app.fail(cmd, err, 1)
			}

			cfg, session, err := app.openSession(ctx)
			if err != nil {
				return app.fail(cmd, err, 1)
			}
			defer func() { _ = session.Close(context.WithoutCancel(ctx)) }()

			job := compile.PCHJob{
				Header:     opts.header,
				Flags:      append(append([]string{}, cfg.Compile.Flags...), flags...),
				ExtraFiles: extra,
			}
			out := opts.output
			if out == "" {
				out = path.Base(job.Output())
			}

			pch, _, err := session.Compiler.BuildPCH(ctx, job)
			var toolErr *compile.ToolError
			if errors.As(err, &toolErr) {
				return app.failTool(cmd, "build precompiled header "+job.Output(), toolErr)
			}
			if err != nil {
				return app.fail(cmd, err, 1)
			}
			if err := os.WriteFile(out, pch, 0o644); err != nil {
				return app.fail(cmd, fmt.Errorf("write precompiled header: %w", err), 1)
			}
			fmt.Fprintf(app.stdout, "%s %s %s\n",
				SuccessStyle.Render("✓"),
				CmdStyle.Render(out),
				SubtitleStyle.Render(fmt.Sprintf("(%d bytes)", len(pch))))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.header, "header", "", "guest path of the header (default "+compile.DefaultPCHHeader+")")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "host path for the .pch file (default: header base name with .pch)")
	cmd.Flags().StringArrayVar(&opts.extra, "extra", nil, "stage a host file in the sysroot as guest=host (repeatable)")
	return cmd
}
