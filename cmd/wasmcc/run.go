// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invowk/wasmcc/internal/sandbox"
)

// runOptions configure the run command.
type runOptions struct {
	jobOptions
	dir     string
	env     []string
	progArg []string
}

func newRunCommand(app *App) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [source] [-- clang flags...]",
		Short: "Compile a C or C++ file and run it as a WASI command",
		Long: `Compile and link a translation unit, then run the binary in the host
runtime with this process's stdin, stdout and stderr.

The program's exit code becomes wasmcc's exit code.

` + SubtitleStyle.Render("Examples:") + `
  wasmcc run hello.c
  wasmcc run --arg input.txt --dir . main.cpp -- -O2
  wasmcc run --env NAME=world --job job.toml`,
		Args: validateJobArgs(&opts.jobOptions),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, app, opts, args)
		},
	}
	addJobFlags(cmd, &opts.jobOptions)
	cmd.Flags().StringVar(&opts.dir, "dir", "", "host directory mounted as / for the program")
	cmd.Flags().StringArrayVar(&opts.env, "env", nil, "environment variable for the program as KEY=VALUE (repeatable)")
	cmd.Flags().StringArrayVar(&opts.progArg, "arg", nil, "argument passed to the program (repeatable)")
	return cmd
}

func runRun(cmd *cobra.Command, app *App, opts *runOptions, args []string) error {
	ctx := cmd.Context()
	env, err := parseEnv(opts.env)
	if err != nil {
		return app.fail(cmd, err, 1)
	}

	cfg, session, err := app.openSession(ctx)
	if err != nil {
		return app.fail(cmd, err, 1)
	}
	defer func() { _ = session.Close(context.WithoutCancel(ctx)) }()

	positional, flags := splitAtDash(cmd, args)
	req, err := loadJob(cfg, &opts.jobOptions, positional, flags)
	if err != nil {
		return app.fail(cmd, err, 1)
	}

	res, err := app.compileJob(ctx, cfg, session, req.Job)
	if err != nil {
		return app.fail(cmd, err, 1)
	}
	if !res.Success() {
		return app.failStage(cmd, req.Job.FileName, res)
	}

	argv := append([]string{filepath.Base(req.Output)}, opts.progArg...)
	code, err := session.Compiler.Run(ctx, res, sandbox.RunOptions{
		Args:   argv,
		Env:    env,
		Stdin:  app.stdin,
		Stdout: app.stdout,
		Stderr: app.stderr,
		Dir:    opts.dir,
	})
	if err != nil {
		return app.fail(cmd, err, 1)
	}
	if !code.IsSuccess() {
		cmd.SilenceErrors = true
		cmd.SilenceUsage = true
		return &ExitError{Code: code}
	}
	return nil
}

func parseEnv(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(values))
	for _, v := range values {
		k, val, ok := strings.Cut(v, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --env value %q (want KEY=VALUE)", v)
		}
		env[k] = val
	}
	return env, nil
}
