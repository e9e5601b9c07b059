// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invowk/wasmcc/internal/compile"
	"github.com/invowk/wasmcc/internal/config"
	"github.com/invowk/wasmcc/internal/jobfile"
	"github.com/invowk/wasmcc/internal/sysroot"
	"github.com/invowk/wasmcc/internal/watch"
)

// ErrInvalidExtraFile is returned for --extra values that are not guest=host pairs.
var ErrInvalidExtraFile = errors.New("invalid --extra value")

type (
	// jobOptions are the flags shared by commands that build a compile job.
	jobOptions struct {
		jobFile string
		name    string
		extra   []string
	}

	// compileOptions configure the compile command.
	compileOptions struct {
		jobOptions
		output string
		watch  bool
	}

	// jobRequest is a loaded job plus where its binary goes.
	jobRequest struct {
		Job compile.Job
		// Output is the host path for the linked binary.
		Output string
		// BaseDir is the directory a watcher should monitor.
		BaseDir string
	}
)

func newCompileCommand(app *App) *cobra.Command {
	opts := &compileOptions{}
	cmd := &cobra.Command{
		Use:   "compile [source] [-- clang flags...]",
		Short: "Compile and link a C or C++ file to WebAssembly",
		Long: `Compile and link a single translation unit to a WebAssembly binary.

Flags after "--" are passed to the clang driver verbatim, after the
flags from compile.flags in the config and those of the job file.

` + SubtitleStyle.Render("Examples:") + `
  wasmcc compile main.c
  wasmcc compile main.cpp -o app.wasm -- -O2 -std=c++20
  wasmcc compile --job job.toml
  wasmcc compile --extra /include/cfg.h=cfg.h main.cpp
  wasmcc compile --watch main.cpp`,
		Args: validateJobArgs(&opts.jobOptions),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, app, opts, args)
		},
	}
	addJobFlags(cmd, &opts.jobOptions)
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output path for the linked binary (default: source name with .wasm)")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "recompile when sources in the job directory change")
	return cmd
}

func addJobFlags(cmd *cobra.Command, opts *jobOptions) {
	cmd.Flags().StringVar(&opts.jobFile, "job", "", "load the job from a TOML, YAML or CUE file")
	cmd.Flags().StringVar(&opts.name, "name", "", "file name of the source inside the sandbox (default: base name of source)")
	cmd.Flags().StringArrayVar(&opts.extra, "extra", nil, "stage a host file in the sysroot as guest=host (repeatable)")
}

// validateJobArgs requires exactly one source before "--" unless a job file
// is given, in which case no source is accepted.
func validateJobArgs(opts *jobOptions) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		positional, _ := splitAtDash(cmd, args)
		switch {
		case opts.jobFile != "" && len(positional) > 0:
			return fmt.Errorf("source %q cannot be combined with --job", positional[0])
		case opts.jobFile == "" && len(positional) != 1:
			return fmt.Errorf("expected one source file, got %d", len(positional))
		}
		return nil
	}
}

// splitAtDash separates positional arguments from the driver flags that
// follow "--".
func splitAtDash(cmd *cobra.Command, args []string) (positional, flags []string) {
	at := cmd.ArgsLenAtDash()
	if at < 0 {
		return args, nil
	}
	return args[:at], args[at:]
}

func runCompile(cmd *cobra.Command, app *App, opts *compileOptions, args []string) error {
	ctx := cmd.Context()
	cfg, session, err := app.openSession(ctx)
	if err != nil {
		return app.fail(cmd, err, 1)
	}
	defer func() { _ = session.Close(context.WithoutCancel(ctx)) }()

	positional, flags := splitAtDash(cmd, args)
	build := func(ctx context.Context) (*jobRequest, error) {
		req, err := loadJob(cfg, &opts.jobOptions, positional, flags)
		if err != nil {
			return nil, app.fail(cmd, err, 1)
		}
		if opts.output != "" {
			req.Output = opts.output
		}
		_, err = app.compileAndWrite(ctx, cmd, cfg, session, req)
		return req, err
	}

	req, err := build(ctx)
	if !opts.watch {
		return err
	}

	baseDir := "."
	if req != nil {
		baseDir = req.BaseDir
	}
	w, err := watch.New(watch.Config{
		BaseDir: baseDir,
		Stdout:  app.stdout,
		Logger:  app.logger(),
		OnChange: func(ctx context.Context, changed []string) error {
			fmt.Fprintf(app.stdout, "%s %s\n", VerboseStyle.Render("changed:"), strings.Join(changed, ", "))
			// Failures are rendered by build; keep watching.
			_, _ = build(ctx)
			return nil
		},
	})
	if err != nil {
		return app.fail(cmd, err, 1)
	}
	fmt.Fprintf(app.stdout, "%s %s\n", SubtitleStyle.Render("watching"), CmdStyle.Render(w.BaseDir()))
	if err := w.Run(ctx); err != nil {
		return app.fail(cmd, err, 1)
	}
	return nil
}

// compileAndWrite compiles req within the configured timeout and writes the
// binary on success. Failures are rendered and returned as ExitError.
func (a *App) compileAndWrite(ctx context.Context, cmd *cobra.Command, cfg *config.Config, s *Session, req *jobRequest) (*compile.Result, error) {
	res, err := a.compileJob(ctx, cfg, s, req.Job)
	if err != nil {
		return res, a.fail(cmd, err, 1)
	}
	if !res.Success() {
		return res, a.failStage(cmd, req.Job.FileName, res)
	}
	if err := os.WriteFile(req.Output, res.Binary, 0o644); err != nil {
		return res, a.fail(cmd, fmt.Errorf("write binary: %w", err), 1)
	}
	fmt.Fprintf(a.stdout, "%s %s %s\n",
		SuccessStyle.Render("✓"),
		CmdStyle.Render(req.Output),
		SubtitleStyle.Render(fmt.Sprintf("(%d bytes)", len(res.Binary))))
	return res, nil
}

// compileJob runs one compile under compile.timeout.
func (a *App) compileJob(ctx context.Context, cfg *config.Config, s *Session, j compile.Job) (*compile.Result, error) {
	timeout, err := cfg.Compile.Timeout.Duration()
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.Compiler.Compile(ctx, j)
}

// failStage reports a compiler or linker that exited non-zero.
func (a *App) failStage(cmd *cobra.Command, fileName string, res *compile.Result) error {
	toolErr := &compile.ToolError{Stage: res.FailedStage, ExitCode: res.ExitCode, Diagnostics: res.Diagnostics}
	return a.failTool(cmd, "compile "+fileName, toolErr)
}

// loadJob builds the compile job from a job file or a source path, then
// layers the configured flags, the command-line flags and --extra files.
func loadJob(cfg *config.Config, opts *jobOptions, positional, flags []string) (*jobRequest, error) {
	var req *jobRequest
	if opts.jobFile != "" {
		m, err := jobfile.Load(opts.jobFile)
		if err != nil {
			return nil, err
		}
		j, err := m.Job()
		if err != nil {
			return nil, err
		}
		out := m.OutputPath()
		if out == "" {
			out = defaultOutput(filepath.Join(filepath.Dir(opts.jobFile), filepath.Base(j.FileName)))
		}
		req = &jobRequest{Job: j, Output: out, BaseDir: filepath.Dir(opts.jobFile)}
	} else {
		src := positional[0]
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("read source: %w", err)
		}
		req = &jobRequest{
			Job:     compile.Job{Source: string(data), FileName: filepath.Base(src)},
			Output:  defaultOutput(src),
			BaseDir: filepath.Dir(src),
		}
	}

	if opts.name != "" {
		req.Job.FileName = opts.name
	}

	merged := make([]string, 0, len(cfg.Compile.Flags)+len(req.Job.Flags)+len(flags))
	merged = append(merged, cfg.Compile.Flags...)
	merged = append(merged, req.Job.Flags...)
	merged = append(merged, flags...)
	req.Job.Flags = merged

	extra, err := parseExtraFiles(opts.extra)
	if err != nil {
		return nil, err
	}
	if len(extra) > 0 {
		if req.Job.ExtraFiles == nil {
			req.Job.ExtraFiles = make(sysroot.Files, len(extra))
		}
		for name, f := range extra {
			req.Job.ExtraFiles[name] = f
		}
	}
	return req, nil
}

// parseExtraFiles reads guest=host pairs into staged files.
func parseExtraFiles(values []string) (sysroot.Files, error) {
	if len(values) == 0 {
		return nil, nil
	}
	files := make(sysroot.Files, len(values))
	for _, v := range values {
		guest, host, ok := strings.Cut(v, "=")
		if !ok || guest == "" || host == "" {
			return nil, fmt.Errorf("%w: %q (want guest=host)", ErrInvalidExtraFile, v)
		}
		data, err := os.ReadFile(host)
		if err != nil {
			return nil, fmt.Errorf("extra file %s: %w", guest, err)
		}
		files[guest] = sysroot.Binary(data)
	}
	return files, nil
}

// defaultOutput replaces the source extension with .wasm.
func defaultOutput(src string) string {
	return strings.TrimSuffix(src, filepath.Ext(src)) + ".wasm"
}
