// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/invowk/wasmcc/internal/config"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the wasmcc command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "wasmcc",
		Short: "Compile C and C++ to WebAssembly with a sandboxed toolchain",
		Long: TitleStyle.Render("wasmcc") + SubtitleStyle.Render(" - Compile C and C++ to WebAssembly with a sandboxed toolchain") + `

wasmcc runs clang and wasm-ld as WASI modules. Each compile job gets
fresh sandboxes populated from a sysroot archive; nothing touches the
host compiler or the host filesystem beyond the files you name.

` + SubtitleStyle.Render("Quick Start:") + `
  1. Create a config with: wasmcc config init
  2. Point toolchain.clang, toolchain.lld and sysroot.location at your files
  3. Compile with: wasmcc compile main.cpp -o main.wasm

` + SubtitleStyle.Render("Examples:") + `
  wasmcc compile main.c -- -O2          Compile and link main.c
  wasmcc run main.cpp -- -std=c++20     Compile then run the result
  wasmcc compile --job job.toml         Compile from a job file
  wasmcc compile --watch main.cpp       Recompile on change
  wasmcc resolve main.cpp               Print the compile and link commands
  wasmcc sysroot ls                     List the sysroot archive`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			app.stdout = cmd.OutOrStdout()
			app.stderr = cmd.ErrOrStderr()
		},
	}

	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is $HOME/.config/wasmcc/config.cue)")

	root.AddCommand(
		newCompileCommand(app),
		newRunCommand(app),
		newResolveCommand(app),
		newPCHCommand(app),
		newSysrootCommand(app),
		newConfigCommand(app),
	)
	return root
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI. It is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.Code))
		}
		os.Exit(1)
	}
}

// loadConfig loads the configuration, lets ui.verbose enable verbose output
// when the flag is unset and applies the color scheme.
func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.configPath})
	if err != nil {
		return nil, err
	}
	if !a.verbose {
		a.verbose = cfg.UI.Verbose
	}
	a.markdownStyle = applyColorScheme(cfg.UI.ColorScheme)
	return cfg, nil
}

// logger returns the logger for toolchain lifecycle messages. Only warnings
// are shown unless verbose output is enabled.
func (a *App) logger() *log.Logger {
	level := log.WarnLevel
	if a.verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(a.stderr, log.Options{
		Level:  level,
		Prefix: "wasmcc",
	})
}

// openSession loads the config and creates a toolchain session.
func (a *App) openSession(ctx context.Context) (*config.Config, *Session, error) {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	s, err := a.NewSession(ctx, SessionEnv{Config: cfg, Logger: a.logger(), Stderr: a.stderr})
	if err != nil {
		return nil, nil, err
	}
	return cfg, s, nil
}
