// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/invowk/wasmcc/internal/compile"
	"github.com/invowk/wasmcc/internal/config"
	"github.com/invowk/wasmcc/internal/issue"
	"github.com/invowk/wasmcc/internal/sandbox"
	"github.com/invowk/wasmcc/internal/sysroot"

	"github.com/charmbracelet/log"
)

type (
	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// Session is the toolchain-backed state of one command. It is created
	// lazily so that config and sysroot commands never load the toolchain.
	Session struct {
		Compiler *compile.Compiler
		close    func(ctx context.Context) error
	}

	// SessionFactory builds a Session from the loaded configuration.
	SessionFactory func(ctx context.Context, env SessionEnv) (*Session, error)

	// SessionEnv carries what a SessionFactory needs from the command.
	SessionEnv struct {
		Config *config.Config
		Logger *log.Logger
		// Stderr receives streamed diagnostics and download progress.
		Stderr io.Writer
	}

	// App wires CLI services and shared dependencies. Every command handler
	// receives an App and reaches the toolchain only through NewSession.
	App struct {
		Config     ConfigProvider
		NewSession SessionFactory
		stdin      io.Reader
		stdout     io.Writer
		stderr     io.Writer

		// configPath and verbose are bound to the persistent root flags.
		configPath string
		verbose    bool
		// markdownStyle is the glamour style matching ui.color_scheme.
		markdownStyle string
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config     ConfigProvider
		NewSession SessionFactory
		Stdin      io.Reader
		Stdout     io.Writer
		Stderr     io.Writer
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config:        deps.Config,
		NewSession:    deps.NewSession,
		stdin:         deps.Stdin,
		stdout:        deps.Stdout,
		stderr:        deps.Stderr,
		markdownStyle: "dark",
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.NewSession == nil {
		app.NewSession = newToolchainSession
	}
	if app.stdin == nil {
		app.stdin = os.Stdin
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

// NewSession wraps a compiler and the function releasing its resources.
func NewSession(c *compile.Compiler, closeFn func(ctx context.Context) error) *Session {
	return &Session{Compiler: c, close: closeFn}
}

// Close releases the toolchain.
func (s *Session) Close(ctx context.Context) error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close(ctx)
}

// newToolchainSession reads the configured WASI modules, compiles them and
// opens the sysroot source.
func newToolchainSession(ctx context.Context, env SessionEnv) (*Session, error) {
	cfg := env.Config

	clang, err := readToolchainModule("clang", cfg.Toolchain.Clang)
	if err != nil {
		return nil, err
	}
	lld, err := readToolchainModule("wasm-ld", cfg.Toolchain.LLD)
	if err != nil {
		return nil, err
	}

	cacheDir := cfg.Toolchain.CacheDir.String()
	if cacheDir == "" {
		if dir, dirErr := config.DefaultCacheDir(); dirErr == nil {
			cacheDir = dir
		} else {
			env.Logger.Warn("compilation cache disabled", "err", dirErr)
		}
	}
	if cacheDir != "" {
		if mkErr := os.MkdirAll(cacheDir, 0o755); mkErr != nil {
			env.Logger.Warn("compilation cache disabled", "dir", cacheDir, "err", mkErr)
			cacheDir = ""
		}
	}

	src, err := openSysroot(cfg, cfg.Sysroot.Location.String(), env.Stderr, true)
	if err != nil {
		return nil, err
	}

	env.Logger.Debug("loading toolchain", "clang", cfg.Toolchain.Clang, "lld", cfg.Toolchain.LLD, "cache", cacheDir)
	tc, err := sandbox.NewToolchain(ctx, sandbox.ToolchainConfig{
		Clang:    clang,
		LLD:      lld,
		CacheDir: cacheDir,
		Logger:   env.Logger,
	})
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("load toolchain").
			WithSuggestion("Check that toolchain.clang and toolchain.lld are WASI command modules").
			Wrap(err).
			BuildError()
	}

	compiler := compile.NewFromToolchain(tc, sysroot.Memoize(src),
		compile.WithLogger(env.Logger),
		compile.WithDiagnosticsTee(env.Stderr),
		compile.WithProgramNames(cfg.Compile.DriverProgram, cfg.Compile.LinkerProgram),
	)
	return NewSession(compiler, tc.Close), nil
}

func readToolchainModule(tool string, path config.FilePath) ([]byte, error) {
	data, err := os.ReadFile(path.String())
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("read " + tool + " module").
			WithResource(path.String()).
			WithSuggestion("Set toolchain paths in the config file or with WASMCC_TOOLCHAIN_CLANG / WASMCC_TOOLCHAIN_LLD").
			Wrap(fmt.Errorf("%w: %w", sandbox.ErrMissingModule, err)).
			BuildError()
	}
	return data, nil
}

// openSysroot opens location with the configured digest. verify is false
// when location is not the configured one or the caller hashes the archive
// itself. extra options are applied last.
func openSysroot(cfg *config.Config, location string, progress io.Writer, verify bool, extra ...sysroot.SourceOption) (sysroot.Source, error) {
	opts := []sysroot.SourceOption{sysroot.WithUserAgent("wasmcc/" + Version)}
	if verify {
		digest, err := sysroot.ParseDigest(cfg.Sysroot.Digest)
		if err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("parse sysroot digest").
				WithResource(cfg.Sysroot.Digest).
				WithSuggestion("Use the form sha256:<64 hex chars> or blake3:<64 hex chars>").
				Wrap(err).
				BuildError()
		}
		opts = append(opts, sysroot.WithDigest(digest))
	}
	if cfg.UI.Progress && progress != nil {
		opts = append(opts, sysroot.WithProgress(progress))
	}
	opts = append(opts, extra...)
	src, err := sysroot.Open(location, opts...)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("open sysroot").
			WithSuggestion("Set sysroot.location in the config file").
			Wrap(err).
			BuildError()
	}
	return src, nil
}
