// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"golang.org/x/sync/errgroup"
)

const (
	// GuestTempDir is where the clang driver places intermediate objects.
	GuestTempDir = "/tmp"
	// GuestHomeDir is the guest home directory.
	GuestHomeDir = "/home/web_user"
)

var (
	// ErrMissingModule is returned by NewToolchain when a tool's wasm binary is empty.
	ErrMissingModule = errors.New("toolchain module is empty")

	// DefaultDirs exist in every fresh sandbox root, matching the layout an
	// Emscripten-hosted toolchain expects.
	DefaultDirs = []string{GuestTempDir, GuestHomeDir}
)

type (
	// ToolchainConfig holds the WASI binaries and runtime settings.
	ToolchainConfig struct {
		// Clang is the clang driver/front-end WASI command module.
		Clang []byte
		// LLD is the wasm-ld WASI command module.
		LLD []byte
		// CacheDir enables wazero's on-disk compilation cache when set.
		CacheDir string
		// TempDir is where sandbox roots are created. Empty uses os.TempDir.
		TempDir string
		// Logger receives lifecycle messages. nil discards them.
		Logger *log.Logger
	}

	// Toolchain owns the wazero runtime and the compiled toolchain modules.
	// Create once and share across compile jobs; it is safe for concurrent use.
	Toolchain struct {
		runtime  wazero.Runtime
		cache    wazero.CompilationCache
		compiled map[Tool]wazero.CompiledModule
		tempDir  string
		logger   *log.Logger
	}

	// RunOptions configure Toolchain.Run.
	RunOptions struct {
		Args   []string
		Env    map[string]string
		Stdin  io.Reader
		Stdout io.Writer
		Stderr io.Writer
		// Dir is mounted as "/" when set.
		Dir string
	}

	// wasiSandbox is a Module backed by a compiled WASI command module and
	// a private host directory.
	wasiSandbox struct {
		toolchain *Toolchain
		tool      Tool
		compiled  wazero.CompiledModule
		root      string
		fs        FS
		opts      Options
	}
)

// NewToolchain compiles the clang and wasm-ld modules. Both are compiled
// concurrently.
func NewToolchain(ctx context.Context, cfg ToolchainConfig) (*Toolchain, error) {
	if len(cfg.Clang) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingModule, ToolClang)
	}
	if len(cfg.LLD) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingModule, ToolLLD)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	var cache wazero.CompilationCache
	if cfg.CacheDir != "" {
		c, err := wazero.NewCompilationCacheWithDir(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("open compilation cache %s: %w", cfg.CacheDir, err)
		}
		cache = c
		rc = rc.WithCompilationCache(cache)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rc)
	t := &Toolchain{
		runtime:  rt,
		cache:    cache,
		compiled: make(map[Tool]wazero.CompiledModule, 2),
		tempDir:  cfg.TempDir,
		logger:   logger,
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = t.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	var clang, lld wazero.CompiledModule
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		clang, err = t.compile(gctx, ToolClang, cfg.Clang)
		return err
	})
	g.Go(func() (err error) {
		lld, err = t.compile(gctx, ToolLLD, cfg.LLD)
		return err
	})
	if err := g.Wait(); err != nil {
		_ = t.Close(ctx)
		return nil, err
	}
	t.compiled[ToolClang] = clang
	t.compiled[ToolLLD] = lld

	return t, nil
}

func (t *Toolchain) compile(ctx context.Context, tool Tool, wasm []byte) (wazero.CompiledModule, error) {
	t.logger.Debug("compiling toolchain module", "tool", tool, "bytes", len(wasm))
	compiled, err := t.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("compile %s module: %w", tool, err)
	}
	return compiled, nil
}

// Factory returns a Factory that instantiates sandboxes of tool.
func (t *Toolchain) Factory(tool Tool) Factory {
	return func(ctx context.Context, opts Options) (Module, error) {
		return t.instantiate(ctx, tool, opts)
	}
}

func (t *Toolchain) instantiate(ctx context.Context, tool Tool, opts Options) (Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	compiled, ok := t.compiled[tool]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", tool)
	}
	if opts.ProgramName == "" {
		opts.ProgramName = tool.String()
	}

	root, err := os.MkdirTemp(t.tempDir, "wasmcc-"+tool.String()+"-*")
	if err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	fs := NewDirFS(root)
	for _, dir := range DefaultDirs {
		if err := fs.MkdirAll(dir); err != nil {
			_ = os.RemoveAll(root)
			return nil, fmt.Errorf("create sandbox directory %s: %w", dir, err)
		}
	}
	t.logger.Debug("sandbox created", "tool", tool, "root", root)

	return &wasiSandbox{
		toolchain: t,
		tool:      tool,
		compiled:  compiled,
		root:      root,
		fs:        fs,
		opts:      opts,
	}, nil
}

// LoadBinary compiles a linked WebAssembly binary so it can be inspected or
// run with Run.
func (t *Toolchain) LoadBinary(ctx context.Context, binary []byte) (wazero.CompiledModule, error) {
	compiled, err := t.runtime.CompileModule(ctx, binary)
	if err != nil {
		return nil, fmt.Errorf("load linked module: %w", err)
	}
	return compiled, nil
}

// Run instantiates compiled as a WASI command and returns its exit code.
func (t *Toolchain) Run(ctx context.Context, compiled wazero.CompiledModule, opts RunOptions) (ExitCode, error) {
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs(opts.Args...).
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader)
	if opts.Stdin != nil {
		cfg = cfg.WithStdin(opts.Stdin)
	}
	if opts.Stdout != nil {
		cfg = cfg.WithStdout(opts.Stdout)
	}
	if opts.Stderr != nil {
		cfg = cfg.WithStderr(opts.Stderr)
	}
	if opts.Dir != "" {
		cfg = cfg.WithFSConfig(wazero.NewFSConfig().WithDirMount(opts.Dir, "/"))
	}
	for k, v := range opts.Env {
		cfg = cfg.WithEnv(k, v)
	}
	return t.exec(ctx, compiled, cfg)
}

func (t *Toolchain) exec(ctx context.Context, compiled wazero.CompiledModule, cfg wazero.ModuleConfig) (ExitCode, error) {
	mod, err := t.runtime.InstantiateModule(ctx, compiled, cfg)
	if mod != nil {
		_ = mod.Close(ctx)
	}
	if err == nil {
		return 0, nil
	}

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case sys.ExitCodeContextCanceled, sys.ExitCodeDeadlineExceeded:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 1, ctxErr
			}
		}
		code, codeErr := exitCodeFromStatus(exitErr.ExitCode())
		if codeErr != nil {
			t.logger.Warn("guest exit status remapped", "status", exitErr.ExitCode(), "exit_code", int(code))
		}
		return code, nil
	}
	return 1, err
}

// Close releases the runtime, the compiled modules and the compilation cache.
func (t *Toolchain) Close(ctx context.Context) error {
	err := t.runtime.Close(ctx)
	if t.cache != nil {
		err = errors.Join(err, t.cache.Close(ctx))
	}
	return err
}

func (s *wasiSandbox) ProgramName() string { return s.opts.ProgramName }

func (s *wasiSandbox) FS() FS { return s.fs }

// CallMain instantiates the module with argv = [ProgramName, args...] and
// the sandbox root mounted as "/".
func (s *wasiSandbox) CallMain(ctx context.Context, args []string) (ExitCode, error) {
	argv := make([]string, 0, len(args)+1)
	argv = append(argv, s.opts.ProgramName)
	argv = append(argv, args...)

	cfg := wazero.NewModuleConfig().
		WithName(""). // anonymous: the same module may run in several sandboxes at once
		WithArgs(argv...).
		WithEnv("PWD", "/").
		WithEnv("HOME", GuestHomeDir).
		WithEnv("TMPDIR", GuestTempDir).
		WithStdin(emptyReader{}).
		WithStdout(s.opts.stdout()).
		WithStderr(s.opts.diagnostics()).
		WithSysWalltime().
		WithSysNanotime().
		WithFSConfig(wazero.NewFSConfig().WithDirMount(s.root, "/"))

	s.toolchain.logger.Debug("call main", "tool", s.tool, "argc", len(argv))
	code, err := s.toolchain.exec(ctx, s.compiled, cfg)
	if err != nil {
		return code, fmt.Errorf("%s: %w", s.tool, err)
	}
	return code, nil
}

// Close removes the sandbox root directory.
func (s *wasiSandbox) Close(context.Context) error {
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("remove sandbox root: %w", err)
	}
	return nil
}

// emptyReader is an io.Reader that always returns EOF.
type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, io.EOF }
