// SPDX-License-Identifier: MPL-2.0

package compile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/charmbracelet/log"
	"github.com/tetratelabs/wazero"
	"golang.org/x/sync/errgroup"

	"github.com/invowk/wasmcc/internal/invocation"
	"github.com/invowk/wasmcc/internal/sandbox"
	"github.com/invowk/wasmcc/internal/sysroot"
)

const (
	// DefaultDriverProgram is argv[0] of the compiler sandbox.
	DefaultDriverProgram = "clang++"
	// DefaultLinkerProgram is argv[0] of the linker sandbox.
	DefaultLinkerProgram = "wasm-ld"
)

type (
	// Resolver produces the compiler and linker commands for a job.
	// *invocation.Resolver implements it.
	Resolver interface {
		Resolve(ctx context.Context, inputName, source string, flags []string) (*invocation.Invocation, error)
	}

	// Loader loads and runs linked binaries. *sandbox.Toolchain implements it.
	Loader interface {
		LoadBinary(ctx context.Context, binary []byte) (wazero.CompiledModule, error)
		Run(ctx context.Context, compiled wazero.CompiledModule, opts sandbox.RunOptions) (sandbox.ExitCode, error)
	}

	// Compiler runs compile jobs. It holds no per-job state and may be
	// used concurrently.
	Compiler struct {
		newClang      sandbox.Factory
		newLLD        sandbox.Factory
		resolver      Resolver
		sysroot       sysroot.Source
		loader        Loader
		logger        *log.Logger
		tee           io.Writer
		driverProgram string
		linkerProgram string
	}

	// Option configures a Compiler.
	Option func(*Compiler)

	// job is the mutable state of one Compile call.
	job struct {
		*Compiler
		input  Job
		diag   *sandbox.Diagnostics
		result *Result
	}
)

// WithClang sets the factory for compiler (and dry-run) sandboxes.
func WithClang(f sandbox.Factory) Option {
	return func(c *Compiler) { c.newClang = f }
}

// WithLLD sets the factory for linker sandboxes.
func WithLLD(f sandbox.Factory) Option {
	return func(c *Compiler) { c.newLLD = f }
}

// WithResolver replaces the dry-run resolver built from the clang factory.
func WithResolver(r Resolver) Option {
	return func(c *Compiler) { c.resolver = r }
}

// WithLogger sets the logger for state transitions and failures.
func WithLogger(l *log.Logger) Option {
	return func(c *Compiler) { c.logger = l }
}

// WithDiagnosticsTee forwards every diagnostic write to w as it happens.
func WithDiagnosticsTee(w io.Writer) Option {
	return func(c *Compiler) { c.tee = w }
}

// WithProgramNames overrides argv[0] of the compiler and linker sandboxes.
// Empty values keep the defaults.
func WithProgramNames(driver, linker string) Option {
	return func(c *Compiler) {
		if driver != "" {
			c.driverProgram = driver
		}
		if linker != "" {
			c.linkerProgram = linker
		}
	}
}

// New returns a Compiler that stages src into every sandbox and loads
// linked binaries with loader. The clang and lld factories must be set
// with WithClang and WithLLD unless NewFromToolchain is used.
func New(src sysroot.Source, loader Loader, opts ...Option) *Compiler {
	c := &Compiler{
		sysroot:       src,
		loader:        loader,
		logger:        log.New(io.Discard),
		driverProgram: DefaultDriverProgram,
		linkerProgram: DefaultLinkerProgram,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.resolver == nil && c.newClang != nil {
		c.resolver = invocation.NewResolver(c.newClang,
			invocation.WithLogger(c.logger),
			invocation.WithProgramName(c.driverProgram),
		)
	}
	return c
}

// NewFromToolchain returns a Compiler whose sandboxes and loader are
// backed by tc.
func NewFromToolchain(tc *sandbox.Toolchain, src sysroot.Source, opts ...Option) *Compiler {
	base := []Option{
		WithClang(tc.Factory(sandbox.ToolClang)),
		WithLLD(tc.Factory(sandbox.ToolLLD)),
	}
	return New(src, tc, append(base, opts...)...)
}

// Resolve asks the driver how it would compile and link j without running
// either stage.
func (c *Compiler) Resolve(ctx context.Context, j Job) (*invocation.Invocation, error) {
	if ok, errs := j.IsValid(); !ok {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJob, errors.Join(errs...))
	}
	if c.resolver == nil {
		return nil, errors.New("compiler is missing a resolver")
	}
	return c.resolver.Resolve(ctx, j.FileName, j.Source, j.Flags)
}

// Compile runs j through resolution, compilation and linking.
//
// A compiler or linker that exits non-zero yields a Result in StateFailed
// and a nil error. Errors are reserved for failures of the pipeline itself:
// an invalid job, a failed dry run or parse, sandbox faults, a missing
// artifact and load failures. Once the compiler sandbox has run, the
// returned Result is non-nil even when err is non-nil so the diagnostics
// are never lost.
func (c *Compiler) Compile(ctx context.Context, j Job) (*Result, error) {
	if ok, errs := j.IsValid(); !ok {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJob, errors.Join(errs...))
	}
	if c.newClang == nil || c.newLLD == nil || c.resolver == nil {
		return nil, errors.New("compiler is missing a sandbox factory")
	}

	run := &job{
		Compiler: c,
		input:    j,
		diag:     sandbox.NewDiagnostics(c.tee),
		result:   &Result{State: StateUnresolved},
	}

	clang, lld, archive, inv, err := run.prepare(ctx)
	defer run.close(ctx, clang, lld)
	if err != nil {
		return nil, err
	}
	run.result.Invocation = inv
	if err := run.advance(StateResolved); err != nil {
		return nil, err
	}

	return run.execute(ctx, clang, lld, archive, inv)
}

// prepare instantiates both sandboxes, fetches the sysroot and resolves the
// invocation concurrently.
func (r *job) prepare(ctx context.Context) (clang, lld sandbox.Module, archive []byte, inv *invocation.Invocation, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		clang, err = r.newClang(gctx, sandbox.Options{ProgramName: r.driverProgram, Diagnostics: r.diag})
		if err != nil {
			return fmt.Errorf("instantiate compiler sandbox: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		lld, err = r.newLLD(gctx, sandbox.Options{ProgramName: r.linkerProgram, Diagnostics: r.diag})
		if err != nil {
			return fmt.Errorf("instantiate linker sandbox: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		archive, err = r.sysroot.Fetch(gctx)
		if err != nil {
			return fmt.Errorf("fetch sysroot: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		inv, err = r.resolver.Resolve(gctx, r.input.FileName, r.input.Source, r.input.Flags)
		return err
	})
	err = g.Wait()
	return clang, lld, archive, inv, err
}

func (r *job) execute(ctx context.Context, clang, lld sandbox.Module, archive []byte, inv *invocation.Invocation) (*Result, error) {
	// Compile.
	if err := sysroot.Stage(clang.FS(), archive, r.input.ExtraFiles); err != nil {
		return r.fail(fmt.Errorf("stage compiler sandbox: %w", err))
	}
	if err := writeFile(clang.FS(), r.input.FileName, []byte(r.input.Source)); err != nil {
		return r.fail(fmt.Errorf("write source: %w", err))
	}
	if err := inv.Validate(); err != nil {
		return r.fail(err)
	}
	// The guest opens -o without creating its directory.
	if err := mkdirParent(clang.FS(), inv.Compiler.Output); err != nil {
		return r.fail(fmt.Errorf("prepare object directory: %w", err))
	}
	r.logger.Debug("running compiler", "args", len(inv.Compiler.Args))
	code, err := clang.CallMain(ctx, inv.Compiler.Args)
	if err != nil {
		return r.fail(fmt.Errorf("run compiler: %w", err))
	}
	if !code.IsSuccess() {
		return r.failStage(invocation.StageCompiler, code)
	}
	object, err := clang.FS().ReadFile(inv.Compiler.Output)
	if err != nil {
		return r.fail(fmt.Errorf("read object file: %w", err))
	}
	if err := r.advance(StateCompiled); err != nil {
		return r.fail(err)
	}

	// Link. The object is the only thing handed over from the compiler.
	if err := sysroot.Stage(lld.FS(), archive, r.input.ExtraFiles); err != nil {
		return r.fail(fmt.Errorf("stage linker sandbox: %w", err))
	}
	if err := writeFile(lld.FS(), inv.Compiler.Output, object); err != nil {
		return r.fail(fmt.Errorf("hand over object file: %w", err))
	}
	if err := mkdirParent(lld.FS(), inv.Linker.Output); err != nil {
		return r.fail(fmt.Errorf("prepare binary directory: %w", err))
	}
	r.logger.Debug("running linker", "args", len(inv.Linker.Args), "object_bytes", len(object))
	code, err = lld.CallMain(ctx, inv.Linker.Args)
	if err != nil {
		return r.fail(fmt.Errorf("run linker: %w", err))
	}
	if !code.IsSuccess() {
		return r.failStage(invocation.StageLinker, code)
	}
	binary, err := lld.FS().ReadFile(inv.Linker.Output)
	if err != nil {
		return r.fail(fmt.Errorf("read linked binary: %w", err))
	}
	if err := r.advance(StateLinked); err != nil {
		return r.fail(err)
	}

	// Load.
	module, err := r.loader.LoadBinary(ctx, binary)
	if err != nil {
		return r.fail(err)
	}
	r.result.Binary = binary
	r.result.Module = module
	if err := r.advance(StateDone); err != nil {
		return r.fail(err)
	}
	r.result.Diagnostics = r.diag.String()
	return r.result, nil
}

func (r *job) advance(to State) error {
	from := r.result.State
	if err := transition(from, to); err != nil {
		return err
	}
	r.logger.Debug("compile state", "file", r.input.FileName, "from", from, "to", to)
	r.result.State = to
	return nil
}

// failStage records a non-zero tool exit. It is a result, not an error.
func (r *job) failStage(stage invocation.StageName, code sandbox.ExitCode) (*Result, error) {
	if err := r.advance(StateFailed); err != nil {
		return nil, err
	}
	r.result.FailedStage = stage
	r.result.ExitCode = code
	r.result.Diagnostics = r.diag.String()
	r.logger.Info("compile failed", "file", r.input.FileName, "stage", stage, "exit_code", int(code))
	return r.result, nil
}

func (r *job) fail(err error) (*Result, error) {
	if !r.result.State.IsTerminal() {
		r.result.State = StateFailed
	}
	r.result.Diagnostics = r.diag.String()
	r.logger.Error("compile aborted", "file", r.input.FileName, "err", err)
	return r.result, err
}

func (r *job) close(ctx context.Context, modules ...sandbox.Module) {
	for _, m := range modules {
		if m == nil {
			continue
		}
		if err := m.Close(ctx); err != nil {
			r.logger.Warn("closing sandbox", "program", m.ProgramName(), "err", err)
		}
	}
}

// BuildPCH precompiles a header inside a freshly staged compiler sandbox
// and returns the precompiled bytes along with the diagnostics.
func (c *Compiler) BuildPCH(ctx context.Context, j PCHJob) ([]byte, string, error) {
	if c.newClang == nil {
		return nil, "", errors.New("compiler is missing a sandbox factory")
	}
	diag := sandbox.NewDiagnostics(c.tee)

	var clang sandbox.Module
	var archive []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		clang, err = c.newClang(gctx, sandbox.Options{ProgramName: c.driverProgram, Diagnostics: diag})
		return err
	})
	g.Go(func() (err error) {
		archive, err = c.sysroot.Fetch(gctx)
		return err
	})
	err := g.Wait()
	if clang != nil {
		defer func() { _ = clang.Close(ctx) }()
	}
	if err != nil {
		return nil, "", fmt.Errorf("prepare pch sandbox: %w", err)
	}

	if err := sysroot.Stage(clang.FS(), archive, j.ExtraFiles); err != nil {
		return nil, diag.String(), err
	}
	if err := mkdirParent(clang.FS(), j.Output()); err != nil {
		return nil, diag.String(), fmt.Errorf("prepare pch directory: %w", err)
	}
	c.logger.Debug("building precompiled header", "header", j.header())
	code, err := clang.CallMain(ctx, j.Args())
	if err != nil {
		return nil, diag.String(), fmt.Errorf("run compiler: %w", err)
	}
	if !code.IsSuccess() {
		return nil, diag.String(), &ToolError{Stage: StagePCH, ExitCode: code, Diagnostics: diag.String()}
	}
	pch, err := clang.FS().ReadFile(j.Output())
	if err != nil {
		return nil, diag.String(), fmt.Errorf("read precompiled header: %w", err)
	}
	return pch, diag.String(), nil
}

// Run executes the linked module of res as a WASI command.
func (c *Compiler) Run(ctx context.Context, res *Result, opts sandbox.RunOptions) (sandbox.ExitCode, error) {
	if !res.Success() {
		return 1, ErrNoModule
	}
	return c.loader.Run(ctx, res.Module, opts)
}

// writeFile creates the parent directory of name and writes data.
func writeFile(fs sandbox.FS, name string, data []byte) error {
	if err := mkdirParent(fs, name); err != nil {
		return err
	}
	return fs.WriteFile(name, data)
}

func mkdirParent(fs sandbox.FS, name string) error {
	if dir := path.Dir(path.Join("/", name)); dir != "/" {
		return fs.MkdirAll(dir)
	}
	return nil
}
