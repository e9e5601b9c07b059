// SPDX-License-Identifier: MPL-2.0

package compile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/invowk/wasmcc/internal/invocation"
	"github.com/invowk/wasmcc/internal/sandbox"
	"github.com/invowk/wasmcc/internal/sandbox/sandboxtest"
	"github.com/invowk/wasmcc/internal/sysroot"
	"github.com/invowk/wasmcc/internal/testutil"
)

const objectPath = "/tmp/a-5f1e.o"

// emptyWasm is the smallest valid WebAssembly binary. The fake linker
// "links" it so the real loader can compile it.
var emptyWasm = []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}

type staticSource struct {
	data []byte
	err  error
}

func (s staticSource) Fetch(context.Context) ([]byte, error) { return s.data, s.err }

func testArchive() []byte {
	return testutil.Tarball(
		testutil.Dir("include/"),
		testutil.File("include/stdio.h", "int printf(const char *, ...);\n"),
		testutil.File("lib/wasm32-wasi/libc.a", "!<arch>\n"),
	)
}

func dryRunOutput(input string) string {
	return fmt.Sprintf(" \"/clang\" \"-cc1\" \"-emit-obj\" \"-o\" %q \"-x\" \"c++\" %q\n \"/wasm-ld\" %q \"-lc\" \"-o\" \"a.out\"\n",
		objectPath, input, objectPath)
}

// fakeClang answers dry runs with dryRunOutput and otherwise "compiles" by
// writing an object at the -o path. Sources containing "#error" fail.
func fakeClang(t *testing.T) sandboxtest.MainFunc {
	t.Helper()
	return func(_ context.Context, argv []string, fs sandbox.FS, diag io.Writer) (sandbox.ExitCode, error) {
		if argv[len(argv)-1] == invocation.DryRunFlag {
			_, _ = io.WriteString(diag, dryRunOutput(argv[1]))
			return 0, nil
		}
		input := argv[len(argv)-1]
		src, err := fs.ReadFile(input)
		if err != nil {
			fmt.Fprintf(diag, "clang: error: no such file or directory: '%s'\n", input)
			return 1, nil
		}
		if ok, _ := fs.Exists("/include/stdio.h"); !ok {
			fmt.Fprintln(diag, "fatal error: 'stdio.h' file not found")
			return 1, nil
		}
		if bytes.Contains(src, []byte("#error")) {
			fmt.Fprintf(diag, "%s:1:2: error: boom\n", input)
			return 1, nil
		}
		if bytes.Contains(src, []byte("warn")) {
			fmt.Fprintf(diag, "%s:1:1: warning: suspicious\n", input)
		}
		out := invocation.OutputOf(argv[1:])
		if out == "" {
			return 0, nil
		}
		if err := sandboxtest.WriteOutput(fs, out, []byte("OBJ:"+string(src))); err != nil {
			fmt.Fprintf(diag, "error: unable to open output file '%s': %v\n", out, err)
			return 1, nil
		}
		return 0, nil
	}
}

// fakeLLD links the object named on its command line into emptyWasm.
func fakeLLD(t *testing.T, code sandbox.ExitCode) sandboxtest.MainFunc {
	t.Helper()
	return func(_ context.Context, argv []string, fs sandbox.FS, diag io.Writer) (sandbox.ExitCode, error) {
		obj, err := fs.ReadFile(objectPath)
		if err != nil || !bytes.HasPrefix(obj, []byte("OBJ:")) {
			fmt.Fprintf(diag, "wasm-ld: error: cannot open %s\n", objectPath)
			return 1, nil
		}
		if code != 0 {
			fmt.Fprintln(diag, "wasm-ld: error: undefined symbol: main")
			return code, nil
		}
		return 0, sandboxtest.WriteOutput(fs, invocation.OutputOf(argv[1:]), emptyWasm)
	}
}

func newLoader(t *testing.T) *sandbox.Toolchain {
	t.Helper()
	ctx := context.Background()
	tc, err := sandbox.NewToolchain(ctx, sandbox.ToolchainConfig{Clang: emptyWasm, LLD: emptyWasm, TempDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewToolchain() error: %v", err)
	}
	testutil.DeferClose(t, tc)
	return tc
}

type fixture struct {
	clang    *sandboxtest.Fake
	lld      *sandboxtest.Fake
	compiler *Compiler
}

func newFixture(t *testing.T, lldExit sandbox.ExitCode, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		clang: sandboxtest.New(fakeClang(t)),
		lld:   sandboxtest.New(fakeLLD(t, lldExit)),
	}
	base := []Option{WithClang(f.clang.Factory()), WithLLD(f.lld.Factory())}
	f.compiler = New(staticSource{data: testArchive()}, newLoader(t), append(base, opts...)...)
	return f
}

func TestCompileEndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	job := Job{
		Source:     "int main(){return 0;}",
		FileName:   "a.cpp",
		ExtraFiles: sysroot.Files{"/include/extra.h": sysroot.Text("#define X 1\n")},
	}

	res, err := f.compiler.Compile(context.Background(), job)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if !res.Success() {
		t.Fatalf("Compile() result not successful: state=%s diagnostics=%q", res.State, res.Diagnostics)
	}
	if res.State != StateDone {
		t.Errorf("State = %s, want %s", res.State, StateDone)
	}
	if res.Diagnostics != "" {
		t.Errorf("Diagnostics = %q, want empty", res.Diagnostics)
	}
	if !bytes.Equal(res.Binary, emptyWasm) {
		t.Errorf("Binary = %x", res.Binary)
	}
	if res.Invocation == nil || res.Invocation.Compiler.Output != objectPath {
		t.Errorf("Invocation = %+v", res.Invocation)
	}

	// One dry run and one real compile on clang; one link on lld.
	clangCalls := f.clang.Calls()
	if len(clangCalls) != 2 {
		t.Fatalf("clang called %d times, want 2", len(clangCalls))
	}
	if f.clang.Created() != 2 || f.lld.Created() != 1 {
		t.Errorf("sandboxes created: clang=%d lld=%d", f.clang.Created(), f.lld.Created())
	}
	if n := len(f.lld.Calls()); n != 1 {
		t.Errorf("lld called %d times, want 1", n)
	}
	if argv := f.lld.Calls()[0].Argv; argv[0] != DefaultLinkerProgram {
		t.Errorf("lld argv[0] = %q", argv[0])
	}

	for _, m := range append(f.clang.Instances(), f.lld.Instances()...) {
		if !m.Closed() {
			t.Errorf("sandbox %s was not closed", m.ProgramName())
		}
	}

	// Both real sandboxes are staged identically.
	for _, m := range []*sandboxtest.Module{compilerSandbox(t, f.clang), f.lld.Instances()[0]} {
		for _, p := range []string{"/include/stdio.h", "/lib/wasm32-wasi/libc.a", "/include/extra.h"} {
			if ok, _ := m.FS().Exists(p); !ok {
				t.Errorf("%s sandbox is missing %s", m.ProgramName(), p)
			}
		}
	}
	if ok, _ := f.lld.Instances()[0].FS().Exists("/a.cpp"); ok {
		t.Error("source leaked into the linker sandbox")
	}
}

// compilerSandbox returns the non-dry-run clang sandbox.
func compilerSandbox(t *testing.T, fake *sandboxtest.Fake) *sandboxtest.Module {
	t.Helper()
	for _, m := range fake.Instances() {
		if ok, _ := m.FS().Exists("/lib/wasm32-wasi/crt1-command.o"); !ok {
			return m
		}
	}
	t.Fatal("no compiler sandbox found")
	return nil
}

func TestCompileFailureNeverInvokesLinker(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	res, err := f.compiler.Compile(context.Background(), Job{Source: "#error nope", FileName: "a.cpp"})
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if res.Success() || res.Module != nil || res.Binary != nil {
		t.Error("failed compile produced a module")
	}
	if res.State != StateFailed || res.FailedStage != invocation.StageCompiler || res.ExitCode != 1 {
		t.Errorf("result = state %s stage %s exit %d", res.State, res.FailedStage, res.ExitCode)
	}
	if !strings.Contains(res.Diagnostics, "a.cpp:1:2: error: boom") {
		t.Errorf("Diagnostics = %q", res.Diagnostics)
	}
	if n := len(f.lld.Calls()); n != 0 {
		t.Errorf("linker invoked %d times after compile failure", n)
	}
}

func TestLinkFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	res, err := f.compiler.Compile(context.Background(), Job{Source: "// warn\nint x;", FileName: "a.cpp"})
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if res.State != StateFailed || res.FailedStage != invocation.StageLinker {
		t.Errorf("result = state %s stage %s", res.State, res.FailedStage)
	}
	if res.Module != nil {
		t.Error("link failure produced a module")
	}

	// Driver and linker diagnostics share one accumulator, in order.
	warn := strings.Index(res.Diagnostics, "warning: suspicious")
	link := strings.Index(res.Diagnostics, "undefined symbol: main")
	if warn < 0 || link < 0 || warn > link {
		t.Errorf("Diagnostics = %q, want compiler warning before linker error", res.Diagnostics)
	}
}

type staticResolver struct {
	inv *invocation.Invocation
}

func (s staticResolver) Resolve(context.Context, string, string, []string) (*invocation.Invocation, error) {
	return s.inv, nil
}

func TestCompileCreatesOutputDirectories(t *testing.T) {
	t.Parallel()

	const object = "/build/obj/a-1.o"
	inv, err := invocation.ParseDryRun(
		" \"/clang\" \"-cc1\" \"-emit-obj\" \"-o\" \""+object+"\" \"-x\" \"c++\" \"a.cpp\"\n"+
			" \"/wasm-ld\" \""+object+"\" \"-o\" \"/out/bin/a.wasm\"\n",
		invocation.DefaultMarkers)
	if err != nil {
		t.Fatal(err)
	}

	f := newFixture(t, 0, WithResolver(staticResolver{inv: inv}))
	f.lld.Main = func(_ context.Context, argv []string, fs sandbox.FS, diag io.Writer) (sandbox.ExitCode, error) {
		if _, err := fs.ReadFile(argv[1]); err != nil {
			fmt.Fprintf(diag, "wasm-ld: error: cannot open %s\n", argv[1])
			return 1, nil
		}
		return 0, sandboxtest.WriteOutput(fs, invocation.OutputOf(argv[1:]), emptyWasm)
	}

	res, err := f.compiler.Compile(context.Background(), Job{Source: "int main(){}", FileName: "a.cpp"})
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if !res.Success() {
		t.Fatalf("state=%s diagnostics=%q", res.State, res.Diagnostics)
	}
}

func TestMissingOutputIsExplicitFailure(t *testing.T) {
	t.Parallel()

	inv, err := invocation.ParseDryRun(" \"/clang\" \"-cc1\" \"-x\" \"c++\" \"a.cpp\"\n \"/wasm-ld\" \"-o\" \"a.out\"\n", invocation.DefaultMarkers)
	if err != nil {
		t.Fatal(err)
	}

	f := newFixture(t, 0, WithResolver(staticResolver{inv: inv}))
	res, err := f.compiler.Compile(context.Background(), Job{Source: "int main(){}", FileName: "a.cpp"})
	if !errors.Is(err, invocation.ErrMissingOutput) {
		t.Fatalf("error = %v, want ErrMissingOutput", err)
	}
	if res == nil || res.State != StateFailed {
		t.Fatalf("result = %+v, want failed result alongside the error", res)
	}
	if n := len(f.lld.Calls()); n != 0 {
		t.Errorf("linker invoked %d times", n)
	}
}

func TestCompileDryRunFailure(t *testing.T) {
	t.Parallel()

	clang := sandboxtest.New(sandboxtest.Exit(1, "clang++: error: unsupported option '-fbogus'\n"))
	lld := sandboxtest.New(nil)
	c := New(staticSource{data: testArchive()}, nil, WithClang(clang.Factory()), WithLLD(lld.Factory()))

	res, err := c.Compile(context.Background(), Job{FileName: "a.cpp", Flags: []string{"-fbogus"}})
	if !errors.Is(err, invocation.ErrDryRun) {
		t.Fatalf("error = %v, want ErrDryRun", err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	if n := len(lld.Calls()); n != 0 {
		t.Errorf("linker invoked %d times", n)
	}
	for _, m := range append(clang.Instances(), lld.Instances()...) {
		if !m.Closed() {
			t.Error("sandbox left open after dry-run failure")
		}
	}
}

func TestCompileSysrootFetchFailure(t *testing.T) {
	t.Parallel()

	clang := sandboxtest.New(fakeClang(t))
	lld := sandboxtest.New(nil)
	offline := errors.New("network unreachable")
	c := New(staticSource{err: offline}, nil, WithClang(clang.Factory()), WithLLD(lld.Factory()))

	_, err := c.Compile(context.Background(), Job{Source: "int main(){}", FileName: "a.cpp"})
	if !errors.Is(err, offline) {
		t.Fatalf("error = %v, want fetch error", err)
	}
	if !strings.Contains(err.Error(), "fetch sysroot") {
		t.Errorf("error should mention the sysroot: %v", err)
	}
}

func TestCompileInvalidJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	tests := []struct {
		name string
		job  Job
	}{
		{"empty file name", Job{Source: "int x;"}},
		{"directory file name", Job{FileName: "src/"}},
		{"reserved flag", Job{FileName: "a.c", Flags: []string{"-###"}}},
		{"directory extra file", Job{FileName: "a.c", ExtraFiles: sysroot.Files{"/include/": sysroot.Text("")}}},
	}
	for _, tt := range tests {
		_, err := f.compiler.Compile(context.Background(), tt.job)
		if !errors.Is(err, ErrInvalidJob) {
			t.Errorf("%s: error = %v, want ErrInvalidJob", tt.name, err)
		}
	}
	if f.clang.Created() != 0 {
		t.Error("sandboxes were created for an invalid job")
	}
}

func TestCompileNestedFileName(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	res, err := f.compiler.Compile(context.Background(), Job{Source: "int main(){}", FileName: "/work/src/main.cpp"})
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if !res.Success() {
		t.Errorf("result = %s, diagnostics %q", res.State, res.Diagnostics)
	}
}

func TestDiagnosticsTee(t *testing.T) {
	t.Parallel()

	var tee bytes.Buffer
	f := newFixture(t, 0, WithDiagnosticsTee(&tee))
	res, err := f.compiler.Compile(context.Background(), Job{Source: "#error x", FileName: "a.cpp"})
	if err != nil {
		t.Fatal(err)
	}
	if tee.String() != res.Diagnostics {
		t.Errorf("tee = %q, diagnostics = %q", tee.String(), res.Diagnostics)
	}
}

func TestCompileCanceled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.compiler.Compile(ctx, Job{Source: "int main(){}", FileName: "a.cpp"}); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestBuildPCH(t *testing.T) {
	t.Parallel()

	clang := sandboxtest.New(func(_ context.Context, argv []string, fs sandbox.FS, diag io.Writer) (sandbox.ExitCode, error) {
		header := argv[slices.Index(argv, "c++-header")+1]
		if ok, _ := fs.Exists(header); !ok {
			fmt.Fprintln(diag, "fatal error: header not found")
			return 1, nil
		}
		return 0, sandboxtest.WriteOutput(fs, invocation.OutputOf(argv[1:]), []byte("CPCH"))
	})
	archive := testutil.Tarball(testutil.File("include/bits/stdc++.h", "#include <vector>\n"))
	c := New(staticSource{data: archive}, nil, WithClang(clang.Factory()), WithLLD(sandboxtest.New(nil).Factory()))

	pch, _, err := c.BuildPCH(context.Background(), PCHJob{Flags: []string{"-O2"}})
	if err != nil {
		t.Fatalf("BuildPCH() error: %v", err)
	}
	if string(pch) != "CPCH" {
		t.Errorf("pch = %q", pch)
	}

	want := []string{
		"clang++", "-O2",
		"-x", "c++-header", "/include/bits/stdc++.h",
		"-o", "/include/bits/stdc++.h.pch",
		"-Xclang", "-fno-pch-timestamp",
		"-fpch-instantiate-templates",
		"-fdiagnostics-color=always",
	}
	if got := clang.Calls()[0].Argv; !slices.Equal(got, want) {
		t.Errorf("argv = %q\nwant %q", got, want)
	}

	_, diag, err := c.BuildPCH(context.Background(), PCHJob{Header: "/include/missing.h"})
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.Stage != StagePCH {
		t.Fatalf("error = %v, want pch ToolError", err)
	}
	if !errors.Is(err, ErrToolFailed) || !strings.Contains(diag, "header not found") {
		t.Errorf("diag = %q, err = %v", diag, err)
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	if _, err := f.compiler.Run(context.Background(), &Result{State: StateFailed}, sandbox.RunOptions{}); !errors.Is(err, ErrNoModule) {
		t.Errorf("Run() on failed result error = %v, want ErrNoModule", err)
	}

	res, err := f.compiler.Compile(context.Background(), Job{Source: "int main(){}", FileName: "a.cpp"})
	if err != nil {
		t.Fatal(err)
	}
	code, err := f.compiler.Run(context.Background(), res, sandbox.RunOptions{Args: []string{"a.out"}})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestResolveDoesNotCompile(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	inv, err := f.compiler.Resolve(context.Background(), Job{Source: "int main(){}", FileName: "src/a.cpp", Flags: []string{"-O2"}})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if inv.Compiler.Output != objectPath || inv.Linker.Output != "a.out" {
		t.Errorf("Invocation = %+v", inv)
	}
	if n := len(f.clang.Calls()); n != 1 {
		t.Errorf("clang called %d times, want only the dry run", n)
	}
	if f.lld.Created() != 0 {
		t.Error("Resolve() instantiated a linker sandbox")
	}

	if _, err := f.compiler.Resolve(context.Background(), Job{FileName: ""}); !errors.Is(err, ErrInvalidJob) {
		t.Errorf("Resolve(invalid) error = %v, want ErrInvalidJob", err)
	}
}
