// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/invowk/wasmcc/internal/compile"
	"github.com/invowk/wasmcc/internal/config"
	"github.com/invowk/wasmcc/internal/invocation"
	"github.com/invowk/wasmcc/internal/sandbox"
	"github.com/invowk/wasmcc/internal/sandbox/sandboxtest"
	"github.com/invowk/wasmcc/internal/testutil"
)

const objectPath = "/tmp/main-0a1b.o"

// emptyWasm is the smallest valid WebAssembly binary.
var emptyWasm = []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}

type (
	staticConfig struct {
		cfg *config.Config
		err error
	}

	staticSource struct {
		data []byte
	}

	// harness runs commands against fake sandboxes.
	harness struct {
		app    *App
		clang  *sandboxtest.Fake
		lld    *sandboxtest.Fake
		cfg    *config.Config
		stdout bytes.Buffer
		stderr bytes.Buffer
	}
)

func (s staticConfig) Load(context.Context, config.LoadOptions) (*config.Config, error) {
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.cfg
	return &cp, nil
}

func (s staticSource) Fetch(context.Context) ([]byte, error) { return s.data, nil }

func testArchive() []byte {
	return testutil.Tarball(
		testutil.Dir("include/"),
		testutil.File("include/stdio.h", "int printf(const char *, ...);\n"),
		testutil.File("lib/wasm32-wasi/libc.a", "!<arch>\n"),
	)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Compile.Flags = []string{"-Wall"}
	cfg.UI.Progress = false
	return cfg
}

// fakeClang answers dry runs and "compiles" by writing an object at the -o
// path. Sources containing "#error" fail with exit code 1.
func fakeClang(_ context.Context, argv []string, fs sandbox.FS, diag io.Writer) (sandbox.ExitCode, error) {
	if argv[len(argv)-1] == invocation.DryRunFlag {
		fmt.Fprintf(diag, " \"/clang\" \"-cc1\" \"-emit-obj\" \"-o\" %q \"-x\" \"c\" %q\n \"/wasm-ld\" %q \"-lc\" \"-o\" \"a.out\"\n",
			objectPath, argv[1], objectPath)
		return 0, nil
	}
	input := argv[len(argv)-1]
	src, err := fs.ReadFile(input)
	if err != nil {
		return 1, nil
	}
	if bytes.Contains(src, []byte("#error")) {
		fmt.Fprintf(diag, "%s:1:2: error: boom\n", input)
		return 1, nil
	}
	if err := sandboxtest.WriteOutput(fs, invocation.OutputOf(argv[1:]), []byte("OBJ")); err != nil {
		fmt.Fprintf(diag, "error: unable to open output file: %v\n", err)
		return 1, nil
	}
	return 0, nil
}

func fakeLLD(code sandbox.ExitCode) sandboxtest.MainFunc {
	return func(_ context.Context, argv []string, fs sandbox.FS, diag io.Writer) (sandbox.ExitCode, error) {
		if code != 0 {
			fmt.Fprintln(diag, "wasm-ld: error: undefined symbol: main")
			return code, nil
		}
		return 0, sandboxtest.WriteOutput(fs, invocation.OutputOf(argv[1:]), emptyWasm)
	}
}

// newHarness wires an App whose sessions use scripted sandboxes and the
// real wazero loader.
func newHarness(t *testing.T, lldExit sandbox.ExitCode) *harness {
	t.Helper()
	h := &harness{
		clang: sandboxtest.New(fakeClang),
		lld:   sandboxtest.New(fakeLLD(lldExit)),
		cfg:   testConfig(),
	}
	h.app = NewApp(Dependencies{
		Config: staticConfig{cfg: h.cfg},
		NewSession: func(ctx context.Context, env SessionEnv) (*Session, error) {
			tc, err := sandbox.NewToolchain(ctx, sandbox.ToolchainConfig{Clang: emptyWasm, LLD: emptyWasm, TempDir: t.TempDir()})
			if err != nil {
				return nil, err
			}
			c := compile.New(staticSource{data: testArchive()}, tc,
				compile.WithClang(h.clang.Factory()),
				compile.WithLLD(h.lld.Factory()),
				compile.WithLogger(env.Logger),
				compile.WithDiagnosticsTee(env.Stderr),
				compile.WithProgramNames(env.Config.Compile.DriverProgram, env.Config.Compile.LinkerProgram),
			)
			return NewSession(c, tc.Close), nil
		},
		Stdin: bytes.NewReader(nil),
	})
	return h
}

// run executes the command tree with args and returns the RunE error.
func (h *harness) run(t *testing.T, args ...string) error {
	t.Helper()
	root := NewRootCommand(h.app)
	root.SetArgs(args)
	root.SetOut(&h.stdout)
	root.SetErr(&h.stderr)
	return root.ExecuteContext(context.Background())
}
