// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Id int

const (
	FileNotFoundId Id = iota + 1
	ToolchainModuleNotFoundId
	SysrootFetchFailedId
	SysrootDigestMismatchId
	DryRunFailedId
	InvocationParseErrorId
	CompileFailedId
	LinkFailedId
	ConfigLoadFailedId
	JobFileInvalidId
	PermissionDeniedId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink
	extLinks []HttpLink // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n"
		extraMd += "## See also:\n"
		for _, link := range i.docLinks {
			extraMd += "- <" + string(link) + ">\n"
		}
		for _, link := range i.extLinks {
			extraMd += "- <" + string(link) + ">\n"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

const (
	wasiSDKLink  HttpLink = "https://github.com/WebAssembly/wasi-sdk"
	clangRefLink HttpLink = "https://clang.llvm.org/docs/ClangCommandLineReference.html"
	cueLink      HttpLink = "https://cuelang.org/docs/"
)

var (
	render = glamour.Render

	fileNotFoundIssue = &Issue{
		id: FileNotFoundId,
		mdMsg: `
# File not found!

wasmcc could not open one of the files it was asked to read.

## Things you can try
- Check the path for typos; relative paths resolve against the current directory
- Paths inside a job file resolve against the job file's directory`,
	}

	toolchainModuleNotFoundIssue = &Issue{
		id: ToolchainModuleNotFoundId,
		mdMsg: `
# Toolchain modules not found!

wasmcc runs clang and wasm-ld as WASI modules and needs both binaries.

## Things you can try
- Point the configuration at them:
~~~cue
toolchain: {
	clang: "/opt/wasmcc/clang.wasm"
	lld:   "/opt/wasmcc/lld.wasm"
}
~~~
- Or pass them on the command line:
~~~
$ wasmcc compile --clang clang.wasm --lld lld.wasm main.cpp
~~~`,
		extLinks: []HttpLink{wasiSDKLink},
	}

	sysrootFetchFailedIssue = &Issue{
		id: SysrootFetchFailedId,
		mdMsg: `
# Failed to fetch the sysroot!

The sysroot tarball holds the C/C++ headers and libraries the compiler needs.

## Things you can try
- Check that ` + "`sysroot.location`" + ` points to a readable file or a reachable URL
- Supported archives: .tar, .tar.gz, .tar.zst, .tar.lz4
- Inspect it with:
~~~
$ wasmcc sysroot ls
~~~`,
		extLinks: []HttpLink{wasiSDKLink},
	}

	sysrootDigestMismatchIssue = &Issue{
		id: SysrootDigestMismatchId,
		mdMsg: `
# Sysroot digest mismatch!

The downloaded sysroot does not match the configured digest. The file may be
corrupt, or the location may now serve a different build.

## Things you can try
- Recompute the digest of a trusted copy:
~~~
$ wasmcc sysroot digest --algorithm sha256 sysroot.tar.zst
~~~
- Update ` + "`sysroot.digest`" + ` only if you trust the new file`,
	}

	dryRunFailedIssue = &Issue{
		id: DryRunFailedId,
		mdMsg: `
# The compiler driver rejected the flags!

wasmcc asks the clang driver which commands it would run (` + "`-###`" + `), and the
driver exited with an error before compiling anything.

## Things you can try
- Read the driver diagnostics printed above
- Remove flags that need a host toolchain, such as ` + "`-fuse-ld`" + ` or ` + "`--target`" + ` overrides`,
		extLinks: []HttpLink{clangRefLink},
	}

	invocationParseErrorIssue = &Issue{
		id: InvocationParseErrorId,
		mdMsg: `
# Could not understand the driver's plan!

The dry-run output did not contain a recognizable compiler or linker command line.

## Things you can try
- Run ` + "`wasmcc resolve`" + ` with the same flags and inspect the raw output
- Check that the clang module is a wasi-sdk build that prints ` + "`-cc1`" + ` and ` + "`wasm-ld`" + ` lines`,
	}

	compileFailedIssue = &Issue{
		id: CompileFailedId,
		mdMsg: `
# Compilation failed!

The compiler reported errors in your source. The diagnostics above point at
the offending lines.`,
		extLinks: []HttpLink{clangRefLink},
	}

	linkFailedIssue = &Issue{
		id: LinkFailedId,
		mdMsg: `
# Linking failed!

The object file compiled, but wasm-ld could not produce a module.

## Things you can try
- Undefined symbols usually mean a missing library flag such as ` + "`-lc++`" + `
- Check that the sysroot matches the toolchain version`,
		extLinks: []HttpLink{wasiSDKLink},
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

The configuration file could not be read or does not match the schema.

## Things you can try
- Print the effective defaults:
~~~
$ wasmcc config show
~~~
- Recreate a default file:
~~~
$ wasmcc config init
~~~`,
		extLinks: []HttpLink{cueLink},
	}

	jobFileInvalidIssue = &Issue{
		id: JobFileInvalidId,
		mdMsg: `
# Invalid job file!

Job files describe one compile job in TOML, YAML or CUE.

## Example
~~~toml
file = "main.cpp"
source_path = "src/main.cpp"
flags = ["-O2", "-std=c++20"]
output = "main.wasm"
~~~`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

wasmcc could not read an input or write an output.

## Things you can try
- Check the permissions of the output directory
- Check that the compilation cache directory is writable`,
	}

	issues = map[Id]*Issue{
		fileNotFoundIssue.Id():            fileNotFoundIssue,
		toolchainModuleNotFoundIssue.Id(): toolchainModuleNotFoundIssue,
		sysrootFetchFailedIssue.Id():      sysrootFetchFailedIssue,
		sysrootDigestMismatchIssue.Id():   sysrootDigestMismatchIssue,
		dryRunFailedIssue.Id():            dryRunFailedIssue,
		invocationParseErrorIssue.Id():    invocationParseErrorIssue,
		compileFailedIssue.Id():           compileFailedIssue,
		linkFailedIssue.Id():              linkFailedIssue,
		configLoadFailedIssue.Id():        configLoadFailedIssue,
		jobFileInvalidIssue.Id():          jobFileInvalidIssue,
		permissionDeniedIssue.Id():        permissionDeniedIssue,
	}
)

func Values() []*Issue {
	return maps.Values(issues)
}

func Get(id Id) *Issue {
	return issues[id]
}
