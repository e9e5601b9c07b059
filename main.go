// SPDX-License-Identifier: MPL-2.0

// wasmcc compiles C and C++ to WebAssembly with a sandboxed clang toolchain.
package main

import cmd "github.com/invowk/wasmcc/cmd/wasmcc"

func main() {
	cmd.Execute()
}
