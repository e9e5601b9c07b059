// SPDX-License-Identifier: MPL-2.0

// Package invocation resolves the sub-process command lines of the clang
// driver.
//
// The driver is run once inside a throwaway sandbox with "-###", which makes
// it print (on stderr) every command it would execute instead of executing
// it. The front-end line (marked by "-cc1") and the linker line (marked by
// "wasm-ld") are parsed into argument vectors that the compile orchestrator
// replays against the real compiler and linker sandboxes.
//
// Each printed line is a sequence of double-quoted words. Lines are
// tokenized with the mvdan.cc/sh parser so that the driver's escaping of
// quotes, backslashes and dollar signs is undone exactly.
package invocation
