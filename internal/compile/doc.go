// SPDX-License-Identifier: MPL-2.0

// Package compile orchestrates a single-file C/C++ to WebAssembly build.
//
// A job moves through a fixed state machine:
//
//	Unresolved -> Resolved -> Compiled -> Linked -> Done
//
// with Failed reachable from every non-terminal state. Resolution runs the
// driver in dry-run mode (see package invocation) while the compiler and
// linker sandboxes are instantiated and the sysroot archive is fetched.
// The object file produced by the compiler sandbox is handed to the linker
// sandbox by an explicit read and write; the two sandboxes share nothing
// else except the job's diagnostics accumulator.
//
// A non-zero exit from the compiler or the linker is not an error: Compile
// returns a Result in the Failed state carrying the captured diagnostics.
package compile
