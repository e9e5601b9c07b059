// SPDX-License-Identifier: MPL-2.0

// Package sandbox defines the contract of an isolated toolchain module and
// implements it on top of wazero.
//
// A sandbox owns a private filesystem (FS) and a single command-line entry
// point (CallMain). Two sandboxes never share state; artifacts move between
// them only by reading bytes from one FS and writing them into the other.
//
// Toolchain compiles the clang and wasm-ld WASI modules once and hands out a
// Factory per tool. Every sandbox a Factory creates gets its own temporary
// root directory, mounted as "/" inside the guest, and is instantiated anew on
// each CallMain. Diagnostics is the accumulator that collects the guest's
// stderr across one or more sandboxes.
package sandbox
