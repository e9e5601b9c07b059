// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for wasmcc.
//
// Commands are built by NewRootCommand around an App, the composition root
// holding the config provider and the session factory. Handlers load the
// config lazily and open a toolchain session only when they compile, so
// `config` and `sysroot` subcommands work without the WASI modules.
package cmd
