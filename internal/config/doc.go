// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from ~/.config/wasmcc/config.cue (or XDG equivalent on Linux,
// ~/Library/Application Support/wasmcc/config.cue on macOS, %APPDATA%\wasmcc\config.cue
// on Windows), falling back to ./config.cue and then to built-in defaults. It selects
// the toolchain modules, the sysroot image and its digest, the default compile flags
// and UI settings.
//
// Configuration validation is performed against a CUE schema (config_schema.cue) to ensure
// type safety and provide clear error messages for invalid configurations.
package config
