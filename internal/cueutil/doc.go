// SPDX-License-Identifier: MPL-2.0

// Package cueutil holds the CUE parsing steps shared by configuration and
// job manifests:
//
//  1. Compile the embedded schema
//  2. Compile user data and unify with schema
//  3. Validate and decode to Go struct
//
// Errors carry the file name and the JSON path of the offending field, e.g.
//
//	config.cue: sysroot.digest: invalid value "md5:..." (out of bound =~"^(sha256|blake3):")
package cueutil
