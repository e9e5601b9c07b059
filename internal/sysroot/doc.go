// SPDX-License-Identifier: MPL-2.0

// Package sysroot decodes and stages the root filesystem image that the
// sandboxed toolchain modules run against.
//
// The image is a tape archive made of 512-byte headers, each followed by the
// entry content padded to the next 512-byte boundary. Entries decodes it
// lazily over an in-memory buffer and Stage writes the decoded files (plus
// caller-supplied extra files) into a sandbox filesystem.
//
// Sources (local files or HTTP downloads, optionally gzip/zstd/lz4
// compressed and digest-verified) are described by Open.
package sysroot
