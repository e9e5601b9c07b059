// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers shared by tests: sysroot tarball
// builders, host file fixtures and cleanup of context-closed resources.
package testutil
