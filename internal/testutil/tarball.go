// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"bytes"
	"fmt"
)

// TarEntry is one record for Tarball. Names ending in "/" produce
// directory markers and ignore Content.
type TarEntry struct {
	Name    string
	Content []byte
}

// File is shorthand for a text TarEntry.
func File(name, content string) TarEntry {
	return TarEntry{Name: name, Content: []byte(content)}
}

// Dir is shorthand for a directory marker TarEntry.
func Dir(name string) TarEntry {
	return TarEntry{Name: name}
}

// Tarball encodes entries in the minimal sysroot image layout: a 512-byte
// header with the name at offset 0 and the octal size at offset 124,
// followed by the content padded to 512 bytes. Two empty blocks terminate
// the archive.
func Tarball(entries ...TarEntry) []byte {
	var buf bytes.Buffer
	for _, e := range entries {
		if len(e.Name) > 100 {
			panic(fmt.Sprintf("testutil: tar name longer than 100 bytes: %q", e.Name))
		}
		content := e.Content
		if len(e.Name) > 0 && e.Name[len(e.Name)-1] == '/' {
			content = nil
		}

		header := make([]byte, 512)
		copy(header[0:100], e.Name)
		copy(header[124:136], fmt.Sprintf("%011o\x00", len(content)))
		buf.Write(header)

		buf.Write(content)
		if pad := (512 - len(content)%512) % 512; pad > 0 {
			buf.Write(make([]byte, pad))
		}
	}
	buf.Write(make([]byte, 1024))
	return buf.Bytes()
}
