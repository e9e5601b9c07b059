// SPDX-License-Identifier: MPL-2.0

package sysroot

import (
	"bytes"
	"iter"
	"strconv"
	"strings"
)

const (
	// BlockSize is the archive record size. Headers occupy exactly one block
	// and entry contents are padded to a multiple of it.
	BlockSize = 512

	nameOffset   = 0
	nameLength   = 100
	sizeOffset   = 124
	sizeLength   = 12
	magicOffset  = 257
	prefixOffset = 345
	prefixLength = 155
)

var ustarMagic = []byte("ustar")

// Entry is a single archive member. Content aliases the archive buffer and
// must not be modified.
type Entry struct {
	Name    string
	Content []byte
}

// IsDir reports whether the entry is a directory marker.
func (e Entry) IsDir() bool {
	return strings.HasSuffix(e.Name, "/")
}

// Entries returns a lazy sequence over the archive members in data.
//
// Every range over the sequence starts again from the first header. Iteration
// stops at the first header with an empty name or when fewer than BlockSize
// bytes remain.
func Entries(data []byte) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		offset := 0
		for offset+BlockSize <= len(data) {
			header := data[offset : offset+BlockSize]

			name := entryName(header)
			if name == "" {
				return
			}
			// A size past the end of the buffer still ends iteration after
			// this entry; clamping keeps the offset arithmetic in range.
			size := min(entrySize(header), len(data))

			start := offset + BlockSize
			end := min(start+size, len(data))
			if !yield(Entry{Name: name, Content: data[start:end:end]}) {
				return
			}

			offset = start + paddedSize(size)
		}
	}
}

// Count returns the number of entries Entries would yield.
func Count(data []byte) int {
	n := 0
	for range Entries(data) {
		n++
	}
	return n
}

func entryName(header []byte) string {
	name := cString(header[nameOffset : nameOffset+nameLength])
	if name == "" {
		return ""
	}
	if bytes.HasPrefix(header[magicOffset:], ustarMagic) {
		if prefix := cString(header[prefixOffset : prefixOffset+prefixLength]); prefix != "" {
			return prefix + "/" + name
		}
	}
	return name
}

// entrySize parses the octal size field. Empty or malformed fields count as
// zero so that a damaged header never derails the offset arithmetic.
func entrySize(header []byte) int {
	field := strings.TrimSpace(cString(header[sizeOffset : sizeOffset+sizeLength]))
	if field == "" {
		return 0
	}
	size, err := strconv.ParseInt(field, 8, 64)
	if err != nil || size < 0 {
		return 0
	}
	return int(size)
}

func paddedSize(size int) int {
	return (size + BlockSize - 1) / BlockSize * BlockSize
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
