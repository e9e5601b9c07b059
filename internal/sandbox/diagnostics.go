// SPDX-License-Identifier: MPL-2.0

package sandbox

import (
	"bytes"
	"io"
	"sync"
)

// Diagnostics accumulates the diagnostic text of one compile job. It is
// shared by every sandbox of the job so the caller sees driver and linker
// output in emission order. Writes are safe for concurrent use.
type Diagnostics struct {
	mu  sync.Mutex
	buf bytes.Buffer
	tee io.Writer
}

// NewDiagnostics returns an empty accumulator. When tee is non-nil every
// write is also forwarded to it, e.g. to stream diagnostics to a terminal.
func NewDiagnostics(tee io.Writer) *Diagnostics {
	return &Diagnostics{tee: tee}
}

// Write appends p. Errors from the tee writer are ignored; the accumulated
// text is the source of truth.
func (d *Diagnostics) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf.Write(p)
	if d.tee != nil {
		_, _ = d.tee.Write(p)
	}
	return len(p), nil
}

// String returns everything written so far.
func (d *Diagnostics) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.String()
}

// Len returns the number of accumulated bytes.
func (d *Diagnostics) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.Len()
}
