// SPDX-License-Identifier: MPL-2.0

package sandbox

// commandModule assembles a WASI command module whose _start writes stderr
// to fd 2 (when non-empty) and then calls proc_exit(exitCode).
func commandModule(stderr string, exitCode int32) []byte {
	const wasi = "wasi_snapshot_preview1"

	types := vec(
		funcType([]byte{i32}, nil),                        // 0: proc_exit
		funcType([]byte{i32, i32, i32, i32}, []byte{i32}), // 1: fd_write
		funcType(nil, nil),                                // 2: _start
	)
	imports := vec(
		importFunc(wasi, "proc_exit", 0),
		importFunc(wasi, "fd_write", 1),
	)
	functions := vec(uleb(2))
	memory := vec([]byte{0x00, 0x01})
	exports := vec(
		export("_start", 0x00, 2),
		export("memory", 0x02, 0),
	)

	var body []byte
	body = append(body, 0x00) // no locals
	if stderr != "" {
		body = append(body, i32Const(2)...)
		body = append(body, i32Const(0)...)
		body = append(body, i32Const(1)...)
		body = append(body, i32Const(8)...)
		body = append(body, 0x10, 0x01, 0x1a) // call fd_write; drop
	}
	body = append(body, i32Const(exitCode)...)
	body = append(body, 0x10, 0x00, 0x0b) // call proc_exit; end
	code := vec(append(uleb(uint32(len(body))), body...))

	// iovec{buf: 16, len: len(stderr)} at 0, nwritten at 8, text at 16.
	mem := make([]byte, 16, 16+len(stderr))
	le32(mem[0:], 16)
	le32(mem[4:], uint32(len(stderr)))
	mem = append(mem, stderr...)
	segment := []byte{0x00}
	segment = append(segment, i32Const(0)...)
	segment = append(segment, 0x0b)
	segment = append(segment, uleb(uint32(len(mem)))...)
	segment = append(segment, mem...)
	data := vec(segment)

	out := []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}
	out = append(out, section(1, types)...)
	out = append(out, section(2, imports)...)
	out = append(out, section(3, functions)...)
	out = append(out, section(5, memory)...)
	out = append(out, section(7, exports)...)
	out = append(out, section(10, code)...)
	out = append(out, section(11, data)...)
	return out
}

// emptyModule is the smallest valid WebAssembly binary.
var emptyModule = []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}

const i32 = 0x7f

func section(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(content)))...)
	return append(out, content...)
}

func vec(items ...[]byte) []byte {
	out := uleb(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func funcType(params, results []byte) []byte {
	out := []byte{0x60}
	out = append(out, uleb(uint32(len(params)))...)
	out = append(out, params...)
	out = append(out, uleb(uint32(len(results)))...)
	return append(out, results...)
}

func wasmName(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func importFunc(module, field string, typeIdx uint32) []byte {
	out := wasmName(module)
	out = append(out, wasmName(field)...)
	out = append(out, 0x00)
	return append(out, uleb(typeIdx)...)
}

func export(field string, kind byte, idx uint32) []byte {
	out := wasmName(field)
	out = append(out, kind)
	return append(out, uleb(idx)...)
}

func i32Const(v int32) []byte {
	return append([]byte{0x41}, sleb(v)...)
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func le32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
