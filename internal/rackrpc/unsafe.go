package rackrpc

import "unsafe"

// unsafePointer reinterprets a byte within an mmap'd region as the start
// of a uint64 cursor. mmap returns page-aligned memory and the two
// cursors sit at offsets 0 and 8, so 8-byte alignment always holds.
func unsafePointer(p *byte) unsafe.Pointer {
	return unsafe.Pointer(p)
}
