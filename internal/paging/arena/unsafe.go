package arena

import "unsafe"

// unsafeTablePointer reinterprets a pointer to the first byte of a 4 KiB,
// 8-byte-aligned frame as a pointer to a paging.Table. mmap always returns
// page-aligned memory, so the alignment precondition holds for every
// offset AllocTable ever hands out.
func unsafeTablePointer(p *byte) unsafe.Pointer {
	return unsafe.Pointer(p)
}
