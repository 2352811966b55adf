// Package arena implements the "paging arena" design note: the only place
// an untyped block of memory is reinterpreted as a descriptor table. It
// owns table allocation and vends typed views keyed by a (level, PA)
// handle, so internal/vspace never touches raw bytes.
package arena

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/rackscale/corekernel/internal/paging"
)

// Handle identifies one table previously allocated by an Arena. It is the
// only form in which internal/vspace is allowed to name a table: never a
// bare pointer, never a raw PA without the level it was allocated at.
type Handle struct {
	Level paging.Level
	PA    paging.PA
}

// Arena owns a flat, page-aligned region of physical memory and doles it
// out one table (4 KiB, 512 descriptors) at a time: one mmap'd slice,
// frames addressed as offsets into it rather than separately malloc'd Go
// objects, so a Handle's PA is also valid to hand to real hardware.
type Arena struct {
	mem      []byte
	base     paging.PA
	size     uint64
	nextFree uint64
}

// New creates an Arena backed by size bytes of anonymous memory, obtained
// the way the teacher's hv package backs guest physical memory: an
// anonymous mmap rather than a Go-managed allocation, so addresses taken
// from it are stable and page-aligned for the lifetime of the Arena.
func New(size uint64) (*Arena, error) {
	if size == 0 || size%paging.PageSize4K != 0 {
		return nil, fmt.Errorf("arena: size %#x must be a nonzero multiple of 4 KiB", size)
	}
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("arena: mmap %#x bytes: %w", size, err)
	}
	return &Arena{mem: mem, size: size}, nil
}

// Close releases the backing mapping. Safe to call once; a zero Arena
// (returned on New's error path) is never passed here.
func (a *Arena) Close() error {
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}

// AllocTable carves out one zeroed 4 KiB table for level and returns a
// Handle to it. The frame is cleared before it is handed out, and the
// zero Table is all-invalid, satisfying the "zeroed means unmapped"
// invariant.
func (a *Arena) AllocTable(level paging.Level) (Handle, error) {
	if a.nextFree+paging.PageSize4K > a.size {
		return Handle{}, fmt.Errorf("arena: exhausted (%#x bytes, %#x in use)", a.size, a.nextFree)
	}
	off := a.nextFree
	a.nextFree += paging.PageSize4K
	for i := off; i < off+paging.PageSize4K; i++ {
		a.mem[i] = 0
	}
	return Handle{Level: level, PA: a.base.Add(off)}, nil
}

// AllocFrames carves out pages * 4 KiB of zeroed physical memory for
// non-table use (kernel stacks, ELF segment payloads, the arguments
// block) and returns both the PA a Handle at L3 would address and a byte
// slice that aliases the same bytes, so the caller can fill it in
// directly rather than going through the table-typed View.
func (a *Arena) AllocFrames(pages int) (paging.PA, []byte, error) {
	if pages <= 0 {
		return 0, nil, fmt.Errorf("arena: AllocFrames requires pages > 0, got %d", pages)
	}
	size := uint64(pages) * paging.PageSize4K
	if a.nextFree+size > a.size {
		return 0, nil, fmt.Errorf("arena: exhausted (%#x bytes, %#x in use, %#x requested)", a.size, a.nextFree, size)
	}
	off := a.nextFree
	a.nextFree += size
	for i := off; i < off+size; i++ {
		a.mem[i] = 0
	}
	return a.base.Add(off), a.mem[off : off+size], nil
}

// View returns the typed table backing h. The returned pointer aliases
// the arena's memory directly: writes through it are writes to the
// physical frame.
func (a *Arena) View(h Handle) (*paging.Table, error) {
	off := uint64(h.PA) - uint64(a.base)
	if h.PA < a.base || off+paging.PageSize4K > a.size {
		return nil, fmt.Errorf("arena: %s is not owned by this arena", h.PA)
	}
	return (*paging.Table)(unsafeTablePointer(&a.mem[off])), nil
}

// Base reports the physical address this arena's memory begins at, for
// callers that need to reason about the frame range it can vend (the
// VSpace builder's own tables, in particular, must not themselves fall
// inside a region later handed out as a leaf frame).
func (a *Arena) Base() paging.PA { return a.base }

// SetBase fixes the physical address the arena's first byte corresponds
// to. It must be called once, before any AllocTable, by whatever set up
// the backing mapping's identity (bootloader, or a test harness that
// picks an arbitrary synthetic base).
func (a *Arena) SetBase(base paging.PA) { a.base = base }
