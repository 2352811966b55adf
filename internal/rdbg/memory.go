package rdbg

import (
	"fmt"
	"unsafe"

	"github.com/rackscale/corekernel/internal/paging"
)

// ErrOutOfRange is a non-fatal memory-access error: the debugger asked
// to read/write an address outside the currently installed address
// space's mapped range, or without the needed permission. GDB falls back
// to stepping or reports the access failed; it is never treated as a
// reason to tear down the session.
var ErrOutOfRange = fmt.Errorf("rdbg: address not accessible")

// AddressSpace is the subset of *vspace.VSpace the memory accessor
// needs: translate a virtual address to its physical frame and the
// rights it was mapped with.
type AddressSpace interface {
	ResolveAddrRights(va paging.VA) (pa paging.PA, rights paging.Rights, ok bool)
}

// PhysicalMemory exposes the byte at a physical address for the host
// simulation backing the debug target; a real kernel would instead
// dereference the direct map.
type PhysicalMemory interface {
	ByteAt(pa paging.PA) (*byte, error)
}

// ReadMemory copies length bytes starting at startAddr into a new slice,
// checking per-page read permission at the start of every page boundary
// it crosses (matching the reference target's per-page re-check rather
// than a single check up front).
func ReadMemory(as AddressSpace, mem PhysicalMemory, startAddr uint64, length int) ([]byte, error) {
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		va := paging.VA(startAddr + uint64(i))
		if i == 0 || uint64(va)%paging.PageSize4K == 0 {
			pa, rights, ok := as.ResolveAddrRights(va)
			if !ok {
				return nil, fmt.Errorf("%w: %s not mapped", ErrOutOfRange, va)
			}
			if !rights.IsReadable() {
				return nil, fmt.Errorf("%w: %s not readable", ErrOutOfRange, va)
			}
			_ = pa
		}
		pa, _, _ := as.ResolveAddrRights(va)
		b, err := mem.ByteAt(pa)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrOutOfRange, err)
		}
		out[i] = *b
	}
	return out, nil
}

// WriteMemory writes data starting at startAddr, refusing any page that
// is executable (to stop the debugger from tampering with handler code
// via a software-breakpoint instruction patch) or not writable.
func WriteMemory(as AddressSpace, mem PhysicalMemory, startAddr uint64, data []byte) error {
	for i, b := range data {
		va := paging.VA(startAddr + uint64(i))
		if i == 0 || uint64(va)%paging.PageSize4K == 0 {
			_, rights, ok := as.ResolveAddrRights(va)
			if !ok {
				return fmt.Errorf("%w: %s not mapped", ErrOutOfRange, va)
			}
			if rights.IsExecutable() {
				return fmt.Errorf("%w: %s is executable, use a hardware breakpoint instead", ErrOutOfRange, va)
			}
			if !rights.IsWritable() {
				return fmt.Errorf("%w: %s not writable", ErrOutOfRange, va)
			}
		}
		pa, _, _ := as.ResolveAddrRights(va)
		dst, err := mem.ByteAt(pa)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrOutOfRange, err)
		}
		*dst = b
	}
	return nil
}

// flatPhysicalMemory is a PhysicalMemory backed by one contiguous byte
// slice, the same flat-array simulation internal/paging/arena uses for
// table storage. base is the PA the slice's first byte represents.
type flatPhysicalMemory struct {
	mem  []byte
	base paging.PA
}

// NewFlatPhysicalMemory wraps mem (e.g. an arena.Arena's backing mmap)
// as a PhysicalMemory addressed starting at base.
func NewFlatPhysicalMemory(mem []byte, base paging.PA) PhysicalMemory {
	return &flatPhysicalMemory{mem: mem, base: base}
}

func (f *flatPhysicalMemory) ByteAt(pa paging.PA) (*byte, error) {
	if pa < f.base {
		return nil, fmt.Errorf("rdbg: pa %s precedes backing base %s", pa, f.base)
	}
	off := uint64(pa) - uint64(f.base)
	if off >= uint64(len(f.mem)) {
		return nil, fmt.Errorf("rdbg: pa %s out of backing range", pa)
	}
	return (*byte)(unsafe.Pointer(&f.mem[off])), nil
}
