// Package kcb implements the per-core control block: on each core,
// install runs once early (after the VSpace builder finished that
// core's address space) and makes the KCB reachable from a dedicated
// per-core register for the rest of that core's lifetime.
package kcb

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/rackscale/corekernel/internal/klog"
	"github.com/rackscale/corekernel/internal/paging"
)

// DefaultStackPages is the default owned kernel stack size: 128 x 4 KiB.
const DefaultStackPages = 128

// SaveArea is the fixed-layout architectural state record sufficient to
// resume a thread. Offsets 0 and 8 of the surrounding KCB are reserved
// for kernel_stack_top and this pointer because the trap trampoline
// assembly references them by offset; SaveArea itself has no ABI
// constraint beyond being a flat record the trampoline can memcpy into.
type SaveArea struct {
	GPRs     [16]uint64
	RIP      uint64
	RSP      uint64
	RFLAGS   uint64
	Segments [6]uint16

	// FXState holds the x87/SSE/MXCSR block captured by FXSAVE, 512
	// bytes on x86_64. Left as raw bytes: nothing in Go code interprets
	// its fields, only the trampoline and the FPU instructions do.
	FXState [512]byte

	// EnabledBreakpoints is a bitfield of which of the four hardware
	// debug register slots are currently armed for this save area's
	// owner.
	EnabledBreakpoints uint8
}

// PerCoreMemory is the shared, set-once allocator handle a KCB
// references but does not own; its lifetime is pinned to early init, so
// the KCB never needs to track when it goes away.
type PerCoreMemory struct {
	CoreID   int
	NodeID   int
	FreeList func() (paging.PA, error)
}

// KCB is the per-core control block: kernel_stack_top, a pointer to the
// owned save area, and a reference to the core's memory allocator
// handle. The KCB exclusively owns its stack and save area.
type KCB struct {
	KernelStackTop paging.VA
	SaveArea       *SaveArea
	PerCoreMem     *PerCoreMemory

	stack []byte // the owned kernel stack backing KernelStackTop
}

// ErrNotInstalled names the condition a nil TryPerCore result signals;
// no function in this package returns it.
var ErrNotInstalled = fmt.Errorf("kcb: per-core block not installed on this core")

// maxCores bounds the simulated per-core hardware register file. A
// real build addresses it through gs (amd64) or TPIDR_EL1 (aarch64);
// here it is modeled as an explicit array indexed by core id so the
// rest of the package is host-testable without real per-core registers.
const maxCores = 256

var perCoreRegisters [maxCores]atomic.Pointer[KCB]

// Install allocates this core's owned kernel stack and save area and
// stores the KCB's address in the simulated per-core register for
// coreID. It must run exactly once per core, after the VSpace builder
// finished that core's address space.
func Install(coreID int, perCoreMem *PerCoreMemory) (*KCB, error) {
	if coreID < 0 || coreID >= maxCores {
		return nil, fmt.Errorf("kcb: core id %d out of range [0, %d)", coreID, maxCores)
	}
	if perCoreRegisters[coreID].Load() != nil {
		return nil, fmt.Errorf("kcb: core %d already installed", coreID)
	}

	stack := make([]byte, DefaultStackPages*paging.PageSize4K)
	top := paging.VA(uintptr(unsafe.Pointer(&stack[len(stack)-1])) + 1)

	k := &KCB{
		KernelStackTop: top,
		SaveArea:       &SaveArea{},
		PerCoreMem:     perCoreMem,
		stack:          stack,
	}
	perCoreRegisters[coreID].Store(k)
	klog.Logf(klog.LevelInfo, "kcb", "core %d installed: stack_top=%s", coreID, top)
	return k, nil
}

// TryPerCore reads the per-core register for coreID. A nil result means
// "not yet installed" and callers must handle it explicitly.
func TryPerCore(coreID int) *KCB {
	if coreID < 0 || coreID >= maxCores {
		return nil
	}
	return perCoreRegisters[coreID].Load()
}

// PerCore is the infallible form, usable only after Install has
// completed for coreID. It panics if called too early, the same
// contract a null per-core register dereference would have in the
// reference implementation.
func PerCore(coreID int) *KCB {
	k := TryPerCore(coreID)
	if k == nil {
		panic(fmt.Sprintf("kcb: PerCore called before Install on core %d", coreID))
	}
	return k
}

// resetForTest clears a core's installed KCB. Only used by tests: real
// cores never uninstall.
func resetForTest(coreID int) {
	perCoreRegisters[coreID].Store(nil)
}
