package bootloader

import (
	"fmt"

	"github.com/rackscale/corekernel/internal/paging"
)

// MaxModules bounds the module list carried in KernelArgs; the arguments
// block is one fixed-size page, so the list can't grow unbounded.
const MaxModules = 8

// Module is one firmware-loaded file handed to the kernel (the kernel
// ELF itself is always modules[0]).
type Module struct {
	Name  string
	Base  paging.PA
	Size  uint64
	Flags uint32
}

// FramebufferInfo describes a graphics-output framebuffer, when the
// firmware's GOP probe succeeds.
type FramebufferInfo struct {
	Base          paging.PA
	Size          uint64
	Width, Height uint32
	Stride        uint32
	PixelFormat   uint32
}

// KernelArgs is the self-contained argument block the bootloader hands
// to the kernel's entry point. Every address in it is a pre-translated
// physical or kernel-virtual address: the kernel cannot call back into
// firmware services to resolve anything here.
type KernelArgs struct {
	CommandLine string

	MemoryMapBase paging.PA
	MemoryMapLen  uint64

	RootPageTable paging.PA

	StackBase paging.VA
	StackSize uint64

	KernelElfOffset uint64

	Modules   [MaxModules]Module
	NumModule int

	ACPI1RSDP paging.PA
	ACPI2RSDP paging.PA

	Framebuffer *FramebufferInfo
}

// AddModule appends m to Modules, returning an error if the fixed-size
// list is already full.
func (k *KernelArgs) AddModule(m Module) error {
	if k.NumModule >= MaxModules {
		return fmt.Errorf("bootloader: module list full (max %d)", MaxModules)
	}
	k.Modules[k.NumModule] = m
	k.NumModule++
	return nil
}
