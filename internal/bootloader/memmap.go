// Package bootloader builds the kernel's initial address space from a
// loaded ELF kernel and a firmware-supplied memory map: it is the
// architecture-neutral core of the boot-to-kernel handoff. The amd64 and
// arm64 subpackages supply the entry-point jump and the CPU-feature
// enablement steps that can't be expressed portably.
package bootloader

import (
	"fmt"

	"github.com/rackscale/corekernel/internal/paging"
	"github.com/rackscale/corekernel/internal/uart"
)

// MemoryTag enumerates every region kind the builder reasons about:
// the firmware's own UEFI memory-type enumeration, plus the internal
// tags the builder assigns to regions it allocates itself.
type MemoryTag int

const (
	TagReserved MemoryTag = iota
	TagUnusable
	TagLoaderCode
	TagBootServicesCode
	TagRuntimeServicesCode
	TagPALCode
	TagLoaderData
	TagBootServicesData
	TagRuntimeServicesData
	TagConventional
	TagACPIReclaim
	TagACPINonVolatile
	TagPersistent
	TagMMIOPortSpace
	TagMMIO

	// Internal tags, assigned by the builder itself rather than read
	// from the firmware map.
	TagKernelElf
	TagKernelPT
	TagKernelStack
	TagUefiMemoryMap
	TagKernelArgs
	TagModule
)

func (t MemoryTag) String() string {
	names := [...]string{
		"Reserved", "Unusable", "LoaderCode", "BootServicesCode", "RuntimeServicesCode",
		"PALCode", "LoaderData", "BootServicesData", "RuntimeServicesData", "Conventional",
		"ACPIReclaim", "ACPINonVolatile", "Persistent", "MMIOPortSpace", "MMIO",
		"KernelElf", "KernelPT", "KernelStack", "UefiMemoryMap", "KernelArgs", "Module",
	}
	if int(t) < 0 || int(t) >= len(names) {
		return fmt.Sprintf("MemoryTag(%d)", int(t))
	}
	return names[t]
}

// ProjectRights maps a firmware/internal memory tag to the Rights the
// builder installs when it identity-maps that region. Unknown tags (a
// firmware descriptor type this build doesn't recognize) project to
// None with a warning left to the caller, never to a guess.
func ProjectRights(t MemoryTag) paging.Rights {
	switch t {
	case TagReserved, TagUnusable:
		return paging.RightsNone
	case TagLoaderCode, TagBootServicesCode, TagRuntimeServicesCode, TagPALCode:
		return paging.RightsReadExecuteKernel
	case TagLoaderData, TagBootServicesData, TagRuntimeServicesData, TagConventional,
		TagACPIReclaim, TagACPINonVolatile, TagPersistent, TagMMIOPortSpace:
		return paging.RightsReadWriteKernel
	case TagMMIO:
		return paging.RightsDeviceMemoryKernel
	case TagKernelElf, TagKernelArgs, TagModule:
		return paging.RightsReadKernel
	case TagKernelPT, TagKernelStack, TagUefiMemoryMap:
		return paging.RightsReadWriteKernel
	default:
		return paging.RightsNone
	}
}

// FirmwareDescriptor is one entry of the firmware-supplied memory map:
// NumPages 4 KiB pages starting at PhysStart, tagged Tag.
type FirmwareDescriptor struct {
	Tag       MemoryTag
	PhysStart paging.PA
	NumPages  uint64
}

// AddressSpace is the subset of *vspace.VSpace the memory-map replication
// step needs.
type AddressSpace interface {
	MapIdentity(pbase, end paging.PA, rights paging.Rights) error
}

// UnknownTagWarning is invoked once per descriptor whose tag projects to
// None because it isn't in the projection table (as opposed to a tag
// that is known to genuinely mean no access, like Reserved/Unusable).
type UnknownTagWarning func(desc FirmwareDescriptor)

// ReplicateMemoryMap identity-maps every descriptor in descriptors except
// KernelElf and KernelStack, which the caller maps separately with their
// own tighter rights, then unconditionally maps the platform UART MMIO
// window as device memory.
func ReplicateMemoryMap(as AddressSpace, descriptors []FirmwareDescriptor, uartBase paging.PA, uartSize uint64, onUnknown UnknownTagWarning) error {
	for _, d := range descriptors {
		if d.Tag == TagKernelElf || d.Tag == TagKernelStack {
			continue
		}
		if d.NumPages == 0 {
			continue
		}
		rights := ProjectRights(d.Tag)
		if rights == paging.RightsNone && d.Tag != TagReserved && d.Tag != TagUnusable && onUnknown != nil {
			onUnknown(d)
		}
		if rights == paging.RightsNone {
			continue
		}
		end := d.PhysStart.Add(d.NumPages * paging.PageSize4K)
		if err := as.MapIdentity(d.PhysStart, end, rights); err != nil {
			return fmt.Errorf("bootloader: map %s descriptor [%s, %s): %w", d.Tag, d.PhysStart, end, err)
		}
	}

	if uartSize > 0 {
		uartEnd := uartBase.Add(uartSize)
		if err := as.MapIdentity(uartBase, uartEnd, paging.RightsDeviceMemoryKernel); err != nil {
			return fmt.Errorf("bootloader: map UART MMIO [%s, %s): %w", uartBase, uartEnd, err)
		}
	}
	return nil
}

// ReplicateMemoryMapDefaultUART is ReplicateMemoryMap using the
// platform's fixed UART window (internal/uart.DefaultBase/DefaultSize),
// the window internal/rdbg's serial transport and the console driver
// both assume is already mapped once this step returns.
func ReplicateMemoryMapDefaultUART(as AddressSpace, descriptors []FirmwareDescriptor, onUnknown UnknownTagWarning) error {
	return ReplicateMemoryMap(as, descriptors, paging.PA(uart.DefaultBase), uart.DefaultSize, onUnknown)
}
