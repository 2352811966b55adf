package bootloader

import (
	"fmt"

	"github.com/rackscale/corekernel/internal/paging"
	"github.com/rackscale/corekernel/internal/paging/arena"
	"github.com/rackscale/corekernel/internal/vspace"
)

// DefaultInitStackPages is the default init stack size, matching the
// reference bootloader's 768-page (3 MiB) allocation.
const DefaultInitStackPages = 768

// Mapper is the subset of *vspace.VSpace the stack allocator needs.
type Mapper interface {
	MapGeneric(vbase paging.VA, pbase paging.PA, size uint64, rights paging.Rights) error
}

var _ Mapper = (*vspace.VSpace)(nil)

// AllocateInitStack carves pages 4 KiB frames plus one guard page out of
// phys, maps the guard page with RightsNone below the stack, and maps
// the stack itself RW-kernel just above it. It returns the stack's top
// (one past the highest mapped byte; the stack grows down from there).
func AllocateInitStack(vs Mapper, phys *arena.Arena, vbase paging.VA, pages int) (top paging.VA, err error) {
	if pages <= 0 {
		pages = DefaultInitStackPages
	}
	if !vbase.AlignedTo(paging.PageSize4K) {
		return 0, fmt.Errorf("bootloader: stack vbase %s not 4 KiB aligned", vbase)
	}

	guardPA, _, err := phys.AllocFrames(1)
	if err != nil {
		return 0, fmt.Errorf("bootloader: allocate guard page: %w", err)
	}
	stackPA, _, err := phys.AllocFrames(pages)
	if err != nil {
		return 0, fmt.Errorf("bootloader: allocate %d stack pages: %w", pages, err)
	}

	guardVA := vbase
	stackVA := vbase.Add(paging.PageSize4K)

	if err := vs.MapGeneric(guardVA, guardPA, paging.PageSize4K, paging.RightsNone); err != nil {
		return 0, fmt.Errorf("bootloader: map guard page: %w", err)
	}
	stackSize := uint64(pages) * paging.PageSize4K
	if err := vs.MapGeneric(stackVA, stackPA, stackSize, paging.RightsReadWriteKernel); err != nil {
		return 0, fmt.Errorf("bootloader: map init stack: %w", err)
	}

	return stackVA.Add(stackSize), nil
}
