// Package vspace builds a kernel virtual address space on top of the
// descriptor encodings in internal/paging. It owns the single invariant
// the rest of the boot path depends on: once map_generic returns nil, the
// mapping it installed resolves exactly, at every 4 KiB granule. The
// package has no unmap operation, so an installed mapping stays in place.
package vspace

import (
	"fmt"

	"gvisor.dev/gvisor/pkg/sync"

	"github.com/rackscale/corekernel/internal/paging"
	"github.com/rackscale/corekernel/internal/paging/arena"
)

// ErrAlreadyMapped is returned by MapGeneric when some part of the
// requested range is already covered by an existing block, page or table
// entry. Remapping is a programming error per the core's contract: there
// is no silent overwrite and no implicit unmap-then-map.
var ErrAlreadyMapped = fmt.Errorf("vspace: range already mapped")

// ErrMisaligned is returned when vbase, pbase or size is not a multiple
// of the 4 KiB base page size.
var ErrMisaligned = fmt.Errorf("vspace: vbase, pbase and size must be 4 KiB aligned")

// VSpace is the owned root of a multi-level page-table tree plus the
// builder API around it. A VSpace must be built to completion on one
// core with interrupts disabled before any other core is released from
// its reset vector; it performs no internal synchronization against
// concurrent hardware table walks, only against concurrent Go calls.
type VSpace struct {
	mu    sync.Mutex
	codec paging.Codec
	arena *arena.Arena
	root  arena.Handle
}

// New allocates and zeroes a fresh root table. codec selects the
// architecture's descriptor encoding; backing supplies the physical
// frames the tree's tables, and any leaf frames routed through the same
// arena, are carved from.
func New(codec paging.Codec, backing *arena.Arena) (*VSpace, error) {
	root, err := backing.AllocTable(paging.L0)
	if err != nil {
		return nil, fmt.Errorf("vspace: allocate root table: %w", err)
	}
	return &VSpace{codec: codec, arena: backing, root: root}, nil
}

// Roottable returns the physical address suitable for loading into the
// translation-base register (CR3 / TTBR1_EL1).
func (vs *VSpace) Roottable() paging.PA {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.root.PA
}

// leafLevels is the descending page-size search order MapGeneric uses to
// pick the largest aligned page at each step: 1 GiB, then 2 MiB, then
// 4 KiB.
var leafLevels = [...]paging.Level{paging.L1, paging.L2, paging.L3}

// MapGeneric installs a mapping covering [vbase, vbase+size) ->
// [pbase, pbase+size) with rights, materializing it with the largest
// aligned page size available at each step. vbase, pbase and size must
// all be multiples of 4 KiB. It returns ErrAlreadyMapped if any part of
// the range is already covered by an existing table, block or page.
func (vs *VSpace) MapGeneric(vbase paging.VA, pbase paging.PA, size uint64, rights paging.Rights) error {
	if !vbase.AlignedTo(paging.PageSize4K) || !pbase.AlignedTo(paging.PageSize4K) || size%paging.PageSize4K != 0 {
		return ErrMisaligned
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()

	v, p, remaining := vbase, pbase, size
	for remaining > 0 {
		level, pageSize := chooseLevel(v, p, remaining)
		if err := vs.mapOneLeaf(v, p, level, rights); err != nil {
			return err
		}
		v = v.Add(pageSize)
		p = p.Add(pageSize)
		remaining -= pageSize
	}
	return nil
}

// MapIdentity maps [pbase, end) to itself with rights.
func (vs *VSpace) MapIdentity(pbase paging.PA, end paging.PA, rights paging.Rights) error {
	if end < pbase {
		return fmt.Errorf("vspace: end %s precedes pbase %s", end, pbase)
	}
	return vs.MapGeneric(paging.VA(pbase), pbase, uint64(end)-uint64(pbase), rights)
}

// MapIdentityWithOffset maps [pbase, end) at offset+pbase. On
// architectures with a dedicated upper-half translation register the
// caller may instead program that register and skip this call entirely;
// when it is called, the mapping is materialized exactly like any other
// MapGeneric range.
func (vs *VSpace) MapIdentityWithOffset(offset uint64, pbase paging.PA, end paging.PA, rights paging.Rights) error {
	if end < pbase {
		return fmt.Errorf("vspace: end %s precedes pbase %s", end, pbase)
	}
	return vs.MapGeneric(paging.VA(uint64(pbase)+offset), pbase, uint64(end)-uint64(pbase), rights)
}

// ResolveAddr walks the tree and returns the physical address va
// resolves to: the leaf's frame plus va's offset within that leaf's
// page size. ok is false if va is unmapped.
func (vs *VSpace) ResolveAddr(va paging.VA) (pa paging.PA, ok bool) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	cur := vs.root
	for level := paging.L0; ; level++ {
		table, err := vs.arena.View(cur)
		if err != nil {
			return 0, false
		}
		entry := *paging.EntryAt(table, va, level)
		switch vs.codec.Classify(level, entry) {
		case paging.TagInvalid:
			return 0, false
		case paging.TagTable:
			childPA, ok := vs.codec.DecodeTable(entry)
			if !ok {
				return 0, false
			}
			cur = arena.Handle{Level: level + 1, PA: childPA}
		case paging.TagBlock, paging.TagPage:
			frame, _, err := vs.codec.DecodeLeaf(level, entry)
			if err != nil {
				return 0, false
			}
			pageSize := level.PageSizeForLevel()
			return frame.Add(uint64(va) % pageSize), true
		default:
			return 0, false
		}
	}
}

// ResolveAddrRights is ResolveAddr plus the leaf's Rights, for callers
// (the remote debugger target) that must enforce page permissions rather
// than just translate an address.
func (vs *VSpace) ResolveAddrRights(va paging.VA) (pa paging.PA, rights paging.Rights, ok bool) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	cur := vs.root
	for level := paging.L0; ; level++ {
		table, err := vs.arena.View(cur)
		if err != nil {
			return 0, paging.RightsNone, false
		}
		entry := *paging.EntryAt(table, va, level)
		switch vs.codec.Classify(level, entry) {
		case paging.TagInvalid:
			return 0, paging.RightsNone, false
		case paging.TagTable:
			childPA, ok := vs.codec.DecodeTable(entry)
			if !ok {
				return 0, paging.RightsNone, false
			}
			cur = arena.Handle{Level: level + 1, PA: childPA}
		case paging.TagBlock, paging.TagPage:
			frame, leafRights, err := vs.codec.DecodeLeaf(level, entry)
			if err != nil {
				return 0, paging.RightsNone, false
			}
			pageSize := level.PageSizeForLevel()
			return frame.Add(uint64(va) % pageSize), leafRights, true
		default:
			return 0, paging.RightsNone, false
		}
	}
}

// chooseLevel picks the largest leaf level whose granularity fits within
// remaining and is compatible with both v and p's alignment.
func chooseLevel(v paging.VA, p paging.PA, remaining uint64) (paging.Level, uint64) {
	for _, level := range leafLevels {
		size := level.PageSizeForLevel()
		if size <= remaining && v.AlignedTo(size) && p.AlignedTo(size) {
			return level, size
		}
	}
	// remaining is a nonzero multiple of 4 KiB and both v and p are 4 KiB
	// aligned (MapGeneric's precondition), so L3 always qualifies.
	return paging.L3, paging.PageSize4K
}

// mapOneLeaf walks from the root to targetLevel, allocating intermediate
// tables on demand, and installs a single leaf descriptor for frame pa at
// va. It returns ErrAlreadyMapped if the walk encounters an existing
// block/page before reaching targetLevel, or if the target slot is
// already valid.
func (vs *VSpace) mapOneLeaf(va paging.VA, pa paging.PA, targetLevel paging.Level, rights paging.Rights) error {
	cur := vs.root
	for level := paging.L0; level < targetLevel; level++ {
		table, err := vs.arena.View(cur)
		if err != nil {
			return fmt.Errorf("vspace: view table at %s: %w", cur.PA, err)
		}
		entry := paging.EntryAt(table, va, level)
		switch vs.codec.Classify(level, *entry) {
		case paging.TagInvalid:
			child, err := vs.arena.AllocTable(level + 1)
			if err != nil {
				return fmt.Errorf("vspace: allocate table at %s: %w", level+1, err)
			}
			*entry = vs.codec.EncodeTable(child.PA)
			cur = child
		case paging.TagTable:
			childPA, ok := vs.codec.DecodeTable(*entry)
			if !ok {
				return fmt.Errorf("vspace: corrupt table descriptor at %s", va)
			}
			cur = arena.Handle{Level: level + 1, PA: childPA}
		case paging.TagBlock, paging.TagPage:
			return fmt.Errorf("%w: %s already covered by a %s-level leaf", ErrAlreadyMapped, va, level)
		}
	}

	table, err := vs.arena.View(cur)
	if err != nil {
		return fmt.Errorf("vspace: view table at %s: %w", cur.PA, err)
	}
	entry := paging.EntryAt(table, va, targetLevel)
	if vs.codec.Classify(targetLevel, *entry) != paging.TagInvalid {
		return fmt.Errorf("%w: %s", ErrAlreadyMapped, va)
	}
	d, err := vs.codec.EncodeLeaf(targetLevel, pa, rights)
	if err != nil {
		return fmt.Errorf("vspace: encode leaf at %s: %w", va, err)
	}
	*entry = d
	return nil
}
