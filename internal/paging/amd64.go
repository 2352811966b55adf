package paging

import "fmt"

// AMD64 PTE flag bits, matching the IA-32e paging structures. The same
// bit positions are reused at every level; PS (bit 7) distinguishes a
// block descriptor from a table pointer at L1/L2. At L3 bit 7 is PAT
// instead, since L3 descriptors are always leaves.
const (
	amd64P   = 1 << 0 // present
	amd64W   = 1 << 1 // writable
	amd64U   = 1 << 2 // user-accessible
	amd64PWT = 1 << 3 // page write-through
	amd64PCD = 1 << 4 // page cache disable
	amd64A   = 1 << 5 // accessed
	amd64D   = 1 << 6 // dirty (leaf only)
	amd64PS  = 1 << 7 // page size (block descriptor) at L1/L2
	amd64PAT = 1 << 7 // PAT index bit 2 at L3 leaves
	amd64G   = 1 << 8 // global
	amd64NX  = 1 << 63
)

// amd64FrameMask covers bits 51:12, the physical-address field shared by
// every PTE shape on this architecture.
const amd64FrameMask = 0x000f_ffff_ffff_f000

type amd64Codec struct{}

// AMD64Codec is the x86_64 Codec: PTE flags {P, W, U, PWT, PCD, A, D, PAT, G, NX}.
var AMD64Codec Codec = amd64Codec{}

func (amd64Codec) EncodeTable(pa PA) Descriptor {
	return Descriptor(uint64(pa)&amd64FrameMask | amd64P | amd64W | amd64U)
}

func (amd64Codec) DecodeTable(d Descriptor) (PA, bool) {
	v := uint64(d)
	if v&amd64P == 0 || v&amd64PS != 0 {
		return 0, false
	}
	return PA(v & amd64FrameMask), true
}

// amd64Attrs is the per-Rights (present, writable, user, no-execute,
// uncacheable) set. present mirrors the descriptor's own P bit:
// RightsNone is the one Rights encoded with present false, so it faults
// on any access (read, write or execute) rather than merely being
// read-only-and-NX, and so it can never be confused with a readable
// Rights by DecodeLeaf. uncacheable selects PCD (and PAT at L3) so
// DeviceMemoryKernel gets UC rather than the write-back default —
// write-combining would be wrong for MMIO.
type amd64Attrs struct{ present, w, u, nx, uc bool }

var amd64RightsFlags = map[Rights]amd64Attrs{
	RightsNone:                   {false, false, false, true, false},
	RightsReadUser:               {true, false, true, true, false},
	RightsReadKernel:             {true, false, false, true, false},
	RightsReadWriteUser:          {true, true, true, true, false},
	RightsReadWriteKernel:        {true, true, false, true, false},
	RightsReadExecuteKernel:      {true, false, false, false, false},
	RightsReadExecuteUser:        {true, false, true, false, false},
	RightsReadWriteExecuteUser:   {true, true, true, false, false},
	RightsReadWriteExecuteKernel: {true, true, false, false, false},
	RightsDeviceMemoryKernel:     {true, true, false, true, true},
}

func (amd64Codec) EncodeLeaf(level Level, frame PA, rights Rights) (Descriptor, error) {
	size := level.PageSizeForLevel()
	if size == 0 {
		return 0, ErrLevelHasNoLeaf
	}
	if !frame.AlignedTo(size) {
		return 0, ErrMisalignedFrame
	}
	attrs, ok := amd64RightsFlags[rights]
	if !ok {
		return 0, fmt.Errorf("paging: amd64 has no encoding for %s", rights)
	}

	v := uint64(frame)&amd64FrameMask | amd64A
	if attrs.present {
		v |= amd64P
	}
	if attrs.w {
		v |= amd64W
	}
	if attrs.u {
		v |= amd64U
	}
	if attrs.nx {
		v |= amd64NX
	}
	if attrs.uc {
		v |= amd64PCD
	}
	if level != L3 {
		v |= amd64PS
	} else if attrs.uc {
		v |= amd64PAT
	}
	return Descriptor(v), nil
}

func (amd64Codec) DecodeLeaf(level Level, d Descriptor) (PA, Rights, error) {
	if level.PageSizeForLevel() == 0 {
		return 0, 0, ErrLevelHasNoLeaf
	}
	v := uint64(d)
	frame := PA(v & amd64FrameMask)
	got := amd64Attrs{
		present: v&amd64P != 0,
		w:       v&amd64W != 0,
		u:       v&amd64U != 0,
		nx:      v&amd64NX != 0,
		uc:      v&amd64PCD != 0,
	}
	for r, want := range amd64RightsFlags {
		if want == got {
			return frame, r, nil
		}
	}
	return frame, 0, fmt.Errorf("paging: no rights match descriptor flags %#x", v)
}

func (amd64Codec) Classify(level Level, d Descriptor) Tag {
	v := uint64(d)
	if v&amd64P == 0 {
		return TagInvalid
	}
	if level == L3 {
		return TagPage
	}
	if v&amd64PS != 0 {
		return TagBlock
	}
	return TagTable
}
