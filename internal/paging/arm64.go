package paging

import "fmt"

// AArch64 stage-1 descriptor fields (VMSAv8-64, 4 KiB granule). Bit
// positions below match the architecture manual's table/block/page
// descriptor layouts; AP[2:1] is the access-permission pair, UXN/PXN gate
// unprivileged/privileged execute, AttrIndx selects an MAIR_EL1 entry.
const (
	arm64Valid = 1 << 0
	arm64Table = 1 << 1 // 1 = table pointer (at L1/L2) or page (at L3); 0 = block
	arm64AF    = 1 << 10
	arm64SH0   = 1 << 8 // SH[1:0] = inner shareable (0b11)
	arm64SH1   = 1 << 9
	arm64AP1   = 1 << 6 // AP[1]: 1 = EL0 (user) accessible
	arm64AP2   = 1 << 7 // AP[2]: 1 = read-only
	arm64PXN   = 1 << 53
	arm64UXN   = 1 << 54
	arm64Contiguous = 1 << 52

	arm64AttrIndxShift = 2
	arm64AttrIndxMask  = 0x7 << arm64AttrIndxShift

	// MAIR_EL1 index assignments the bootloader programs at init:
	// 0 = normal write-back memory, 1 = device-nGnRnE.
	arm64AttrNormal = 0
	arm64AttrDevice = 1
)

const arm64FrameMask = 0x0000_ffff_ffff_f000

type arm64Codec struct{}

// ARM64Codec is the AArch64 Codec: fields {AP[2:1], UXN, PXN, AttrIndx,
// SH[1:0], AF, contiguous}.
var ARM64Codec Codec = arm64Codec{}

func (arm64Codec) EncodeTable(pa PA) Descriptor {
	return Descriptor(uint64(pa)&arm64FrameMask | arm64Valid | arm64Table)
}

func (arm64Codec) DecodeTable(d Descriptor) (PA, bool) {
	v := uint64(d)
	if v&arm64Valid == 0 || v&arm64Table == 0 {
		return 0, false
	}
	return PA(v & arm64FrameMask), true
}

// arm64Attrs is the per-Rights attribute set. valid mirrors the
// descriptor's own Valid bit: RightsNone is the one Rights encoded with
// valid false, so it faults on any access (read, write or execute)
// instead of merely being read-only-and-non-executable, and so it can
// never be confused with a readable Rights by DecodeLeaf.
type arm64Attrs struct {
	valid     bool
	readOnly  bool
	user      bool
	kernelXN  bool
	userXN    bool
	attrIndex int
}

var arm64RightsFlags = map[Rights]arm64Attrs{
	RightsNone:                   {false, true, false, true, true, arm64AttrNormal},
	RightsReadUser:               {true, true, true, true, true, arm64AttrNormal},
	RightsReadKernel:             {true, true, false, true, true, arm64AttrNormal},
	RightsReadWriteUser:          {true, false, true, true, true, arm64AttrNormal},
	RightsReadWriteKernel:        {true, false, false, true, true, arm64AttrNormal},
	RightsReadExecuteKernel:      {true, true, false, false, true, arm64AttrNormal},
	RightsReadExecuteUser:        {true, true, true, true, false, arm64AttrNormal},
	RightsReadWriteExecuteUser:   {true, false, true, true, false, arm64AttrNormal},
	RightsReadWriteExecuteKernel: {true, false, false, false, true, arm64AttrNormal},
	RightsDeviceMemoryKernel:     {true, false, false, true, true, arm64AttrDevice},
}

func (arm64Codec) EncodeLeaf(level Level, frame PA, rights Rights) (Descriptor, error) {
	size := level.PageSizeForLevel()
	if size == 0 {
		return 0, ErrLevelHasNoLeaf
	}
	if !frame.AlignedTo(size) {
		return 0, ErrMisalignedFrame
	}
	attrs, ok := arm64RightsFlags[rights]
	if !ok {
		return 0, fmt.Errorf("paging: arm64 has no encoding for %s", rights)
	}

	v := uint64(frame)&arm64FrameMask | arm64AF | arm64SH0 | arm64SH1
	if attrs.valid {
		v |= arm64Valid
	}
	v |= uint64(attrs.attrIndex) << arm64AttrIndxShift
	if attrs.readOnly {
		v |= arm64AP2
	}
	if attrs.user {
		v |= arm64AP1
	}
	if attrs.kernelXN {
		v |= arm64PXN
	}
	if attrs.userXN {
		v |= arm64UXN
	}
	if level == L3 {
		v |= arm64Table // page descriptors at L3 also carry the "table" bit set
	}
	return Descriptor(v), nil
}

func (arm64Codec) DecodeLeaf(level Level, d Descriptor) (PA, Rights, error) {
	if level.PageSizeForLevel() == 0 {
		return 0, 0, ErrLevelHasNoLeaf
	}
	v := uint64(d)
	frame := PA(v & arm64FrameMask)
	got := arm64Attrs{
		valid:     v&arm64Valid != 0,
		readOnly:  v&arm64AP2 != 0,
		user:      v&arm64AP1 != 0,
		kernelXN:  v&arm64PXN != 0,
		userXN:    v&arm64UXN != 0,
		attrIndex: int((v & arm64AttrIndxMask) >> arm64AttrIndxShift),
	}
	for r, want := range arm64RightsFlags {
		if want == got {
			return frame, r, nil
		}
	}
	return frame, 0, fmt.Errorf("paging: no rights match descriptor fields %#x", v)
}

func (arm64Codec) Classify(level Level, d Descriptor) Tag {
	v := uint64(d)
	if v&arm64Valid == 0 {
		return TagInvalid
	}
	if level == L3 {
		return TagPage
	}
	if v&arm64Table != 0 {
		return TagTable
	}
	return TagBlock
}
