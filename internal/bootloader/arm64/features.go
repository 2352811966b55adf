// Package arm64 supplies the aarch64 half of boot-handoff step 7:
// programming MAIR_EL1 with the memory-attribute indices internal/paging's
// ARM64 codec encodes into leaf descriptors, then enabling the stage-1
// MMU in SCTLR_EL1. Like the amd64 package, direct system-register
// access is modeled behind a small interface so the sequence is
// host-testable.
package arm64

import "fmt"

// SystemRegs is the subset of aarch64 system-register access the
// stage-1 MMU enablement step needs.
type SystemRegs interface {
	MAIREL1() uint64
	SetMAIREL1(uint64)
	SCTLREL1() uint64
	SetSCTLREL1(uint64)
}

// Memory attribute indices, matching the AttrIndx field values
// internal/paging's ARM64 codec encodes into leaf descriptors: index 0
// is normal write-back cacheable memory, index 1 is device-nGnRnE
// (strongly ordered, no gathering/reordering/early write ack) for MMIO.
const (
	attrIndexNormal = 0
	attrIndexDevice = 1

	mairNormalWB    = 0xFF // inner+outer write-back, read/write-allocate
	mairDeviceNGnRE = 0x00 // Device-nGnRnE
)

// sctlrBitM enables the stage-1 MMU; sctlrBitC and sctlrBitI enable
// data and instruction caching, which the reference bootloader turns
// on in the same step since an MMU-off-cache-on combination is
// architecturally disallowed.
const (
	sctlrBitM = 1 << 0
	sctlrBitC = 1 << 2
	sctlrBitI = 1 << 12
)

// defaultMAIR packs mairNormalWB at attrIndexNormal and mairDeviceNGnRE
// at attrIndexDevice, the only two attribute indices internal/paging's
// ARM64 rights table uses.
func defaultMAIR() uint64 {
	return uint64(mairNormalWB)<<(8*attrIndexNormal) | uint64(mairDeviceNGnRE)<<(8*attrIndexDevice)
}

// ErrMMUAlreadyEnabled guards against double-enabling the stage-1 MMU,
// which the reference bootloader treats as a programming error: the
// sequence runs exactly once, right before the root-table switch.
var ErrMMUAlreadyEnabled = fmt.Errorf("arm64: stage-1 MMU already enabled")

// EnableStage1MMU programs MAIR_EL1 with the attribute indices
// internal/paging expects, then sets SCTLR_EL1.M (plus .C and .I) to
// turn stage-1 translation on. The caller is responsible for having
// already loaded the root table physical address into TTBR1_EL1;
// this function touches only MAIR_EL1 and SCTLR_EL1.
func EnableStage1MMU(regs SystemRegs) error {
	if regs.SCTLREL1()&sctlrBitM != 0 {
		return ErrMMUAlreadyEnabled
	}
	regs.SetMAIREL1(defaultMAIR())
	regs.SetSCTLREL1(regs.SCTLREL1() | sctlrBitM | sctlrBitC | sctlrBitI)
	return nil
}
