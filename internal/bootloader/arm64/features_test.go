package arm64

import "testing"

type fakeSystemRegs struct {
	mair, sctlr uint64
}

func (f *fakeSystemRegs) MAIREL1() uint64       { return f.mair }
func (f *fakeSystemRegs) SetMAIREL1(v uint64)   { f.mair = v }
func (f *fakeSystemRegs) SCTLREL1() uint64      { return f.sctlr }
func (f *fakeSystemRegs) SetSCTLREL1(v uint64)  { f.sctlr = v }

func TestEnableStage1MMUProgramsAttributesAndEnablesBits(t *testing.T) {
	regs := &fakeSystemRegs{}
	if err := EnableStage1MMU(regs); err != nil {
		t.Fatalf("EnableStage1MMU: %v", err)
	}
	if regs.mair != defaultMAIR() {
		t.Errorf("MAIR_EL1 = %#x, want %#x", regs.mair, defaultMAIR())
	}
	if regs.sctlr&sctlrBitM == 0 {
		t.Error("SCTLR_EL1.M not set")
	}
	if regs.sctlr&sctlrBitC == 0 {
		t.Error("SCTLR_EL1.C not set")
	}
	if regs.sctlr&sctlrBitI == 0 {
		t.Error("SCTLR_EL1.I not set")
	}
}

func TestEnableStage1MMURejectsDoubleEnable(t *testing.T) {
	regs := &fakeSystemRegs{sctlr: sctlrBitM}
	if err := EnableStage1MMU(regs); err != ErrMMUAlreadyEnabled {
		t.Fatalf("EnableStage1MMU = %v, want ErrMMUAlreadyEnabled", err)
	}
}
