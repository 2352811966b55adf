package amd64

import "testing"

type fakeRegs struct {
	cr0, cr4, efer uint64
	unsupported    map[Feature]bool
}

func (f *fakeRegs) HasCPUIDFeature(feat Feature) bool { return !f.unsupported[feat] }
func (f *fakeRegs) CR0() uint64                       { return f.cr0 }
func (f *fakeRegs) SetCR0(v uint64)                   { f.cr0 = v }
func (f *fakeRegs) CR4() uint64                       { return f.cr4 }
func (f *fakeRegs) SetCR4(v uint64)                   { f.cr4 = v }
func (f *fakeRegs) EFER() uint64                      { return f.efer }
func (f *fakeRegs) SetEFER(v uint64)                  { f.efer = v }

func TestEnableRequiredFeaturesSetsAllBits(t *testing.T) {
	regs := &fakeRegs{}
	if err := EnableRequiredFeatures(regs); err != nil {
		t.Fatalf("EnableRequiredFeatures: %v", err)
	}
	if regs.cr4&cr4BitSMEP == 0 {
		t.Error("SMEP not enabled in CR4")
	}
	if regs.cr4&cr4BitSMAP == 0 {
		t.Error("SMAP not enabled in CR4")
	}
	if regs.cr4&cr4BitOSXSAVE == 0 {
		t.Error("OSXSAVE not enabled in CR4")
	}
	if regs.cr4&cr4BitFSGSBASE == 0 {
		t.Error("FSGSBASE not enabled in CR4")
	}
	if regs.cr4&cr4BitPSE == 0 {
		t.Error("PSE not enabled in CR4")
	}
	if regs.cr4&cr4BitPAE == 0 {
		t.Error("PAE not enabled in CR4")
	}
	if regs.efer&efer1BitNXE == 0 {
		t.Error("NXE not enabled in EFER")
	}
}

func TestEnableRequiredFeaturesRejectsUnsupportedFeature(t *testing.T) {
	regs := &fakeRegs{unsupported: map[Feature]bool{FeatureSMAP: true}}
	err := EnableRequiredFeatures(regs)
	if err == nil {
		t.Fatal("EnableRequiredFeatures succeeded despite unsupported SMAP")
	}
	if regs.cr4&cr4BitSMAP != 0 {
		t.Error("SMAP bit set despite being reported unsupported")
	}
}

func TestEnableRequiredFeaturesPreservesExistingBits(t *testing.T) {
	regs := &fakeRegs{cr4: 1 << 0} // some unrelated bit already set
	if err := EnableRequiredFeatures(regs); err != nil {
		t.Fatalf("EnableRequiredFeatures: %v", err)
	}
	if regs.cr4&(1<<0) == 0 {
		t.Error("pre-existing CR4 bit was clobbered")
	}
}
