package gic

import "testing"

// stubMMIO is a plain map-backed register file, matching the teacher's
// stub-struct style for hardware interfaces in tests.
type stubMMIO struct {
	regs map[uintptr]uint32
}

func newStubMMIO() *stubMMIO { return &stubMMIO{regs: make(map[uintptr]uint32)} }

func (m *stubMMIO) Read32(offset uintptr) uint32  { return m.regs[offset] }
func (m *stubMMIO) Write32(offset uintptr, v uint32) { m.regs[offset] = v }

func TestIdentify(t *testing.T) {
	mmio := newStubMMIO()
	// implementer=0x43b, revision=2, variant=1, product=0x00
	mmio.regs[regIIDR] = 0x43b | (2 << 12) | (1 << 16)
	d := New(mmio)

	id := d.Identify()
	if id.Implementer != 0x43b {
		t.Errorf("Implementer = %#x, want 0x43b", id.Implementer)
	}
	if id.Revision != 2 {
		t.Errorf("Revision = %d, want 2", id.Revision)
	}
	if id.Variant != 1 {
		t.Errorf("Variant = %d, want 1", id.Variant)
	}
}

func TestCapabilities(t *testing.T) {
	mmio := newStubMMIO()
	// lines field = 3 -> 32*(3+1) = 128; cpus = 1; security_extn set.
	mmio.regs[regTYPER] = 3 | (1 << 5) | (1 << 10)
	d := New(mmio)

	caps := d.Capabilities()
	if caps.Lines != 128 {
		t.Errorf("Lines = %d, want 128", caps.Lines)
	}
	if caps.CPUs != 1 {
		t.Errorf("CPUs = %d, want 1", caps.CPUs)
	}
	if !caps.SecurityExtensions {
		t.Errorf("SecurityExtensions = false, want true")
	}
}

func TestInitMassDisablesFirst32Banks(t *testing.T) {
	mmio := newStubMMIO()
	// Pre-seed a bank with nonzero group assignment to confirm Init clears it.
	mmio.regs[regIGROUPR+4*5] = 0xffff_ffff

	d := New(mmio)
	if d.Initialized() {
		t.Fatalf("Distributor reports initialized before Init is called")
	}
	d.Init()
	if !d.Initialized() {
		t.Fatalf("Distributor does not report initialized after Init")
	}

	for bank := 0; bank < banksToMassDisable; bank++ {
		off := uintptr(bank * 4)
		if got := mmio.regs[regIGROUPR+off]; got != 0 {
			t.Errorf("bank %d: IGROUPR = %#x, want 0", bank, got)
		}
		if got := mmio.regs[regICENABLER+off]; got != 0xffff_ffff {
			t.Errorf("bank %d: ICENABLER = %#x, want all-ones", bank, got)
		}
	}

	// Bank 32 (past the mass-disable range) must be untouched.
	if _, touched := mmio.regs[regIGROUPR+uintptr(banksToMassDisable*4)]; touched {
		t.Errorf("Init touched a bank beyond the first %d", banksToMassDisable)
	}
}
