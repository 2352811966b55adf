package rdbg

import (
	"testing"

	"github.com/rackscale/corekernel/internal/kcb"
)

// fakeDebugRegisters is an in-memory DebugRegisters, standing in for the
// ptrace-backed implementation so the break-state table logic is
// host-testable without a traced child process.
type fakeDebugRegisters struct {
	addrs [NumSlots]uint64
	conds [NumSlots]BreakCondition
	sizes [NumSlots]BreakSize
	dr7   uint32
	dr6   uint32
}

func newFakeDebugRegisters() *fakeDebugRegisters { return &fakeDebugRegisters{} }

func (f *fakeDebugRegisters) Configure(slot int, addr uint64, cond BreakCondition, size BreakSize) error {
	f.addrs[slot] = addr
	f.conds[slot] = cond
	f.sizes[slot] = size
	f.dr7 |= 1 << uint(2*slot)
	return nil
}

func (f *fakeDebugRegisters) DisableGlobal(slot int) error {
	f.dr7 &^= 1 << uint(2*slot)
	return nil
}

func (f *fakeDebugRegisters) ReadDR6() (uint32, error) { return f.dr6, nil }
func (f *fakeDebugRegisters) WriteDR6(v uint32) error  { f.dr6 = v; return nil }

func TestAddBreakpointUsesFirstFreeSlot(t *testing.T) {
	regs := newFakeDebugRegisters()
	tg := NewTarget(regs)

	if err := tg.AddBreakpoint(RequestHardware, 0x1000); err != nil {
		t.Fatalf("AddBreakpoint: %v", err)
	}
	if regs.addrs[0] != 0x1000 {
		t.Fatalf("slot 0 addr = %#x, want 0x1000", regs.addrs[0])
	}
	if regs.dr7&1 == 0 {
		t.Fatalf("DR7 local-enable bit for slot 0 not set")
	}
}

func TestAddBreakpointExhaustsSlotsThenFails(t *testing.T) {
	regs := newFakeDebugRegisters()
	tg := NewTarget(regs)

	for i := 0; i < NumSlots; i++ {
		if err := tg.AddBreakpoint(RequestSoftware, uint64(0x1000+i)); err != nil {
			t.Fatalf("AddBreakpoint #%d: %v", i, err)
		}
	}
	if err := tg.AddBreakpoint(RequestSoftware, 0x9999); err != ErrNoFreeSlot {
		t.Fatalf("error = %v, want ErrNoFreeSlot", err)
	}
}

func TestRemoveBreakpointFreesSlotForReuse(t *testing.T) {
	regs := newFakeDebugRegisters()
	tg := NewTarget(regs)

	if err := tg.AddBreakpoint(RequestHardware, 0x2000); err != nil {
		t.Fatalf("AddBreakpoint: %v", err)
	}
	if err := tg.RemoveBreakpoint(RequestHardware, 0x2000); err != nil {
		t.Fatalf("RemoveBreakpoint: %v", err)
	}
	if regs.dr7&1 != 0 {
		t.Fatalf("DR7 local-enable bit for slot 0 still set after remove")
	}
	if err := tg.AddBreakpoint(RequestHardware, 0x3000); err != nil {
		t.Fatalf("AddBreakpoint after remove: %v", err)
	}
	if regs.addrs[0] != 0x3000 {
		t.Fatalf("freed slot 0 not reused, got addr %#x", regs.addrs[0])
	}
}

func TestRemoveBreakpointNotFound(t *testing.T) {
	tg := NewTarget(newFakeDebugRegisters())
	if err := tg.RemoveBreakpoint(RequestHardware, 0x1234); err != ErrNotFound {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestDetermineStopReasonConnectionInterruptIsSignal5(t *testing.T) {
	tg := NewTarget(newFakeDebugRegisters())
	stop, err := tg.DetermineStopReason(ConnectionInterrupt)
	if err != nil {
		t.Fatalf("DetermineStopReason: %v", err)
	}
	if stop.Kind != StopSignal || stop.Signal != 5 {
		t.Fatalf("stop = %+v, want Signal 5", stop)
	}
}

func TestDetermineStopReasonHardwareBreakpointHit(t *testing.T) {
	regs := newFakeDebugRegisters()
	tg := NewTarget(regs)
	if err := tg.AddBreakpoint(RequestHardware, 0x4000); err != nil {
		t.Fatalf("AddBreakpoint: %v", err)
	}
	regs.dr6 = dr6B0

	stop, err := tg.DetermineStopReason(DebugInterrupt)
	if err != nil {
		t.Fatalf("DetermineStopReason: %v", err)
	}
	if stop.Kind != StopHwBreak || stop.Addr != 0x4000 {
		t.Fatalf("stop = %+v, want HwBreak at 0x4000", stop)
	}
	if regs.dr6 != 0 {
		t.Fatalf("DR6 = %#x, want cleared after handling", regs.dr6)
	}
}

func TestDetermineStopReasonSoftwareBreakpointHit(t *testing.T) {
	regs := newFakeDebugRegisters()
	tg := NewTarget(regs)
	if err := tg.AddBreakpoint(RequestSoftware, 0x5000); err != nil {
		t.Fatalf("AddBreakpoint: %v", err)
	}
	regs.dr6 = dr6B0

	stop, _ := tg.DetermineStopReason(DebugInterrupt)
	if stop.Kind != StopSwBreak {
		t.Fatalf("stop.Kind = %v, want StopSwBreak", stop.Kind)
	}
}

func TestDetermineStopReasonWatchpointHit(t *testing.T) {
	regs := newFakeDebugRegisters()
	tg := NewTarget(regs)
	if err := tg.AddWatchpoint(0x6000, 8, WatchWrite); err != nil {
		t.Fatalf("AddWatchpoint: %v", err)
	}
	regs.dr6 = dr6B0

	stop, _ := tg.DetermineStopReason(DebugInterrupt)
	if stop.Kind != StopWatch || stop.Watch != WatchWrite || stop.Addr != 0x6000 {
		t.Fatalf("stop = %+v, want Watch/Write at 0x6000", stop)
	}
}

func TestDetermineStopReasonSingleStepCompletion(t *testing.T) {
	regs := newFakeDebugRegisters()
	tg := NewTarget(regs)
	regs.dr6 = dr6BS

	stop, _ := tg.DetermineStopReason(DebugInterrupt)
	if stop.Kind != StopDoneStep {
		t.Fatalf("stop.Kind = %v, want StopDoneStep", stop.Kind)
	}
}

func TestDetermineStopReasonNoBitsSetIsNone(t *testing.T) {
	tg := NewTarget(newFakeDebugRegisters())
	stop, _ := tg.DetermineStopReason(DebugInterrupt)
	if stop.Kind != StopNone {
		t.Fatalf("stop.Kind = %v, want StopNone", stop.Kind)
	}
}

func TestApplyResumeSetsAndClearsTF(t *testing.T) {
	sa := &kcb.SaveArea{}
	ApplyResume(sa, ExecSingleStep)
	if sa.RFLAGS&rflagsTF == 0 {
		t.Fatalf("RFLAGS.TF not set after ExecSingleStep")
	}
	ApplyResume(sa, ExecContinue)
	if sa.RFLAGS&rflagsTF != 0 {
		t.Fatalf("RFLAGS.TF still set after ExecContinue")
	}
}
