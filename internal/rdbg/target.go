package rdbg

import (
	"fmt"

	"github.com/rackscale/corekernel/internal/kcb"
)

// BreakRequest records whether GDB asked for a hardware or software
// breakpoint. Both consume a hardware slot; the target never patches
// instructions.
type BreakRequest int

const (
	RequestHardware BreakRequest = iota
	RequestSoftware
)

// WatchKind is the access type a watchpoint traps on.
type WatchKind int

const (
	WatchRead WatchKind = iota
	WatchWrite
	WatchReadWrite
)

func (k WatchKind) condition() BreakCondition {
	if k == WatchWrite {
		return CondDataWrites
	}
	// x86 has no read-only data breakpoint condition; Read and ReadWrite
	// both arm on any access.
	return CondDataReadsWrites
}

func sizeFor(length uint64) BreakSize {
	switch length {
	case 1:
		return Size1
	case 2:
		return Size2
	case 4:
		return Size4
	default:
		return Size8
	}
}

// breakKind distinguishes an instruction breakpoint from a data
// watchpoint within a slot.
type breakKind int

const (
	kindBreakpoint breakKind = iota
	kindWatchpoint
)

// breakState is what one hardware debug register slot is currently
// armed for.
type breakState struct {
	addr    uint64
	kind    breakKind
	watch   WatchKind
	request BreakRequest
}

// StopKind classifies why Target.DetermineStopReason says execution
// stopped.
type StopKind int

const (
	StopNone StopKind = iota
	StopSignal
	StopHwBreak
	StopSwBreak
	StopWatch
	StopDoneStep
)

// StopReason is the decoded result of a break or a connection event.
type StopReason struct {
	Kind   StopKind
	Signal uint8
	Addr   uint64
	Watch  WatchKind
}

// InterruptReason is why the target was asked to determine a stop
// reason: a line-level interrupt (ctrl-C on the serial connection) or a
// debug exception delivered to the core.
type InterruptReason int

const (
	ConnectionInterrupt InterruptReason = iota
	DebugInterrupt
)

// ErrNoFreeSlot is returned by AddBreakpoint/AddWatchpoint when all four
// hardware debug register slots are already armed.
var ErrNoFreeSlot = fmt.Errorf("rdbg: no free hardware debug register slot")

// ErrNotFound is returned by RemoveBreakpoint/RemoveWatchpoint when no
// slot matches the given address and request kind.
var ErrNotFound = fmt.Errorf("rdbg: no matching breakpoint/watchpoint")

// Target is the kernel-side debug session for one core: the hardware
// break-state table. It holds no save area; registers are read and
// written through the save-area functions in registers.go. It is not safe for concurrent use; the reference discipline
// is one debug session live per core at a time.
type Target struct {
	regs  DebugRegisters
	slots [NumSlots]*breakState
}

// NewTarget wires regs, the hardware debug-register backend (normally a
// PtraceDebugRegisters, or a fake in tests).
func NewTarget(regs DebugRegisters) *Target {
	return &Target{regs: regs}
}

// AddBreakpoint arms the first free slot as an instruction breakpoint at
// addr, regardless of whether GDB asked for a software or hardware
// breakpoint: the design deliberately avoids patching instructions, so a
// software breakpoint request still consumes a hardware slot.
func (t *Target) AddBreakpoint(req BreakRequest, addr uint64) error {
	for i := range t.slots {
		if t.slots[i] != nil {
			continue
		}
		if err := t.regs.Configure(i, addr, CondInstructions, Size1); err != nil {
			return err
		}
		t.slots[i] = &breakState{addr: addr, kind: kindBreakpoint, request: req}
		return nil
	}
	return ErrNoFreeSlot
}

// RemoveBreakpoint disarms the slot matching (addr, req).
func (t *Target) RemoveBreakpoint(req BreakRequest, addr uint64) error {
	for i, s := range t.slots {
		if s == nil || s.kind != kindBreakpoint || s.addr != addr || s.request != req {
			continue
		}
		if err := t.regs.DisableGlobal(i); err != nil {
			return err
		}
		t.slots[i] = nil
		return nil
	}
	return ErrNotFound
}

// AddWatchpoint arms the first free slot as a data watchpoint covering
// length bytes at addr.
func (t *Target) AddWatchpoint(addr uint64, length uint64, kind WatchKind) error {
	for i := range t.slots {
		if t.slots[i] != nil {
			continue
		}
		if err := t.regs.Configure(i, addr, kind.condition(), sizeFor(length)); err != nil {
			return err
		}
		t.slots[i] = &breakState{addr: addr, kind: kindWatchpoint, watch: kind, request: RequestHardware}
		return nil
	}
	return ErrNoFreeSlot
}

// RemoveWatchpoint disarms the hardware watchpoint slot matching (addr, kind).
func (t *Target) RemoveWatchpoint(addr uint64, kind WatchKind) error {
	for i, s := range t.slots {
		if s == nil || s.kind != kindWatchpoint || s.addr != addr || s.watch != kind {
			continue
		}
		if err := t.regs.DisableGlobal(i); err != nil {
			return err
		}
		t.slots[i] = nil
		return nil
	}
	return ErrNotFound
}

// DetermineStopReason figures out why the core stopped: for a
// connection interrupt that's always signal 5; for a debug interrupt it
// reads DR6, expects exactly one of {B0,B1,B2,B3,BS} set, maps the
// matching Bn slot through the break-state table to a breakpoint or
// watchpoint stop, clears the handled bits, and writes DR6 back.
func (t *Target) DetermineStopReason(reason InterruptReason) (StopReason, error) {
	if reason == ConnectionInterrupt {
		return StopReason{Kind: StopSignal, Signal: 5}, nil
	}

	dr6, err := t.regs.ReadDR6()
	if err != nil {
		return StopReason{}, err
	}

	var matched *breakState
	switch {
	case dr6&dr6B0 != 0:
		dr6 &^= dr6B0
		matched = t.slots[0]
	case dr6&dr6B1 != 0:
		dr6 &^= dr6B1
		matched = t.slots[1]
	case dr6&dr6B2 != 0:
		dr6 &^= dr6B2
		matched = t.slots[2]
	case dr6&dr6B3 != 0:
		dr6 &^= dr6B3
		matched = t.slots[3]
	}

	var stop StopReason
	switch {
	case matched != nil && matched.kind == kindBreakpoint && matched.request == RequestHardware:
		stop = StopReason{Kind: StopHwBreak, Addr: matched.addr}
	case matched != nil && matched.kind == kindBreakpoint && matched.request == RequestSoftware:
		stop = StopReason{Kind: StopSwBreak, Addr: matched.addr}
	case matched != nil && matched.kind == kindWatchpoint:
		stop = StopReason{Kind: StopWatch, Addr: matched.addr, Watch: matched.watch}
	case dr6&dr6BS != 0:
		dr6 &^= dr6BS
		stop = StopReason{Kind: StopDoneStep}
	default:
		stop = StopReason{Kind: StopNone}
	}

	// RTM is reserved; clear it along with everything else we understood
	// so a leftover bit never gets reinterpreted as a break condition on
	// the next read.
	dr6 &^= dr6RTM
	if err := t.regs.WriteDR6(dr6); err != nil {
		return stop, err
	}
	return stop, nil
}

// ExecMode is how the target should resume after DetermineStopReason and
// a round of register/memory access.
type ExecMode int

const (
	ExecContinue ExecMode = iota
	ExecSingleStep
)

// x86_64 RFLAGS.TF.
const rflagsTF = 1 << 8

// ApplyResume sets or clears RFLAGS.TF on sa to match mode, the same
// resume discipline the trap dispatcher's ApplyDebuggerRequest uses.
func ApplyResume(sa *kcb.SaveArea, mode ExecMode) {
	switch mode {
	case ExecSingleStep:
		sa.RFLAGS |= rflagsTF
	case ExecContinue:
		sa.RFLAGS &^= rflagsTF
	}
}
