// Package trap implements the C-entry exception dispatcher: the handler
// table, the special-cased page fault / general-protection / breakpoint
// vectors, and upcall routing between kernel-resident faults and
// user-space upcall handlers.
package trap

import (
	"fmt"
	"sync"

	"github.com/rackscale/corekernel/internal/kcb"
	"github.com/rackscale/corekernel/internal/klog"
)

// NumVectors is the fixed IDT/vector-table size.
const NumVectors = 256

// Special vectors the dispatcher always inspects before falling back to
// the generic handler table.
const (
	VectorBreakpoint        = 0x03
	VectorGeneralProtection = 0x0D
	VectorPageFault         = 0x0E
)

// ExceptionArguments is what the hardware-specific trampoline pushes
// onto the interrupt stack before jumping into the dispatcher.
type ExceptionArguments struct {
	Vector    uint64
	ErrorCode uint64
	RIP       uint64
	CS        uint64
	RFLAGS    uint64
	RSP       uint64
	SS        uint64
}

// Designated GPR slots the upcall resume path uses to pass (vector,
// error_code) to the process's entry point, matching a two-argument
// calling convention (RDI, RSI on x86_64).
const (
	argRegVector    = 0
	argRegErrorCode = 1
)

// UpcallState is the per-process upcall configuration the dispatcher
// consults. Disabled (the zero value) means every trap resumes directly
// via the core's current save area; kernel-origin faults are always
// treated as Disabled regardless of what the faulting process's own
// state says.
type UpcallState struct {
	Enabled       bool
	EntryPoint    uint64
	SavedSaveArea kcb.SaveArea // filled in when a trap disables upcalls
}

// ShutdownReason is handed to the platform shutdown hook when a vector
// has no registered handler and the built-in diagnostic fires.
type ShutdownReason int

const (
	ShutdownPageFault ShutdownReason = iota
	ShutdownGeneralProtectionFault
	ShutdownUnhandledInterrupt
)

func (r ShutdownReason) String() string {
	switch r {
	case ShutdownPageFault:
		return "PageFault"
	case ShutdownGeneralProtectionFault:
		return "GeneralProtectionFault"
	default:
		return "UnhandledInterrupt"
	}
}

// VectorHandler is a registered handler for one vector. The dispatcher
// does not act on its bool result: whichever value it returns, Dispatch
// resumes via the core's current save area, which the handler may have
// modified.
type VectorHandler func(args ExceptionArguments, current *kcb.KCB) bool

// Dispatcher owns the 256-entry handler table and the three
// specially-inspected vectors. Registration takes a lock; the fast
// dispatch path indexes the array directly, taking no lock.
type Dispatcher struct {
	mu       sync.Mutex
	handlers [NumVectors]VectorHandler

	// Shutdown is called when a trap reaches the built-in diagnostic
	// path: a specially-inspected vector with no registered handler, or
	// any other vector falling through the default "unhandled" table
	// entry.
	Shutdown func(reason ShutdownReason, args ExceptionArguments)
}

// NewDispatcher creates a Dispatcher whose handler table defaults every
// vector to "unhandled: shut down".
func NewDispatcher(shutdown func(reason ShutdownReason, args ExceptionArguments)) *Dispatcher {
	if shutdown == nil {
		shutdown = func(ShutdownReason, ExceptionArguments) {}
	}
	return &Dispatcher{Shutdown: shutdown}
}

// Register installs handler for vector, replacing any previous
// registration. Safe to call concurrently with other Register calls;
// never safe to call from inside Dispatch itself.
func (d *Dispatcher) Register(vector int, handler VectorHandler) error {
	if vector < 0 || vector >= NumVectors {
		return fmt.Errorf("trap: vector %d out of range [0, %d)", vector, NumVectors)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[vector] = handler
	return nil
}

// ResumeAction is what Dispatch decides should happen next: load
// save_area's GPRs and return to it, optionally with single-stepping
// enabled.
type ResumeAction struct {
	SaveArea   *kcb.SaveArea
	SingleStep bool
}

// Dispatch is the C-entry dispatcher. current is the faulting core's
// KCB; upcall is the faulting process's upcall configuration, or nil
// for a kernel-origin fault (always treated as upcalls-disabled).
func (d *Dispatcher) Dispatch(args ExceptionArguments, current *kcb.KCB, upcall *UpcallState) ResumeAction {
	sa := current.SaveArea
	sa.RSP = args.RSP
	sa.RIP = args.RIP
	sa.RFLAGS = args.RFLAGS

	if upcall == nil || !upcall.Enabled {
		return d.handleSpecialOrTable(args, current, sa)
	}

	// Upcalls enabled: snapshot the interrupted state, disable further
	// upcalls until the process re-arms them, and resume straight into
	// its entry point with (vector, error_code) as arguments.
	upcall.SavedSaveArea = *sa
	upcall.Enabled = false

	resumeArea := &kcb.SaveArea{}
	*resumeArea = *sa
	resumeArea.RIP = upcall.EntryPoint
	resumeArea.GPRs[argRegVector] = args.Vector
	resumeArea.GPRs[argRegErrorCode] = args.ErrorCode
	return ResumeAction{SaveArea: resumeArea}
}

func (d *Dispatcher) handleSpecialOrTable(args ExceptionArguments, current *kcb.KCB, sa *kcb.SaveArea) ResumeAction {
	switch args.Vector {
	case VectorPageFault:
		return d.runSpecial(VectorPageFault, ShutdownPageFault, args, current, sa)
	case VectorGeneralProtection:
		return d.runSpecial(VectorGeneralProtection, ShutdownGeneralProtectionFault, args, current, sa)
	case VectorBreakpoint:
		return d.runSpecial(VectorBreakpoint, ShutdownUnhandledInterrupt, args, current, sa)
	}

	handler := d.handlers[args.Vector]

	if handler == nil {
		klog.Logf(klog.LevelFatal, "trap", "vector %#x unhandled, rip=%#x: shutting down", args.Vector, args.RIP)
		d.Shutdown(ShutdownUnhandledInterrupt, args)
		return ResumeAction{SaveArea: sa}
	}
	handler(args, current)
	return ResumeAction{SaveArea: sa}
}

func (d *Dispatcher) runSpecial(vector uint64, reason ShutdownReason, args ExceptionArguments, current *kcb.KCB, sa *kcb.SaveArea) ResumeAction {
	handler := d.handlers[vector]

	if handler == nil {
		klog.Logf(klog.LevelFatal, "trap", "%s at rip=%#x, error_code=%#x: no handler registered, shutting down", reason, args.RIP, args.ErrorCode)
		d.Shutdown(reason, args)
		return ResumeAction{SaveArea: sa}
	}
	handler(args, current)
	return ResumeAction{SaveArea: sa}
}

// x86_64 RFLAGS.TF, the trap flag the debugger sets to request
// single-stepping on resume.
const rflagsTF = 1 << 8

// ApplyDebuggerRequest sets or clears RFLAGS.TF on the chosen resume
// area according to whether the debugger requested single-step (true)
// or continue (false).
func ApplyDebuggerRequest(action ResumeAction, singleStep bool) ResumeAction {
	if action.SaveArea == nil {
		return action
	}
	if singleStep {
		action.SaveArea.RFLAGS |= rflagsTF
	} else {
		action.SaveArea.RFLAGS &^= rflagsTF
	}
	action.SingleStep = singleStep
	return action
}
