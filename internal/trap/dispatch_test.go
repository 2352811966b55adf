package trap

import (
	"testing"

	"github.com/rackscale/corekernel/internal/kcb"
)

func newTestKCB() *kcb.KCB {
	return &kcb.KCB{SaveArea: &kcb.SaveArea{}}
}

func TestDispatchDisabledUpcallsResumesCurrentSaveArea(t *testing.T) {
	d := NewDispatcher(nil)
	k := newTestKCB()

	args := ExceptionArguments{Vector: 0x20, RIP: 0x1000, RFLAGS: 0x202, RSP: 0x7000}
	action := d.Dispatch(args, k, nil)

	if action.SaveArea != k.SaveArea {
		t.Fatalf("resumed via a different save area than the core's current one")
	}
	if action.SaveArea.RIP != 0x1000 || action.SaveArea.RSP != 0x7000 {
		t.Fatalf("save area not updated from exception arguments: %+v", action.SaveArea)
	}
}

func TestDispatchUnhandledVectorShutsDown(t *testing.T) {
	var gotReason ShutdownReason
	var called bool
	d := NewDispatcher(func(reason ShutdownReason, args ExceptionArguments) {
		called = true
		gotReason = reason
	})
	k := newTestKCB()

	d.Dispatch(ExceptionArguments{Vector: 0x30}, k, nil)

	if !called {
		t.Fatalf("Shutdown hook not invoked for unhandled vector")
	}
	if gotReason != ShutdownUnhandledInterrupt {
		t.Fatalf("reason = %v, want ShutdownUnhandledInterrupt", gotReason)
	}
}

func TestDispatchRegisteredHandlerSuppressesShutdown(t *testing.T) {
	var shutdownCalled bool
	d := NewDispatcher(func(ShutdownReason, ExceptionArguments) { shutdownCalled = true })
	k := newTestKCB()

	var handlerCalled bool
	if err := d.Register(0x30, func(args ExceptionArguments, current *kcb.KCB) bool {
		handlerCalled = true
		return true
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	d.Dispatch(ExceptionArguments{Vector: 0x30}, k, nil)

	if !handlerCalled {
		t.Fatalf("registered handler was not invoked")
	}
	if shutdownCalled {
		t.Fatalf("Shutdown hook invoked despite a registered handler")
	}
}

func TestDispatchPageFaultWithoutHandlerShutsDownWithReason(t *testing.T) {
	var gotReason ShutdownReason
	d := NewDispatcher(func(reason ShutdownReason, args ExceptionArguments) { gotReason = reason })
	k := newTestKCB()

	d.Dispatch(ExceptionArguments{Vector: VectorPageFault, ErrorCode: 0x4}, k, nil)

	if gotReason != ShutdownPageFault {
		t.Fatalf("reason = %v, want ShutdownPageFault", gotReason)
	}
}

func TestDispatchGeneralProtectionWithHandlerDoesNotShutDown(t *testing.T) {
	var shutdownCalled bool
	d := NewDispatcher(func(ShutdownReason, ExceptionArguments) { shutdownCalled = true })
	k := newTestKCB()

	if err := d.Register(VectorGeneralProtection, func(ExceptionArguments, *kcb.KCB) bool { return true }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	d.Dispatch(ExceptionArguments{Vector: VectorGeneralProtection}, k, nil)

	if shutdownCalled {
		t.Fatalf("Shutdown hook invoked despite a registered GP handler")
	}
}

func TestRegisterRejectsOutOfRangeVector(t *testing.T) {
	d := NewDispatcher(nil)
	if err := d.Register(-1, nil); err == nil {
		t.Fatalf("Register(-1, ...) succeeded, want an error")
	}
	if err := d.Register(NumVectors, nil); err == nil {
		t.Fatalf("Register(NumVectors, ...) succeeded, want an error")
	}
}

func TestDispatchUpcallEnabledRoutesToEntryPointAndDisablesItself(t *testing.T) {
	d := NewDispatcher(nil)
	k := newTestKCB()
	k.SaveArea.RIP = 0x1234
	k.SaveArea.RFLAGS = 0x202

	upcall := &UpcallState{Enabled: true, EntryPoint: 0xdead0000}

	args := ExceptionArguments{Vector: 0x0e, ErrorCode: 0x4, RIP: 0x5555, RSP: 0x7000, RFLAGS: 0x202}
	action := d.Dispatch(args, k, upcall)

	if upcall.Enabled {
		t.Fatalf("upcall.Enabled still true after a trap delivered an upcall")
	}
	if upcall.SavedSaveArea.RIP != 0x5555 {
		t.Fatalf("SavedSaveArea.RIP = %#x, want the interrupted RIP 0x5555", upcall.SavedSaveArea.RIP)
	}
	if action.SaveArea == k.SaveArea {
		t.Fatalf("resume area must be a fresh save area pointed at the entry point, not the core's current one")
	}
	if action.SaveArea.RIP != upcall.EntryPoint {
		t.Fatalf("resume RIP = %#x, want entry point %#x", action.SaveArea.RIP, upcall.EntryPoint)
	}
	if action.SaveArea.GPRs[argRegVector] != args.Vector {
		t.Fatalf("resume GPR[vector] = %#x, want %#x", action.SaveArea.GPRs[argRegVector], args.Vector)
	}
	if action.SaveArea.GPRs[argRegErrorCode] != args.ErrorCode {
		t.Fatalf("resume GPR[error_code] = %#x, want %#x", action.SaveArea.GPRs[argRegErrorCode], args.ErrorCode)
	}
}

func TestDispatchKernelOriginFaultIgnoresUpcallState(t *testing.T) {
	// A nil upcall must behave as disabled regardless of any process's
	// own configuration, since kernel-origin faults have no process.
	d := NewDispatcher(nil)
	k := newTestKCB()

	action := d.Dispatch(ExceptionArguments{Vector: 0x20, RIP: 0x9000}, k, nil)
	if action.SaveArea != k.SaveArea {
		t.Fatalf("kernel-origin fault did not resume via the core's current save area")
	}
}

func TestApplyDebuggerRequestSetsAndClearsTF(t *testing.T) {
	action := ResumeAction{SaveArea: &kcb.SaveArea{RFLAGS: 0x202}}

	stepped := ApplyDebuggerRequest(action, true)
	if stepped.SaveArea.RFLAGS&rflagsTF == 0 {
		t.Fatalf("RFLAGS.TF not set after requesting single-step")
	}
	if !stepped.SingleStep {
		t.Fatalf("SingleStep not recorded as true")
	}

	cont := ApplyDebuggerRequest(stepped, false)
	if cont.SaveArea.RFLAGS&rflagsTF != 0 {
		t.Fatalf("RFLAGS.TF still set after requesting continue")
	}
	if cont.SingleStep {
		t.Fatalf("SingleStep not recorded as false")
	}
}

func TestApplyDebuggerRequestNilSaveAreaIsNoop(t *testing.T) {
	action := ApplyDebuggerRequest(ResumeAction{}, true)
	if action.SaveArea != nil {
		t.Fatalf("expected nil save area to remain nil")
	}
}
