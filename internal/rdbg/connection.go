package rdbg

import "github.com/rackscale/corekernel/internal/uart"

// ConnState is the explicit tagged union the design notes call for in
// place of language-level coroutine suspension: a debugger connection
// is always in exactly one of these two states, stepped by Connection's
// event-handling methods.
type ConnState int

const (
	// AwaitingByte is the steady state: the connection is idle,
	// waiting for the next serial byte (a GDB packet, or a ctrl-C).
	AwaitingByte ConnState = iota
	// DeferredStop means the core has stopped (breakpoint, watchpoint,
	// single-step completion, or a ctrl-C) and a stop-reply packet is
	// owed to the remote before the connection can return to
	// AwaitingByte.
	DeferredStop
)

func (s ConnState) String() string {
	if s == DeferredStop {
		return "DeferredStop"
	}
	return "AwaitingByte"
}

// Serial is the minimal byte-stream the connection drives; *uart.Driver
// satisfies it directly.
type Serial interface {
	ReadByte() byte
	WriteByte(b byte)
}

var _ Serial = (*uart.Driver)(nil)

// ctrlC is the ASCII ETX byte GDB's remote-serial protocol uses to
// request an asynchronous stop.
const ctrlC = 0x03

// Connection steps the {AwaitingByte, DeferredStop} state machine for
// one debug session. It owns no transport-level framing (packet
// checksums, acknowledgement bytes); that lives in the GDB remote-serial
// codec this type is meant to be driven from. Connection only tracks
// which of the two states the session is in and what stop reason, if
// any, is waiting to be reported.
type Connection struct {
	state    ConnState
	pending  StopReason
	hasEvent bool
}

// NewConnection returns a Connection in AwaitingByte.
func NewConnection() *Connection { return &Connection{state: AwaitingByte} }

// State reports the connection's current state.
func (c *Connection) State() ConnState { return c.state }

// OnByte processes one byte read from the serial line while the
// connection is AwaitingByte. If b is ctrl-C, the connection
// transitions to DeferredStop with a signal-5 stop reason queued and
// OnByte reports true (the caller should stop dispatching further
// bytes as packet data). Any other byte is handled by the caller's own
// GDB packet parser; OnByte returns false and leaves the state
// unchanged.
func (c *Connection) OnByte(b byte) bool {
	if c.state != AwaitingByte {
		return false
	}
	if b != ctrlC {
		return false
	}
	c.state = DeferredStop
	c.pending = StopReason{Kind: StopSignal, Signal: 5}
	c.hasEvent = true
	return true
}

// OnTrap transitions the connection to DeferredStop carrying reason,
// the outcome of a debug interrupt the dispatcher routed to
// Target.DetermineStopReason. Safe to call from AwaitingByte only; a
// trap arriving while a stop reply is still owed is a programming
// error the caller (the trap dispatcher, which never re-enters a core
// already stopped in the debugger) is responsible for preventing.
func (c *Connection) OnTrap(reason StopReason) {
	c.state = DeferredStop
	c.pending = reason
	c.hasEvent = true
}

// TakeStopReason returns the pending stop reason and returns the
// connection to AwaitingByte, ready for the next packet. ok is false if
// the connection was not in DeferredStop.
func (c *Connection) TakeStopReason() (reason StopReason, ok bool) {
	if c.state != DeferredStop || !c.hasEvent {
		return StopReason{}, false
	}
	reason = c.pending
	c.hasEvent = false
	c.state = AwaitingByte
	return reason, true
}
