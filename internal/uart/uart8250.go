// Package uart implements the kernel side of a 16550-compatible UART:
// the register offsets and status bits the boot handoff's platform
// console and the remote debugger target (internal/rdbg) drive
// directly, once the MMIO window has been mapped DeviceMemoryKernel by
// internal/bootloader's memory-map replication step. The register
// layout mirrors a standard 16550 8-register bank; this package only
// implements the kernel-as-driver half (poll transmit/receive), not
// the guest-emulation half a hypervisor would need.
package uart

// DefaultBase and DefaultSize are the platform UART's fixed MMIO
// window, unconditionally mapped DeviceMemoryKernel by the boot
// handoff's memory-map replication step regardless of what the
// firmware's own map reports.
const (
	DefaultBase = 0x0900_0000
	DefaultSize = 0x1000
)

// Register indices passed to MMIO. The driver applies no stride; any
// spacing between registers in the mapped window is left to the MMIO
// implementation.
const (
	RegData                  = 0 // RBR (read) / THR (write)
	RegInterruptEnable       = 1 // IER, or DLM when LCR.DLAB is set
	RegInterruptIdentFIFOCtl = 2 // IIR (read) / FCR (write)
	RegLineControl           = 3 // LCR
	RegModemControl          = 4 // MCR
	RegLineStatus            = 5 // LSR
	RegModemStatus           = 6 // MSR
	RegScratch               = 7 // SCR
)

// Line Status Register bits this driver reads before transmitting or
// receiving a byte.
const (
	LSRDataReady = 1 << 0
	LSRTHRE      = 1 << 5 // transmit holding register empty
	LSRTEMT      = 1 << 6 // transmitter fully idle
)

// LineControlDLAB selects the divisor-latch registers at offsets 0/1
// instead of the data/IER registers; the driver never needs to touch
// the divisor (the platform fixes the baud rate), so it only clears
// this bit if it finds it set.
const LineControlDLAB = 1 << 7

// MMIO is the volatile byte-level access the driver needs at the
// mapped UART window. A real build backs this with a pointer derived
// from internal/vspace's resolved VA; tests back it with a plain byte
// array.
type MMIO interface {
	ReadReg(reg int) byte
	WriteReg(reg int, value byte)
}

// Driver drives a single 16550-compatible UART for synchronous,
// polled byte I/O: the remote debugger target's "standard remote-serial
// text protocol" doesn't need interrupts, only TxReady-gated writes and
// RxReady-gated reads.
type Driver struct {
	mmio MMIO
}

// NewDriver wraps mmio, clearing DLAB if a prior stage left it set so
// offsets 0 and 1 address the data and IER registers as expected.
func NewDriver(mmio MMIO) *Driver {
	d := &Driver{mmio: mmio}
	if lcr := mmio.ReadReg(RegLineControl); lcr&LineControlDLAB != 0 {
		mmio.WriteReg(RegLineControl, lcr&^LineControlDLAB)
	}
	return d
}

// TxReady reports whether the transmit holding register is empty.
func (d *Driver) TxReady() bool {
	return d.mmio.ReadReg(RegLineStatus)&LSRTHRE != 0
}

// RxReady reports whether a received byte is waiting in RBR.
func (d *Driver) RxReady() bool {
	return d.mmio.ReadReg(RegLineStatus)&LSRDataReady != 0
}

// WriteByte blocks (by spinning TxReady) until the UART can accept b,
// then writes it. Callers driving this from an interrupt context
// should check TxReady themselves instead.
func (d *Driver) WriteByte(b byte) {
	for !d.TxReady() {
	}
	d.mmio.WriteReg(RegData, b)
}

// ReadByte blocks until a byte is available and returns it.
func (d *Driver) ReadByte() byte {
	for !d.RxReady() {
	}
	return d.mmio.ReadReg(RegData)
}

// WriteString writes every byte of s, translating '\n' to "\r\n" the
// way the reference console driver does so a plain LF-terminated log
// line renders correctly on a real terminal.
func (d *Driver) WriteString(s string) {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			d.WriteByte('\r')
		}
		d.WriteByte(s[i])
	}
}
