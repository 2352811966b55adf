// Package gic implements minimal GICv3 distributor programming:
// identification, capability reporting, and the mass-disable init
// sequence the kernel runs once per boot before any interrupt line is
// individually configured.
package gic

import (
	"fmt"
	"sync/atomic"
)

// Distributor register offsets, relative to the distributor's MMIO base
// (PERIPHBASE + the distributor's own offset in the memory map).
const (
	regCTLR  = 0x0000
	regTYPER = 0x0004
	regIIDR  = 0x0008

	regIGROUPR   = 0x0080
	regICENABLER = 0x0180
)

// banksToMassDisable is the number of 32-bit IGROUPR/ICENABLER banks the
// init sequence touches, covering the first 1024 interrupt lines (32
// banks x 32 bits each) with group-0 assignment and a clear-enable mask
// of all ones.
const banksToMassDisable = 32

// MMIO is the volatile 32-bit register access the Distributor needs.
// Implementations must not reorder or cache reads/writes relative to
// each other.
type MMIO interface {
	Read32(offset uintptr) uint32
	Write32(offset uintptr, val uint32)
}

// Identification decodes GICD_IIDR: implementer, revision, variant and
// product id of the distributor implementation.
type Identification struct {
	Implementer uint16
	Revision    uint8
	Variant     uint8
	ProductID   uint8
}

func (id Identification) String() string {
	return fmt.Sprintf("Implementer: %#x, Revision: %#x, Variant: %#x, Product ID: %#x",
		id.Implementer, id.Revision, id.Variant, id.ProductID)
}

// Capabilities decodes GICD_TYPER.
type Capabilities struct {
	SecurityExtensions bool
	ExtendedESPI       bool
	CPUs               uint8
	Lines              uint16
}

func (c Capabilities) String() string {
	return fmt.Sprintf("Lines: %d CPUs: %d Extended SPI: %t Security Extension: %t",
		c.Lines, c.CPUs, c.ExtendedESPI, c.SecurityExtensions)
}

// state mirrors the small attach/detach lifecycle the rest of the
// device layer uses; Distributor only ever needs Uninitialized and
// Initialized.
type state int32

const (
	stateUninitialized state = iota
	stateInitialized
)

// Distributor drives one GICv3 distributor instance.
type Distributor struct {
	mmio  MMIO
	state atomic.Int32
}

// New wraps mmio, the distributor's mapped register window.
func New(mmio MMIO) *Distributor {
	return &Distributor{mmio: mmio}
}

// Identify reads GICD_IIDR and decodes it.
func (d *Distributor) Identify() Identification {
	iidr := d.mmio.Read32(regIIDR)
	return Identification{
		Implementer: uint16(iidr & 0xfff),
		Revision:    uint8((iidr >> 12) & 0xf),
		Variant:     uint8((iidr >> 16) & 0xf),
		ProductID:   uint8((iidr >> 24) & 0xff),
	}
}

// Capabilities reads GICD_TYPER and decodes it.
func (d *Distributor) Capabilities() Capabilities {
	typer := d.mmio.Read32(regTYPER)
	return Capabilities{
		SecurityExtensions: typer&(1<<10) != 0,
		ExtendedESPI:       typer&(1<<8) != 0,
		CPUs:               uint8((typer >> 5) & 0x7),
		Lines:              uint16(32 * ((typer & 0x1f) + 1)),
	}
}

// Init puts the first 1024 interrupt lines into group 0 and mass-clears
// their enable bits. It must run exactly once, before any line is
// individually configured; running it twice is harmless (idempotent)
// but each line's prior configuration is lost.
func (d *Distributor) Init() {
	for bank := 0; bank < banksToMassDisable; bank++ {
		off := uintptr(bank * 4)
		d.mmio.Write32(regIGROUPR+off, 0)
		d.mmio.Write32(regICENABLER+off, 0xffff_ffff)
	}
	d.state.Store(int32(stateInitialized))
}

// Initialized reports whether Init has run.
func (d *Distributor) Initialized() bool {
	return state(d.state.Load()) == stateInitialized
}
