package rdbg

import (
	"fmt"

	"github.com/rackscale/corekernel/internal/kcb"
)

// ErrNoSaveArea is returned by the register accessors when sa is nil:
// the core has no interrupted context to read or write.
var ErrNoSaveArea = fmt.Errorf("rdbg: no save area for current core")

// ReadGPRs copies the 16 general-purpose registers, RIP and RFLAGS out
// of sa into a caller-owned snapshot, the shape the remote-serial 'g'
// packet needs.
func ReadGPRs(sa *kcb.SaveArea) (gprs [16]uint64, rip uint64, rflags uint64, err error) {
	if sa == nil {
		return gprs, 0, 0, ErrNoSaveArea
	}
	return sa.GPRs, sa.RIP, sa.RFLAGS, nil
}

// WriteGPRs is the inverse of ReadGPRs, for the 'G' packet.
func WriteGPRs(sa *kcb.SaveArea, gprs [16]uint64, rip uint64, rflags uint64) error {
	if sa == nil {
		return ErrNoSaveArea
	}
	sa.GPRs = gprs
	sa.RIP = rip
	sa.RFLAGS = rflags
	return nil
}

// ReadRegister reads a single GPR by index, for the 'p' packet.
func ReadRegister(sa *kcb.SaveArea, index int) (uint64, error) {
	if sa == nil {
		return 0, ErrNoSaveArea
	}
	if index < 0 || index >= len(sa.GPRs) {
		return 0, fmt.Errorf("rdbg: register index %d out of range", index)
	}
	return sa.GPRs[index], nil
}

// WriteRegister writes a single GPR by index, for the 'P' packet.
func WriteRegister(sa *kcb.SaveArea, index int, val uint64) error {
	if sa == nil {
		return ErrNoSaveArea
	}
	if index < 0 || index >= len(sa.GPRs) {
		return fmt.Errorf("rdbg: register index %d out of range", index)
	}
	sa.GPRs[index] = val
	return nil
}
