package bootloader

import (
	"fmt"

	"github.com/rackscale/corekernel/internal/paging"
)

// ConfigTableGUID identifies one entry of the UEFI configuration table
// (EFI_SYSTEM_TABLE.ConfigurationTable): 16 raw GUID bytes in the
// on-the-wire little-endian field order, not a parsed/ formatted string.
type ConfigTableGUID [16]byte

// acpi20GUID and acpi10GUID are EFI_ACPI_20_TABLE_GUID and
// EFI_ACPI_TABLE_GUID (the ACPI 1.0 RSD PTR entry), byte-for-byte as the
// UEFI specification lays them out.
var (
	acpi20GUID = ConfigTableGUID{0x71, 0xe8, 0x68, 0x88, 0xf1, 0xe4, 0xd3, 0x11, 0xbc, 0x22, 0x00, 0x80, 0xc7, 0x3c, 0x88, 0x81}
	acpi10GUID = ConfigTableGUID{0x30, 0x2d, 0x9d, 0xeb, 0x88, 0x2d, 0xd3, 0x11, 0x9a, 0x16, 0x00, 0x90, 0x27, 0x3f, 0xc1, 0x4d}
)

// ConfigTableEntry is one (VendorGuid, VendorTable) pair as the firmware
// reports it; VendorTable is already a physical address, not a pointer
// the kernel could dereference before its own page tables are live.
type ConfigTableEntry struct {
	VendorGUID  ConfigTableGUID
	VendorTable paging.PA
}

// ErrNoRSDP is returned by LocateRSDP when neither ACPI GUID appears in
// the firmware's configuration table.
var ErrNoRSDP = fmt.Errorf("bootloader: no ACPI RSDP entry in firmware configuration table")

// LocateRSDP is step 8's ACPI half: scan the firmware's configuration
// table for the ACPI 2.0 and/or ACPI 1.0 RSD PTR entries and return their
// physical addresses, ready to drop straight into KernelArgs.ACPI1RSDP /
// ACPI2RSDP. This loader never parses or validates the RSDP itself
// (checksum, revision byte, XSDT pointer) — that is the kernel's job once
// it can map the region; the bootloader only forwards what firmware
// already found.
func LocateRSDP(table []ConfigTableEntry) (acpi1, acpi2 paging.PA, err error) {
	for _, e := range table {
		switch e.VendorGUID {
		case acpi10GUID:
			acpi1 = e.VendorTable
		case acpi20GUID:
			acpi2 = e.VendorTable
		}
	}
	if acpi1 == 0 && acpi2 == 0 {
		return 0, 0, ErrNoRSDP
	}
	return acpi1, acpi2, nil
}
