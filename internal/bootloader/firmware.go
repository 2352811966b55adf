package bootloader

import (
	"fmt"

	"golang.org/x/mod/semver"
)

// MinFirmwareRevision is the lowest UEFI firmware revision, expressed as
// a semver-shaped string, this loader trusts to supply exit_boot_services,
// a GOP, and the ACPI config table entries the rest of the handoff reads.
const MinFirmwareRevision = "v2.8.0"

// ErrFirmwareTooOld is returned by CheckFirmwareRevision when the
// reported revision is older than MinFirmwareRevision.
var ErrFirmwareTooOld = fmt.Errorf("bootloader: firmware revision older than minimum %s", MinFirmwareRevision)

// CheckFirmwareRevision is step 1 of the boot handoff: treat the
// firmware's reported revision as a semver-shaped string ("vMAJOR.MINOR.PATCH")
// and refuse to continue if it is older than MinFirmwareRevision.
func CheckFirmwareRevision(revision string) error {
	if !semver.IsValid(revision) {
		return fmt.Errorf("bootloader: firmware revision %q is not a valid semver string", revision)
	}
	if semver.Compare(revision, MinFirmwareRevision) < 0 {
		return fmt.Errorf("%w: got %s", ErrFirmwareTooOld, revision)
	}
	return nil
}
