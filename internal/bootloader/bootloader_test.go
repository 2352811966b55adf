package bootloader

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/rackscale/corekernel/internal/paging"
	"github.com/rackscale/corekernel/internal/paging/arena"
	"github.com/rackscale/corekernel/internal/uart"
	"github.com/rackscale/corekernel/internal/vspace"
)

func newTestVSpace(t *testing.T) (*vspace.VSpace, *arena.Arena) {
	t.Helper()
	a, err := arena.New(256 * paging.PageSize4K)
	if err != nil {
		t.Fatalf("arena.New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	vs, err := vspace.New(paging.AMD64Codec, a)
	if err != nil {
		t.Fatalf("vspace.New: %v", err)
	}
	return vs, a
}

func TestMaterializeMapsSegmentAtKernelOffset(t *testing.T) {
	vs, a := newTestVSpace(t)

	payload := bytes.Repeat([]byte{0x42}, 32)
	raw := buildMinimalELF64(0x1000, 0x1000, payload)
	img, err := LoadELFKernel(bytes.NewReader(raw), elf.EM_X86_64)
	if err != nil {
		t.Fatalf("LoadELFKernel: %v", err)
	}

	const kernelOffset = 0xffff_8000_0000_0000
	if err := img.Materialize(vs, a, kernelOffset, func(Segment) paging.Rights {
		return paging.RightsReadExecuteKernel
	}); err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	pa, ok := vs.ResolveAddr(paging.VA(kernelOffset + 0x1000))
	if !ok {
		t.Fatalf("segment virtual address did not resolve")
	}
	_ = pa
}

func TestReplicateMemoryMapSkipsElfAndStackMapsUart(t *testing.T) {
	vs, _ := newTestVSpace(t)

	descs := []FirmwareDescriptor{
		{Tag: TagConventional, PhysStart: 0x100000, NumPages: 4},
		{Tag: TagKernelElf, PhysStart: 0x200000, NumPages: 4},
		{Tag: TagKernelStack, PhysStart: 0x300000, NumPages: 4},
		{Tag: TagReserved, PhysStart: 0x400000, NumPages: 1},
	}

	var unknowns []FirmwareDescriptor
	if err := ReplicateMemoryMap(vs, descs, 0x09000000, paging.PageSize4K, func(d FirmwareDescriptor) {
		unknowns = append(unknowns, d)
	}); err != nil {
		t.Fatalf("ReplicateMemoryMap: %v", err)
	}

	if _, ok := vs.ResolveAddr(paging.VA(0x100000)); !ok {
		t.Errorf("conventional memory region not mapped")
	}
	if _, ok := vs.ResolveAddr(paging.VA(0x200000)); ok {
		t.Errorf("KernelElf region must not be mapped by ReplicateMemoryMap")
	}
	if _, ok := vs.ResolveAddr(paging.VA(0x300000)); ok {
		t.Errorf("KernelStack region must not be mapped by ReplicateMemoryMap")
	}
	if _, ok := vs.ResolveAddr(paging.VA(0x400000)); ok {
		t.Errorf("Reserved region must not be mapped")
	}
	if _, ok := vs.ResolveAddr(paging.VA(0x09000000)); !ok {
		t.Errorf("UART MMIO window not mapped")
	}
	if len(unknowns) != 0 {
		t.Errorf("unexpected unknown-tag warnings: %v", unknowns)
	}
}

func TestReplicateMemoryMapDefaultUARTMapsPlatformWindow(t *testing.T) {
	vs, _ := newTestVSpace(t)

	if err := ReplicateMemoryMapDefaultUART(vs, nil, nil); err != nil {
		t.Fatalf("ReplicateMemoryMapDefaultUART: %v", err)
	}
	if _, ok := vs.ResolveAddr(paging.VA(uart.DefaultBase)); !ok {
		t.Errorf("default UART MMIO window not mapped")
	}
}

func TestAllocateInitStackMapsGuardNoneAndStackRW(t *testing.T) {
	vs, a := newTestVSpace(t)

	top, err := AllocateInitStack(vs, a, paging.VA(0x2000_0000_0000), 4)
	if err != nil {
		t.Fatalf("AllocateInitStack: %v", err)
	}
	if top != paging.VA(0x2000_0000_0000)+paging.PageSize4K+4*paging.PageSize4K {
		t.Errorf("top = %s, want base + guard + 4 pages", top)
	}

	if _, ok := vs.ResolveAddr(paging.VA(0x2000_0000_0000)); ok {
		t.Errorf("guard page resolved: RightsNone must be a non-present/invalid descriptor so it faults on any access")
	}
	if _, ok := vs.ResolveAddr(top - 1); !ok {
		t.Errorf("last byte of the stack region did not resolve")
	}
}

func TestCheckFirmwareRevision(t *testing.T) {
	if err := CheckFirmwareRevision("v2.8.0"); err != nil {
		t.Errorf("CheckFirmwareRevision(minimum) = %v, want nil", err)
	}
	if err := CheckFirmwareRevision("v2.9.1"); err != nil {
		t.Errorf("CheckFirmwareRevision(newer) = %v, want nil", err)
	}
	if err := CheckFirmwareRevision("v2.7.9"); err == nil {
		t.Errorf("CheckFirmwareRevision(older) succeeded, want ErrFirmwareTooOld")
	}
	if err := CheckFirmwareRevision("not-a-version"); err == nil {
		t.Errorf("CheckFirmwareRevision(garbage) succeeded, want an error")
	}
}

func TestKernelArgsAddModuleRespectsCapacity(t *testing.T) {
	var args KernelArgs
	for i := 0; i < MaxModules; i++ {
		if err := args.AddModule(Module{Name: "m"}); err != nil {
			t.Fatalf("AddModule #%d: %v", i, err)
		}
	}
	if err := args.AddModule(Module{Name: "overflow"}); err == nil {
		t.Fatalf("AddModule succeeded past MaxModules")
	}
}
