package bootloader

import (
	"debug/elf"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/rackscale/corekernel/internal/paging"
	"github.com/rackscale/corekernel/internal/paging/arena"
)

// Segment is one PT_LOAD program header's worth of kernel ELF payload,
// captured into memory at parse time so the caller never has to keep the
// original io.ReaderAt alive through materialization.
type Segment struct {
	VAddr    uint64
	FileSize uint64
	MemSize  uint64
	Data     []byte
}

// KernelImage is a parsed ELF kernel: its entry point, the virtual
// address span its segments cover, and the segments themselves.
type KernelImage struct {
	Machine  elf.Machine
	Entry    uint64
	MinVAddr uint64
	MaxVAddr uint64
	Segments []Segment

	// BuildID is the GNU build-id note's payload, hex-encoded, when the
	// kernel carries a PT_NOTE segment with one. Absent on kernels built
	// without --build-id; its presence is an optional, non-fatal
	// diagnostic logged at boot, never a load precondition.
	BuildID string
}

// LoadELFKernel parses kernel's PT_LOAD segments into memory, matching
// the way a firmware-side loader reads a file handle: everything is
// copied out before any physical memory is touched. wantMachine is the
// architecture the kernel must target (elf.EM_X86_64 or elf.EM_AARCH64).
func LoadELFKernel(kernel io.ReaderAt, wantMachine elf.Machine) (*KernelImage, error) {
	f, err := elf.NewFile(kernel)
	if err != nil {
		return nil, fmt.Errorf("bootloader: open ELF kernel: %w", err)
	}
	defer f.Close()

	if f.Machine != wantMachine {
		return nil, fmt.Errorf("bootloader: unsupported ELF machine %s (want %s)", f.Machine, wantMachine)
	}
	if len(f.Progs) == 0 {
		return nil, errors.New("bootloader: ELF kernel has no program headers")
	}

	var segments []Segment
	var minVAddr, maxVAddr uint64
	haveSpan := false
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		if prog.Filesz > prog.Memsz {
			return nil, fmt.Errorf("bootloader: ELF segment file size %#x exceeds mem size %#x", prog.Filesz, prog.Memsz)
		}
		if prog.Filesz > uint64(math.MaxInt) || prog.Memsz > uint64(math.MaxInt) {
			return nil, fmt.Errorf("bootloader: ELF segment size exceeds host limits")
		}
		data := make([]byte, int(prog.Filesz))
		if prog.Filesz > 0 {
			if _, err := prog.ReadAt(data, 0); err != nil {
				return nil, fmt.Errorf("bootloader: read ELF segment @%#x: %w", prog.Off, err)
			}
		}
		segments = append(segments, Segment{VAddr: prog.Vaddr, FileSize: prog.Filesz, MemSize: prog.Memsz, Data: data})
		if !haveSpan || prog.Vaddr < minVAddr {
			minVAddr = prog.Vaddr
		}
		if end := prog.Vaddr + prog.Memsz; end > maxVAddr {
			maxVAddr = end
		}
		haveSpan = true
	}
	if len(segments) == 0 {
		return nil, errors.New("bootloader: ELF kernel has no loadable segments")
	}
	if f.Entry == 0 {
		return nil, errors.New("bootloader: ELF kernel entry point is zero")
	}
	if f.Entry < minVAddr || f.Entry >= maxVAddr {
		return nil, fmt.Errorf("bootloader: ELF entry %#x outside loaded span [%#x, %#x)", f.Entry, minVAddr, maxVAddr)
	}

	buildID := findGNUBuildID(f)

	return &KernelImage{
		Machine:  f.Machine,
		Entry:    f.Entry,
		MinVAddr: minVAddr,
		MaxVAddr: maxVAddr,
		Segments: segments,
		BuildID:  buildID,
	}, nil
}

// gnuNoteName is the note owner name the GNU build-id note uses.
const gnuNoteName = "GNU"

// noteTypeGNUBuildID is NT_GNU_BUILD_ID, the note type the linker
// assigns a --build-id payload.
const noteTypeGNUBuildID = 3

// findGNUBuildID scans f's PT_NOTE segments for a GNU build-id note and
// returns its payload hex-encoded. It returns "" if the kernel carries
// no such note; a missing build-id is never a load failure, only a
// weaker diagnostic at boot.
func findGNUBuildID(f *elf.File) string {
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_NOTE {
			continue
		}
		data := make([]byte, prog.Memsz)
		n, err := prog.ReadAt(data, 0)
		if err != nil && n == 0 {
			continue
		}
		data = data[:n]

		for len(data) >= 12 {
			nameSz := binary.LittleEndian.Uint32(data[0:4])
			descSz := binary.LittleEndian.Uint32(data[4:8])
			noteType := binary.LittleEndian.Uint32(data[8:12])
			off := 12
			namePadded := align4(nameSz)
			descPadded := align4(descSz)
			if uint64(off)+uint64(namePadded)+uint64(descPadded) > uint64(len(data)) {
				break
			}
			name := data[off : off+int(nameSz)]
			off += int(namePadded)
			desc := data[off : off+int(descSz)]
			off += int(descPadded)

			if noteType == noteTypeGNUBuildID && trimNulString(name) == gnuNoteName {
				return hex.EncodeToString(desc)
			}
			data = data[off:]
		}
	}
	return ""
}

func align4(n uint32) uint32 { return (n + 3) &^ 3 }

func trimNulString(b []byte) string {
	if i := bytesIndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func bytesIndexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// Materialize allocates physical frames for every segment from phys,
// copies each segment's file contents in (the rest of the frame is
// already zeroed by AllocFrames), and maps it into vs at kernelOffset +
// segment vaddr with the rights the caller's rightsFor returns for that
// segment (Segment does not carry the ELF p_flags, so the caller
// supplies them).
func (k *KernelImage) Materialize(vs Mapper, phys *arena.Arena, kernelOffset uint64, rightsFor func(seg Segment) paging.Rights) error {
	for _, seg := range k.Segments {
		pagesNeeded := (seg.MemSize + paging.PageSize4K - 1) / paging.PageSize4K
		pa, buf, err := phys.AllocFrames(int(pagesNeeded))
		if err != nil {
			return fmt.Errorf("bootloader: allocate %d pages for segment @%#x: %w", pagesNeeded, seg.VAddr, err)
		}
		copy(buf, seg.Data)

		va := paging.VA(kernelOffset + seg.VAddr)
		alignedVA := paging.VA(uint64(va) &^ (paging.PageSize4K - 1))
		size := pagesNeeded * paging.PageSize4K
		rights := rightsFor(seg)
		if err := vs.MapGeneric(alignedVA, pa, size, rights); err != nil {
			return fmt.Errorf("bootloader: map segment @%#x: %w", seg.VAddr, err)
		}
	}
	return nil
}
