package paging

import "testing"

func TestTableRoundTrip(t *testing.T) {
	for _, codec := range []struct {
		name string
		c    Codec
	}{
		{"amd64", AMD64Codec},
		{"arm64", ARM64Codec},
	} {
		t.Run(codec.name, func(t *testing.T) {
			pa := PA(0x1234_5000)
			d := codec.c.EncodeTable(pa)
			got, ok := codec.c.DecodeTable(d)
			if !ok {
				t.Fatalf("DecodeTable(%#x) reported not-a-table", uint64(d))
			}
			if got != pa {
				t.Fatalf("DecodeTable round trip: got %s, want %s", got, pa)
			}
			for _, level := range []Level{L0, L1, L2} {
				if tag := codec.c.Classify(level, d); tag != TagTable {
					t.Fatalf("Classify(%s, tableDescriptor) = %s, want table", level, tag)
				}
			}
		})
	}
}

func TestLeafRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		c     Codec
		level Level
		frame PA
	}{
		{"amd64 L1", AMD64Codec, L1, PA(PageSize1G * 3)},
		{"amd64 L2", AMD64Codec, L2, PA(PageSize2M * 7)},
		{"amd64 L3", AMD64Codec, L3, PA(PageSize4K * 11)},
		{"arm64 L1", ARM64Codec, L1, PA(PageSize1G * 3)},
		{"arm64 L2", ARM64Codec, L2, PA(PageSize2M * 7)},
		{"arm64 L3", ARM64Codec, L3, PA(PageSize4K * 11)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, rights := range AllRights() {
				d, err := tc.c.EncodeLeaf(tc.level, tc.frame, rights)
				if err != nil {
					t.Fatalf("EncodeLeaf(%s, %s): %v", tc.level, rights, err)
				}
				frame, gotRights, err := tc.c.DecodeLeaf(tc.level, d)
				if err != nil {
					t.Fatalf("DecodeLeaf(%s, %#x): %v", tc.level, uint64(d), err)
				}
				if frame != tc.frame {
					t.Errorf("frame round trip: got %s, want %s", frame, tc.frame)
				}
				if gotRights != rights {
					t.Errorf("rights round trip: got %s, want %s", gotRights, rights)
				}
				tag := tc.c.Classify(tc.level, d)
				if rights == RightsNone {
					if tag != TagInvalid {
						t.Errorf("Classify(%s, RightsNone leaf) = %s, want invalid (non-present/valid so it faults)", tc.level, tag)
					}
					continue
				}
				if tc.level == L3 && tag != TagPage {
					t.Errorf("Classify(L3, leaf) = %s, want page", tag)
				} else if tc.level != L3 && tag != TagBlock {
					t.Errorf("Classify(%s, leaf) = %s, want block", tc.level, tag)
				}
			}
		})
	}
}

func TestEncodeLeafRejectsMisalignedFrame(t *testing.T) {
	for _, codec := range []Codec{AMD64Codec, ARM64Codec} {
		if _, err := codec.EncodeLeaf(L2, PA(PageSize4K), RightsReadWriteKernel); err == nil {
			t.Fatalf("EncodeLeaf accepted a frame misaligned for L2")
		}
	}
}

func TestEncodeLeafRejectsL0(t *testing.T) {
	for _, codec := range []Codec{AMD64Codec, ARM64Codec} {
		if _, err := codec.EncodeLeaf(L0, 0, RightsNone); err != ErrLevelHasNoLeaf {
			t.Fatalf("EncodeLeaf(L0, ...) = %v, want ErrLevelHasNoLeaf", err)
		}
	}
}

func TestInvalidDescriptorClassifiesInvalid(t *testing.T) {
	for _, codec := range []Codec{AMD64Codec, ARM64Codec} {
		if tag := codec.Classify(L2, Descriptor(0)); tag != TagInvalid {
			t.Fatalf("Classify(zero descriptor) = %s, want invalid", tag)
		}
	}
}

func TestIndexCoversAllLevels(t *testing.T) {
	va := VA(0x0000_1234_5678_9000)
	seen := map[int]bool{}
	for _, level := range []Level{L0, L1, L2, L3} {
		idx := Index(va, level)
		if idx < 0 || idx >= entriesPerTable {
			t.Fatalf("Index(%s) = %d out of range", level, idx)
		}
		seen[idx] = true
	}
	var table Table
	entry := EntryAt(&table, va, L3)
	*entry = Descriptor(0xdeadbeef)
	if table[Index(va, L3)] != Descriptor(0xdeadbeef) {
		t.Fatalf("EntryAt did not address the slot Index selects")
	}
}
