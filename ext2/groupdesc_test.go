package ext2

import (
	"testing"

	"github.com/lihanrui2913/goext2/device"
)

func newTestSuperblockForGroups(t *testing.T, groups uint32) *Superblock {
	t.Helper()
	return &Superblock{
		FirstDataBlock: 1,
		LogBlockSize:   0,
		BlocksPerGroup: 8192,
		BlockCount:     1 + groups*8192,
	}
}

func TestBlockGroupDescriptorRoundTrip(t *testing.T) {
	d := device.NewMemory(1024 * 1024)
	sb := newTestSuperblockForGroups(t, 2)

	bgd := &BlockGroupDescriptor{
		BlockBitmap:     3,
		InodeBitmap:     4,
		InodeTable:      5,
		FreeBlocksCount: 8000,
		FreeInodesCount: 100,
		UsedDirsCount:   2,
	}
	if err := WriteBlockGroupDescriptor(d, sb, 1, bgd, nil); err != nil {
		t.Fatal(err)
	}
	got, err := ParseBlockGroupDescriptor(d, sb, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if *got != *bgd {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, bgd)
	}
}

func TestBlockGroupDescriptorRejectsOutOfRangeGroup(t *testing.T) {
	d := device.NewMemory(1024 * 1024)
	sb := newTestSuperblockForGroups(t, 1)
	if _, err := ParseBlockGroupDescriptor(d, sb, 5, nil); err == nil {
		t.Fatal("expected a non-existing-block-group error")
	}
}

func TestBlockGroupDescriptorCache(t *testing.T) {
	d := device.NewMemory(1024 * 1024)
	sb := newTestSuperblockForGroups(t, 1)
	cache := NewCache[uint32, *BlockGroupDescriptor](true)

	bgd := &BlockGroupDescriptor{BlockBitmap: 9}
	if err := WriteBlockGroupDescriptor(d, sb, 0, bgd, cache); err != nil {
		t.Fatal(err)
	}

	cached, ok := cache.Get(0)
	if !ok || cached.BlockBitmap != 9 {
		t.Fatalf("expected the write to populate the cache, got %+v, ok=%v", cached, ok)
	}

	got, err := ParseBlockGroupDescriptor(d, sb, 0, cache)
	if err != nil {
		t.Fatal(err)
	}
	if got != cached {
		t.Fatal("ParseBlockGroupDescriptor should return the cached pointer, not re-read from disk")
	}
}
