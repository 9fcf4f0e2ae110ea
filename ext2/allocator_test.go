package ext2

import (
	"testing"

	"github.com/lihanrui2913/goext2/device"
)

// newTestAllocator builds a tiny one-group filesystem (metadata already
// marked used in the bitmaps) suitable for exercising the allocator in
// isolation, without going through Create.
func newTestAllocator(t *testing.T) (*Allocator, device.Device[byte], *Superblock) {
	t.Helper()
	const blockSize = 1024
	const blocksPerGroup = 64
	d := device.NewMemory(blocksPerGroup * blockSize)

	sb := &Superblock{
		FirstDataBlock: 1,
		BlockCount:     blocksPerGroup,
		BlocksPerGroup: blocksPerGroup,
		InodesPerGroup: 32,
		FreeBlocks:     blocksPerGroup - 1 - 4, // minus superblock block, minus 4 metadata blocks below
		FreeInodes:     32 - FirstNonReservedInode + 1,
		FirstInode:     FirstNonReservedInode,
	}

	bgdCache := NewCache[uint32, *BlockGroupDescriptor](false)
	alloc := NewAllocator(d, sb, bgdCache)

	bm := NewBitmap(int(blocksPerGroup))
	for i := 0; i < 4; i++ { // pretend blocks 0-3 hold bitmaps/inode table
		_ = bm.Set(i)
	}
	if err := alloc.writeBitmap(0, bm); err != nil {
		t.Fatal(err)
	}
	ibm := NewBitmap(32)
	for i := 0; i < FirstNonReservedInode-1; i++ {
		_ = ibm.Set(i)
	}
	if err := alloc.writeBitmap(3, ibm); err != nil {
		t.Fatal(err)
	}
	bgd := &BlockGroupDescriptor{
		BlockBitmap:     0,
		InodeBitmap:     3,
		InodeTable:      2,
		FreeBlocksCount: u16(uint64(sb.FreeBlocks)),
		FreeInodesCount: u16(uint64(sb.FreeInodes)),
	}
	if err := alloc.writeGroupDescriptor(0, bgd); err != nil {
		t.Fatal(err)
	}
	return alloc, d, sb
}

func TestAllocatorAllocateAndDeallocateBlocks(t *testing.T) {
	alloc, _, sb := newTestAllocator(t)

	blocks, err := alloc.AllocateBlocks(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 5 {
		t.Fatalf("allocated %d blocks, want 5", len(blocks))
	}
	seen := map[uint32]bool{}
	for _, b := range blocks {
		if seen[b] {
			t.Fatalf("block %d allocated twice", b)
		}
		seen[b] = true
		if b < 4 {
			t.Fatalf("allocator returned already-used metadata block %d", b)
		}
	}
	freeBefore := sb.FreeBlocks
	if err := alloc.DeallocateBlocks(blocks); err != nil {
		t.Fatal(err)
	}
	if sb.FreeBlocks != freeBefore+5 {
		t.Fatalf("FreeBlocks after dealloc = %d, want %d", sb.FreeBlocks, freeBefore+5)
	}
}

func TestAllocatorRefusesOverAllocation(t *testing.T) {
	alloc, _, sb := newTestAllocator(t)
	if _, err := alloc.AllocateBlocks(sb.FreeBlocks + 1); err == nil {
		t.Fatal("expected a not-enough-free-blocks error")
	}
}

func TestAllocatorDeallocateFreeBlockErrors(t *testing.T) {
	alloc, _, _ := newTestAllocator(t)
	if err := alloc.DeallocateBlocks([]uint32{10}); err == nil {
		t.Fatal("expected an error freeing a block that was never allocated")
	}
}

func TestAllocatorAllocateInodeSkipsReserved(t *testing.T) {
	alloc, _, _ := newTestAllocator(t)
	number, err := alloc.AllocateInode(false)
	if err != nil {
		t.Fatal(err)
	}
	if number != FirstNonReservedInode {
		t.Fatalf("AllocateInode() = %d, want %d (first non-reserved)", number, FirstNonReservedInode)
	}
	if err := alloc.DeallocateInode(number, false); err != nil {
		t.Fatal(err)
	}
	if err := alloc.DeallocateInode(number, false); err == nil {
		t.Fatal("expected an error freeing an already-free inode")
	}
}
