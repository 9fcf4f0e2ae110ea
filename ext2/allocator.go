package ext2

import (
	"github.com/lihanrui2913/goext2/device"
)

// Allocator finds and reserves free blocks and inodes across a
// filesystem's block groups, keeping the superblock, block group
// descriptors and bitmaps consistent with each other.
type Allocator struct {
	d        device.Device[byte]
	sb       *Superblock
	bgdCache *Cache[uint32, *BlockGroupDescriptor]
}

// NewAllocator builds an allocator over a mounted filesystem.
func NewAllocator(d device.Device[byte], sb *Superblock, bgdCache *Cache[uint32, *BlockGroupDescriptor]) *Allocator {
	return &Allocator{d: d, sb: sb, bgdCache: bgdCache}
}

func (a *Allocator) groupDescriptor(n uint32) (*BlockGroupDescriptor, error) {
	return ParseBlockGroupDescriptor(a.d, a.sb, n, a.bgdCache)
}

func (a *Allocator) writeGroupDescriptor(n uint32, bgd *BlockGroupDescriptor) error {
	return WriteBlockGroupDescriptor(a.d, a.sb, n, bgd, a.bgdCache)
}

func (a *Allocator) readBitmap(block uint32, nBits uint32) (*Bitmap, error) {
	addr := device.Address(uint64(block) * uint64(a.sb.BlockSize()))
	raw, err := device.ReadSlice(a.d, device.RangeOf(addr, uint64((nBits+7)/8)))
	if err != nil {
		return nil, err
	}
	return BitmapFromBytes(append([]byte(nil), raw...)), nil
}

func (a *Allocator) writeBitmap(block uint32, bm *Bitmap) error {
	addr := device.Address(uint64(block) * uint64(a.sb.BlockSize()))
	data := bm.Bytes()
	return device.WriteSlice(a.d, device.RangeOf(addr, uint64(len(data))), func(dst []byte) {
		copy(dst, data)
	})
}

// blocksInGroup returns how many blocks (and thus bitmap bits) group n
// covers; every group has sb.BlocksPerGroup blocks except possibly the
// last, which is truncated to the remaining block count.
func (a *Allocator) blocksInGroup(n uint32) uint32 {
	total := a.sb.BlockCount - a.sb.FirstDataBlock
	start := n * a.sb.BlocksPerGroup
	if start+a.sb.BlocksPerGroup > total {
		return total - start
	}
	return a.sb.BlocksPerGroup
}

// AllocateBlocks reserves n blocks first-fit: the lowest free blocks of
// each group in turn, groups in ascending order. It does not search for
// a contiguous run. It returns the allocated block numbers in ascending
// order, with no split into data and indirection-pointer blocks;
// AppendBlocks gives each block its role by position.
func (a *Allocator) AllocateBlocks(n uint32) ([]uint32, error) {
	if n == 0 {
		return nil, nil
	}
	if a.sb.FreeBlocks < n {
		return nil, &Error{Kind: NotEnoughFreeBlocks, Requested: uint64(n), Available: uint64(a.sb.FreeBlocks)}
	}

	var allocated []uint32
	groups := a.sb.BlockGroupCount()
	for g := uint32(0); g < groups && uint32(len(allocated)) < n; g++ {
		bgd, err := a.groupDescriptor(g)
		if err != nil {
			return nil, err
		}
		if bgd.FreeBlocksCount == 0 {
			continue
		}
		bm, err := a.readBitmap(bgd.BlockBitmap, a.blocksInGroup(g))
		if err != nil {
			return nil, err
		}
		changed := false
		for uint32(len(allocated)) < n {
			idx := bm.FirstFree(0)
			if idx < 0 {
				break
			}
			if err := bm.Set(idx); err != nil {
				return nil, err
			}
			changed = true
			blockNum := a.sb.FirstDataBlock + g*a.sb.BlocksPerGroup + uint32(idx)
			allocated = append(allocated, blockNum)
			bgd.FreeBlocksCount--
			a.sb.FreeBlocks--
		}
		if changed {
			if err := a.writeBitmap(bgd.BlockBitmap, bm); err != nil {
				return nil, err
			}
			if err := a.writeGroupDescriptor(g, bgd); err != nil {
				return nil, err
			}
		}
	}
	if uint32(len(allocated)) < n {
		return nil, &Error{Kind: NotEnoughFreeBlocks, Requested: uint64(n), Available: uint64(len(allocated))}
	}
	if err := WriteSuperblock(a.d, a.sb); err != nil {
		return nil, err
	}
	return allocated, nil
}

// DeallocateBlocks frees the given block numbers, which may span
// multiple groups.
func (a *Allocator) DeallocateBlocks(blocks []uint32) error {
	byGroup := make(map[uint32][]uint32)
	for _, b := range blocks {
		if b == 0 {
			continue
		}
		g := a.sb.BlockGroupOf(b)
		byGroup[g] = append(byGroup[g], b)
	}
	for g, list := range byGroup {
		bgd, err := a.groupDescriptor(g)
		if err != nil {
			return err
		}
		bm, err := a.readBitmap(bgd.BlockBitmap, a.blocksInGroup(g))
		if err != nil {
			return err
		}
		for _, b := range list {
			idx := int(a.sb.GroupIndexOf(b))
			set, err := bm.IsSet(idx)
			if err != nil {
				return err
			}
			if !set {
				return &Error{Kind: BlockAlreadyFree, Value: uint64(b)}
			}
			if err := bm.Clear(idx); err != nil {
				return err
			}
			bgd.FreeBlocksCount++
			a.sb.FreeBlocks++
		}
		if err := a.writeBitmap(bgd.BlockBitmap, bm); err != nil {
			return err
		}
		if err := a.writeGroupDescriptor(g, bgd); err != nil {
			return err
		}
	}
	return WriteSuperblock(a.d, a.sb)
}

// AllocateInode reserves the first free inode number at or after the
// filesystem's first non-reserved inode, marking it used in its
// group's inode bitmap.
func (a *Allocator) AllocateInode(isDir bool) (uint32, error) {
	if a.sb.FreeInodes == 0 {
		return 0, &Error{Kind: NotEnoughInodes, Requested: 1, Available: 0}
	}
	groups := a.sb.BlockGroupCount()
	for g := uint32(0); g < groups; g++ {
		bgd, err := a.groupDescriptor(g)
		if err != nil {
			return 0, err
		}
		if bgd.FreeInodesCount == 0 {
			continue
		}
		bm, err := a.readBitmap(bgd.InodeBitmap, a.sb.InodesPerGroup)
		if err != nil {
			return 0, err
		}
		start := 0
		if g == 0 {
			start = int(a.sb.FirstInode) - 1
		}
		idx := bm.FirstFree(start)
		if idx < 0 {
			continue
		}
		if err := bm.Set(idx); err != nil {
			return 0, err
		}
		if err := a.writeBitmap(bgd.InodeBitmap, bm); err != nil {
			return 0, err
		}
		bgd.FreeInodesCount--
		if isDir {
			bgd.UsedDirsCount++
		}
		if err := a.writeGroupDescriptor(g, bgd); err != nil {
			return 0, err
		}
		a.sb.FreeInodes--
		if err := WriteSuperblock(a.d, a.sb); err != nil {
			return 0, err
		}
		number := g*a.sb.InodesPerGroup + uint32(idx) + 1
		return number, nil
	}
	return 0, &Error{Kind: NotEnoughInodes, Requested: 1, Available: 0}
}

// DeallocateInode frees number, incrementing the owning group's and
// superblock's free-inode counters (and, when wasDir is set,
// decrementing the group's used-directory count).
func (a *Allocator) DeallocateInode(number uint32, wasDir bool) error {
	g := inodeBlockGroup(a.sb, number)
	bgd, err := a.groupDescriptor(g)
	if err != nil {
		return err
	}
	bm, err := a.readBitmap(bgd.InodeBitmap, a.sb.InodesPerGroup)
	if err != nil {
		return err
	}
	idx := int(inodeIndexInGroup(a.sb, number))
	set, err := bm.IsSet(idx)
	if err != nil {
		return err
	}
	if !set {
		return &Error{Kind: InodeAlreadyFree, Value: uint64(number)}
	}
	if err := bm.Clear(idx); err != nil {
		return err
	}
	if err := a.writeBitmap(bgd.InodeBitmap, bm); err != nil {
		return err
	}
	bgd.FreeInodesCount++
	if wasDir && bgd.UsedDirsCount > 0 {
		bgd.UsedDirsCount--
	}
	if err := a.writeGroupDescriptor(g, bgd); err != nil {
		return err
	}
	a.sb.FreeInodes++
	return WriteSuperblock(a.d, a.sb)
}
