package ext2

import (
	"github.com/lihanrui2913/goext2/device"
)

// Regular is an open regular file: its inode, the IndirectedBlocks
// tree addressing its data, and the allocator context needed to grow
// or shrink it.
type Regular struct {
	d          device.Device[byte]
	sb         *Superblock
	number     uint32
	in         *Inode
	ib         *IndirectedBlocks
	inodeCache *Cache[uint32, *Inode]
	bgdCache   *Cache[uint32, *BlockGroupDescriptor]
}

// OpenRegular loads the regular file rooted at the given inode.
func OpenRegular(d device.Device[byte], sb *Superblock, number uint32, in *Inode, inodeCache *Cache[uint32, *Inode], bgdCache *Cache[uint32, *BlockGroupDescriptor]) (*Regular, error) {
	if in.FileType() != FileTypeRegular {
		return nil, &Error{Kind: WrongFileType}
	}
	ib, err := ParseIndirectedBlocks(d, sb, in)
	if err != nil {
		return nil, err
	}
	return &Regular{d: d, sb: sb, number: number, in: in, ib: ib, inodeCache: inodeCache, bgdCache: bgdCache}, nil
}

// Size returns the current logical length of the file.
func (f *Regular) Size() uint64 { return f.in.Size() }

// Mode returns the inode's permission and type bits.
func (f *Regular) Mode() uint16 { return f.in.Mode }

// SetMode rewrites the permission bits, leaving the file-type bits
// untouched.
func (f *Regular) SetMode(perm uint16) {
	f.in.Mode = modeFormatOf(FileTypeRegular) | (perm &^ modeFormatMask)
}

// SetOwner rewrites uid/gid.
func (f *Regular) SetOwner(uid, gid uint16) {
	f.in.UID = uid
	f.in.GID = gid
}

// ReadAt fills p starting at byte offset off.
func (f *Regular) ReadAt(p []byte, off uint64) (int, error) {
	c := NewBlockCursor(f.d, f.sb, f.ib, f.in.Size())
	if _, err := c.Seek(int64(off), 0); err != nil {
		return 0, err
	}
	return c.Read(p)
}

func blockSize64(sb *Superblock) uint64 { return uint64(sb.BlockSize()) }

// grow ensures the file has enough allocated blocks to cover byte
// offset end, allocating new data and indirection-pointer blocks
// together (in the single order AppendBlocks expects) and flushing the
// pointer tree. The first allocation of a previously-empty file
// reserves MinimalFileAllocation bytes' worth of blocks up front, to
// reduce fragmentation for files that grow one small write at a time.
func (f *Regular) grow(alloc *Allocator, end uint64) error {
	blockSize := blockSize64(f.sb)
	currentDataBlocks := f.ib.DataBlockCount()
	wantDataBlocks := (end + blockSize - 1) / blockSize
	if currentDataBlocks == 0 && wantDataBlocks > 0 {
		minBlocks := uint64(MinimalFileAllocation) / blockSize
		if wantDataBlocks < minBlocks {
			wantDataBlocks = minBlocks
		}
	}
	if wantDataBlocks <= currentDataBlocks {
		return nil
	}

	bpi := uint64(f.ib.BlocksPerIndirection())
	currentIndirection := f.ib.IndirectionBlockCount()
	wantIndirection := NecessaryIndirectionBlockCount(wantDataBlocks, bpi)

	extraData := wantDataBlocks - currentDataBlocks
	extraIndirection := uint64(0)
	if wantIndirection > currentIndirection {
		extraIndirection = wantIndirection - currentIndirection
	}

	newBlocks, err := alloc.AllocateBlocks(u32(extraData + extraIndirection))
	if err != nil {
		return err
	}

	full, diff := f.ib.AppendBlocksWithDifference(newBlocks, nil)
	f.ib = full
	f.in.syncBlockPointers(f.ib)
	if err := FlushDifference(f.d, f.sb, diff); err != nil {
		return err
	}
	for _, b := range diff.ChangedDataBlocks() {
		if err := device.WriteSlice(f.d, device.RangeOf(device.Address(uint64(b)*blockSize), blockSize), func(dst []byte) {
			for i := range dst {
				dst[i] = 0
			}
		}); err != nil {
			return err
		}
	}
	f.in.Blocks = u32((wantDataBlocks + wantIndirection) * blockSize / 512)
	return nil
}

// WriteAt writes p at byte offset off, growing the file (allocating
// new blocks through alloc) if the write extends past the current
// size. This follows the read-modify-write discipline every on-disk
// mutation in this package uses: grow first, then fill.
func (f *Regular) WriteAt(alloc *Allocator, p []byte, off uint64) (int, error) {
	end := off + uint64(len(p))
	if err := f.grow(alloc, end); err != nil {
		return 0, err
	}
	c := NewBlockCursor(f.d, f.sb, f.ib, end)
	if err := c.WriteAt(p, off); err != nil {
		return 0, err
	}
	if end > f.in.Size() {
		f.in.SetSize(end)
	}
	return len(p), f.flushInode()
}

func (f *Regular) flushInode() error {
	g := inodeBlockGroup(f.sb, f.number)
	bgd, err := ParseBlockGroupDescriptor(f.d, f.sb, g, f.bgdCache)
	if err != nil {
		return err
	}
	return WriteInode(f.d, f.sb, bgd, f.number, f.in, f.inodeCache)
}

// Truncate resizes the file to newSize, freeing blocks no longer
// needed (when shrinking) or covering the new bytes with zero-filled
// blocks allocated via alloc (when growing).
func (f *Regular) Truncate(alloc *Allocator, newSize uint64) error {
	blockSize := blockSize64(f.sb)
	if newSize > f.in.Size() {
		if err := f.grow(alloc, newSize); err != nil {
			return err
		}
		f.in.SetSize(newSize)
		return f.flushInode()
	}

	before := append([]uint32(nil), f.ib.FlattenIndirectionBlocks()...)
	beforeData := append([]uint32(nil), f.ib.FlattenDataBlocks()...)

	newDataBlocks := (newSize + blockSize - 1) / blockSize
	f.ib.TruncateBackDataBlocks(newDataBlocks)
	f.in.syncBlockPointers(f.ib)

	after := f.ib.FlattenIndirectionBlocks()
	afterData := f.ib.FlattenDataBlocks()
	afterSet := make(map[uint32]bool, len(after))
	for _, b := range after {
		afterSet[b] = true
	}
	afterDataSet := make(map[uint32]bool, len(afterData))
	for _, b := range afterData {
		afterDataSet[b] = true
	}

	var toFree []uint32
	for _, b := range before {
		if !afterSet[b] {
			toFree = append(toFree, b)
		}
	}
	for _, b := range beforeData {
		if !afterDataSet[b] {
			toFree = append(toFree, b)
		}
	}
	if len(toFree) > 0 {
		if err := alloc.DeallocateBlocks(toFree); err != nil {
			return err
		}
	}

	f.in.SetSize(newSize)
	f.in.Blocks = u32((newDataBlocks + f.ib.IndirectionBlockCount()) * blockSize / 512)
	return f.flushInode()
}
