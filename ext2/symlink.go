package ext2

import (
	"encoding/binary"

	"github.com/lihanrui2913/goext2/device"
)

// SymbolicLink wraps an inode of type FileTypeSymlink, handling the
// classic ext2 optimization: a target of SymlinkInlineMax bytes or
// fewer is stored directly in the inode's block-pointer array (which
// is otherwise unused for a symlink that short), avoiding a data block
// entirely. Longer targets, up to PathMax, go through the same
// indirected-blocks machinery a regular file's data uses.
type SymbolicLink struct {
	d          device.Device[byte]
	sb         *Superblock
	number     uint32
	in         *Inode
	ib         *IndirectedBlocks
	inodeCache *Cache[uint32, *Inode]
	bgdCache   *Cache[uint32, *BlockGroupDescriptor]
}

// OpenSymbolicLink loads the symlink rooted at the given inode.
func OpenSymbolicLink(d device.Device[byte], sb *Superblock, number uint32, in *Inode, inodeCache *Cache[uint32, *Inode], bgdCache *Cache[uint32, *BlockGroupDescriptor]) (*SymbolicLink, error) {
	if in.FileType() != FileTypeSymlink {
		return nil, &Error{Kind: WrongFileType}
	}
	s := &SymbolicLink{d: d, sb: sb, number: number, in: in, inodeCache: inodeCache, bgdCache: bgdCache}
	if !s.isInline() {
		ib, err := ParseIndirectedBlocks(d, sb, in)
		if err != nil {
			return nil, err
		}
		s.ib = ib
	}
	return s, nil
}

// isInline reports whether the target is stored inside the inode
// itself rather than in data blocks.
func (s *SymbolicLink) isInline() bool {
	return s.in.Blocks == 0
}

// Target returns the pointed-to path.
func (s *SymbolicLink) Target() (string, error) {
	size := s.in.Size()
	if s.isInline() {
		buf := make([]byte, SymlinkInlineMax)
		for i := 0; i < 15; i++ {
			binary.LittleEndian.PutUint32(buf[i*4:i*4+4], s.in.Block[i])
		}
		if size > uint64(len(buf)) {
			size = uint64(len(buf))
		}
		return string(buf[:size]), nil
	}
	c := NewBlockCursor(s.d, s.sb, s.ib, size)
	buf := make([]byte, size)
	n, err := c.Read(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// SetTarget stores target, choosing the inline or indirected-block
// representation based on its length, growing, shrinking or freeing
// data blocks as the representation or length changes. A target
// longer than PathMax is rejected with NameTooLong.
func (s *SymbolicLink) SetTarget(alloc *Allocator, target string) error {
	if len(target) > PathMax {
		return &Error{Kind: NameTooLong, Path: target}
	}

	wasInline := s.isInline()

	if len(target) <= SymlinkInlineMax {
		if !wasInline {
			if err := s.freeAllBlocks(alloc); err != nil {
				return err
			}
		}
		var buf [SymlinkInlineMax]byte
		copy(buf[:], target)
		for i := 0; i < 15; i++ {
			s.in.Block[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
		}
		s.in.Blocks = 0
		s.in.SetSize(uint64(len(target)))
		s.ib = nil
		return s.flushInode()
	}

	if wasInline {
		for i := range s.in.Block {
			s.in.Block[i] = 0
		}
		ib, err := ParseIndirectedBlocks(s.d, s.sb, s.in)
		if err != nil {
			return err
		}
		s.ib = ib
	}

	if err := s.resize(alloc, uint64(len(target))); err != nil {
		return err
	}
	c := NewBlockCursor(s.d, s.sb, s.ib, uint64(len(target)))
	if err := c.WriteAt([]byte(target), 0); err != nil {
		return err
	}
	s.in.SetSize(uint64(len(target)))
	return s.flushInode()
}

func (s *SymbolicLink) flushInode() error {
	g := inodeBlockGroup(s.sb, s.number)
	bgd, err := ParseBlockGroupDescriptor(s.d, s.sb, g, s.bgdCache)
	if err != nil {
		return err
	}
	return WriteInode(s.d, s.sb, bgd, s.number, s.in, s.inodeCache)
}

// freeAllBlocks releases every data and indirection block currently
// addressed by the symlink's block-pointer tree, used when a target
// shrinks back down to the inline representation.
func (s *SymbolicLink) freeAllBlocks(alloc *Allocator) error {
	if s.ib == nil {
		return nil
	}
	toFree := append(append([]uint32(nil), s.ib.FlattenDataBlocks()...), s.ib.FlattenIndirectionBlocks()...)
	if len(toFree) == 0 {
		return nil
	}
	return alloc.DeallocateBlocks(toFree)
}

// resize grows or shrinks the indirected-block tree to cover exactly
// newSize bytes, mirroring Regular.grow/Regular.Truncate's block
// accounting.
func (s *SymbolicLink) resize(alloc *Allocator, newSize uint64) error {
	blockSize := blockSize64(s.sb)
	currentDataBlocks := s.ib.DataBlockCount()
	wantDataBlocks := (newSize + blockSize - 1) / blockSize

	if wantDataBlocks > currentDataBlocks {
		bpi := uint64(s.ib.BlocksPerIndirection())
		currentIndirection := s.ib.IndirectionBlockCount()
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
		full, diff := s.ib.AppendBlocksWithDifference(newBlocks, nil)
		s.ib = full
		s.in.syncBlockPointers(s.ib)
		if err := FlushDifference(s.d, s.sb, diff); err != nil {
			return err
		}
		s.in.Blocks = u32((wantDataBlocks + wantIndirection) * blockSize / 512)
		return nil
	}

	if wantDataBlocks < currentDataBlocks {
		before := append([]uint32(nil), s.ib.FlattenIndirectionBlocks()...)
		beforeData := append([]uint32(nil), s.ib.FlattenDataBlocks()...)
		s.ib.TruncateBackDataBlocks(wantDataBlocks)
		s.in.syncBlockPointers(s.ib)
		afterSet := make(map[uint32]bool)
		for _, b := range s.ib.FlattenIndirectionBlocks() {
			afterSet[b] = true
		}
		afterDataSet := make(map[uint32]bool)
		for _, b := range s.ib.FlattenDataBlocks() {
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
		s.in.Blocks = u32((wantDataBlocks + s.ib.IndirectionBlockCount()) * blockSize / 512)
	}
	return nil
}
