package ext2

import (
	"encoding/binary"

	"github.com/lihanrui2913/goext2/device"
)

// dirEntryHeaderSize is the fixed 8-byte header preceding every
// directory entry's name: inode (4), rec_len (2), name_len (1),
// file_type (1).
const dirEntryHeaderSize = 8

// DirEntry is one parsed directory entry.
type DirEntry struct {
	Inode    uint32
	RecLen   uint16
	FileType FileType
	Name     string
}

func padTo4(n uint16) uint16 {
	return (n + 3) &^ 3
}

// minimalRecLen is the smallest rec_len that can hold a name of the
// given length: header, name bytes, and one extra byte of slack so an
// entry's recorded name length never abuts the next entry's header
// with zero margin.
func minimalRecLen(nameLen int) uint16 {
	return padTo4(uint16(dirEntryHeaderSize + nameLen + 1))
}

func decodeDirEntry(b []byte) (DirEntry, error) {
	if len(b) < dirEntryHeaderSize {
		return DirEntry{}, &Error{Kind: InvalidState}
	}
	inode := binary.LittleEndian.Uint32(b[0:4])
	recLen := binary.LittleEndian.Uint16(b[4:6])
	nameLen := int(b[6])
	fileType := FileType(b[7])
	if recLen < dirEntryHeaderSize || int(recLen) > len(b) {
		return DirEntry{}, &Error{Kind: InvalidState}
	}
	if dirEntryHeaderSize+nameLen > len(b) {
		return DirEntry{}, &Error{Kind: InvalidState}
	}
	name := string(b[dirEntryHeaderSize : dirEntryHeaderSize+nameLen])
	return DirEntry{Inode: inode, RecLen: recLen, FileType: fileType, Name: name}, nil
}

func encodeDirEntry(dst []byte, e DirEntry) {
	binary.LittleEndian.PutUint32(dst[0:4], e.Inode)
	binary.LittleEndian.PutUint16(dst[4:6], e.RecLen)
	dst[6] = byte(len(e.Name))
	dst[7] = byte(e.FileType)
	copy(dst[dirEntryHeaderSize:], e.Name)
}

// Directory reads and writes the entry stream held in a directory
// inode's data blocks.
type Directory struct {
	d          device.Device[byte]
	sb         *Superblock
	number     uint32
	in         *Inode
	ib         *IndirectedBlocks
	inodeCache *Cache[uint32, *Inode]
	bgdCache   *Cache[uint32, *BlockGroupDescriptor]
}

// OpenDirectory loads the directory rooted at the given inode.
func OpenDirectory(d device.Device[byte], sb *Superblock, number uint32, in *Inode, inodeCache *Cache[uint32, *Inode], bgdCache *Cache[uint32, *BlockGroupDescriptor]) (*Directory, error) {
	if in.FileType() != FileTypeDir {
		return nil, &Error{Kind: NotDir}
	}
	ib, err := ParseIndirectedBlocks(d, sb, in)
	if err != nil {
		return nil, err
	}
	return &Directory{d: d, sb: sb, number: number, in: in, ib: ib, inodeCache: inodeCache, bgdCache: bgdCache}, nil
}

// Entries returns every live (non-deleted) entry in the directory, in
// on-disk order.
func (dir *Directory) Entries() ([]DirEntry, error) {
	blockSize := uint64(dir.sb.BlockSize())
	size := dir.in.Size()
	var out []DirEntry
	numBlocks := (size + blockSize - 1) / blockSize
	for bi := uint64(0); bi < numBlocks; bi++ {
		block, ok := dir.ib.BlockAtOffset(bi)
		if !ok || block == 0 {
			continue
		}
		raw, err := device.ReadSlice(dir.d, device.RangeOf(device.Address(uint64(block)*blockSize), blockSize))
		if err != nil {
			return nil, err
		}
		var off uint16
		for uint64(off) < blockSize {
			e, err := decodeDirEntry(raw[off:])
			if err != nil {
				break
			}
			if e.Inode != 0 {
				out = append(out, e)
			}
			if e.RecLen == 0 {
				break
			}
			off += e.RecLen
		}
	}
	return out, nil
}

// Lookup returns the entry named name, or a NoEnt error.
func (dir *Directory) Lookup(name string) (DirEntry, error) {
	entries, err := dir.Entries()
	if err != nil {
		return DirEntry{}, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e, nil
		}
	}
	return DirEntry{}, &Error{Kind: NoEnt, Path: name}
}

// tryInsertIntoBlock scans a single directory data block for a run of
// slack — an existing live entry's unused rec_len tail, or a fully
// free entry — big enough to hold a new entry, and splits it in
// place. Returns the modified block and true on success.
func tryInsertIntoBlock(raw []byte, needed uint16, inode uint32, ft FileType, name string) ([]byte, bool) {
	blockSize := uint64(len(raw))
	var off uint16
	for uint64(off) < blockSize {
		e, err := decodeDirEntry(raw[off:])
		if err != nil {
			break
		}
		used := minimalRecLen(len(e.Name))
		if e.Inode == 0 {
			used = 0
		}
		free := e.RecLen - used
		if free >= needed {
			newOff := off + used
			out := append([]byte(nil), raw...)
			if e.Inode != 0 {
				binary.LittleEndian.PutUint16(out[off+4:off+6], used)
			}
			encodeDirEntry(out[newOff:], DirEntry{Inode: inode, RecLen: free, FileType: ft, Name: name})
			return out, true
		}
		if e.RecLen == 0 {
			break
		}
		off += e.RecLen
	}
	return nil, false
}

// defragmentBlock repacks a directory data block's live entries
// tightly at the front, merging every entry's scattered internal
// slack into one trailing free run, and returns the repacked bytes
// along with the size of that run.
func defragmentBlock(raw []byte, blockSize uint64) ([]byte, uint16) {
	out := make([]byte, blockSize)
	var off, woff, last uint16
	for uint64(off) < blockSize {
		e, err := decodeDirEntry(raw[off:])
		if err != nil {
			break
		}
		if e.Inode != 0 {
			minimal := minimalRecLen(len(e.Name))
			encodeDirEntry(out[woff:], DirEntry{Inode: e.Inode, RecLen: minimal, FileType: e.FileType, Name: e.Name})
			last = woff
			woff += minimal
		}
		if e.RecLen == 0 {
			break
		}
		off += e.RecLen
	}
	trailing := u16(blockSize) - woff
	if trailing >= dirEntryHeaderSize {
		binary.LittleEndian.PutUint32(out[woff:woff+4], 0)
		binary.LittleEndian.PutUint16(out[woff+4:woff+6], trailing)
	} else if trailing > 0 && woff > 0 {
		// Too short for a free entry's header: the last live entry
		// absorbs it instead.
		binary.LittleEndian.PutUint16(out[last+4:last+6], woff-last+trailing)
	}
	return out, trailing
}

// AddEntry inserts a new entry. It first looks for an existing run of
// slack large enough as the blocks are currently laid out; failing
// that, it defragments each block in turn — consolidating that
// block's scattered internal slack into one run — and retries before
// finally falling back to appending a new block (allocated through
// alloc). This matches the policy of reclaiming existing slack before
// growing the directory.
func (dir *Directory) AddEntry(alloc *Allocator, name string, inode uint32, ft FileType) error {
	if _, err := dir.Lookup(name); err == nil {
		return &Error{Kind: EntryAlreadyExists, Path: name}
	}
	needed := minimalRecLen(len(name))
	blockSize := uint64(dir.sb.BlockSize())
	size := dir.in.Size()
	numBlocks := (size + blockSize - 1) / blockSize

	for bi := uint64(0); bi < numBlocks; bi++ {
		block, ok := dir.ib.BlockAtOffset(bi)
		if !ok || block == 0 {
			continue
		}
		addr := device.Address(uint64(block) * blockSize)
		raw, err := device.ReadSlice(dir.d, device.RangeOf(addr, blockSize))
		if err != nil {
			return err
		}
		if inserted, ok := tryInsertIntoBlock(raw, needed, inode, ft, name); ok {
			return device.WriteSlice(dir.d, device.RangeOf(addr, blockSize), func(dst []byte) { copy(dst, inserted) })
		}
	}

	for bi := uint64(0); bi < numBlocks; bi++ {
		block, ok := dir.ib.BlockAtOffset(bi)
		if !ok || block == 0 {
			continue
		}
		addr := device.Address(uint64(block) * blockSize)
		raw, err := device.ReadSlice(dir.d, device.RangeOf(addr, blockSize))
		if err != nil {
			return err
		}
		packed, trailing := defragmentBlock(raw, blockSize)
		if trailing < needed {
			continue
		}
		if inserted, ok := tryInsertIntoBlock(packed, needed, inode, ft, name); ok {
			return device.WriteSlice(dir.d, device.RangeOf(addr, blockSize), func(dst []byte) { copy(dst, inserted) })
		}
	}

	return dir.appendBlockWithEntry(alloc, inode, ft, name)
}

func (dir *Directory) appendBlockWithEntry(alloc *Allocator, inode uint32, ft FileType, name string) error {
	blockSize := uint64(dir.sb.BlockSize())
	blocks, err := alloc.AllocateBlocks(1)
	if err != nil {
		return err
	}
	full, diff := dir.ib.AppendBlocksWithDifference(blocks, nil)
	dir.ib = full
	dir.in.syncBlockPointers(dir.ib)
	if err := FlushDifference(dir.d, dir.sb, diff); err != nil {
		return err
	}
	block := blocks[0]
	buf := make([]byte, blockSize)
	encodeDirEntry(buf, DirEntry{Inode: inode, RecLen: u16(blockSize), FileType: ft, Name: name})
	if err := device.WriteSlice(dir.d, device.RangeOf(device.Address(uint64(block)*blockSize), blockSize), func(dst []byte) {
		copy(dst, buf)
	}); err != nil {
		return err
	}
	dir.in.SetSize(dir.in.Size() + blockSize)
	return WriteInode(dir.d, dir.sb, mustBGD(alloc, dir.sb, inodeBlockGroup(dir.sb, dir.number)), dir.number, dir.in, dir.inodeCache)
}

func mustBGD(alloc *Allocator, sb *Superblock, g uint32) *BlockGroupDescriptor {
	bgd, err := alloc.groupDescriptor(g)
	if err != nil {
		// group index was already validated by the caller's own inode
		// lookup; this can only fail if the superblock state is
		// corrupt, which the allocator would have already reported.
		return &BlockGroupDescriptor{}
	}
	return bgd
}

// RemoveEntry removes the entry named name, merging its space into the
// preceding entry in the same block (or zeroing it, if it is first).
func (dir *Directory) RemoveEntry(name string) error {
	if name == "." || name == ".." {
		return &Error{Kind: RemoveRefused, Path: name}
	}
	blockSize := uint64(dir.sb.BlockSize())
	size := dir.in.Size()
	numBlocks := (size + blockSize - 1) / blockSize
	for bi := uint64(0); bi < numBlocks; bi++ {
		block, ok := dir.ib.BlockAtOffset(bi)
		if !ok || block == 0 {
			continue
		}
		addr := device.Address(uint64(block) * blockSize)
		raw, err := device.ReadSlice(dir.d, device.RangeOf(addr, blockSize))
		if err != nil {
			return err
		}
		var off, prevOff uint16
		havePrev := false
		for uint64(off) < blockSize {
			e, err := decodeDirEntry(raw[off:])
			if err != nil {
				break
			}
			if e.Inode != 0 && e.Name == name {
				raw2 := append([]byte(nil), raw...)
				if havePrev {
					prevRecLen := binary.LittleEndian.Uint16(raw2[prevOff+4 : prevOff+6])
					binary.LittleEndian.PutUint16(raw2[prevOff+4:prevOff+6], prevRecLen+e.RecLen)
				} else {
					binary.LittleEndian.PutUint32(raw2[off:off+4], 0)
				}
				return device.WriteSlice(dir.d, device.RangeOf(addr, blockSize), func(dst []byte) { copy(dst, raw2) })
			}
			if e.RecLen == 0 {
				break
			}
			prevOff = off
			havePrev = true
			off += e.RecLen
		}
	}
	return &Error{Kind: NoEnt, Path: name}
}

// IsEmpty reports whether the directory holds only "." and "..".
func (dir *Directory) IsEmpty() (bool, error) {
	entries, err := dir.Entries()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Name != "." && e.Name != ".." {
			return false, nil
		}
	}
	return true, nil
}
