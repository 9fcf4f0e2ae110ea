package ext2

import (
	"encoding/binary"
	"time"

	"github.com/lihanrui2913/goext2/device"
)

// FileType enumerates the directory-entry file_type byte and the top
// bits of an inode's mode field.
type FileType uint8

const (
	FileTypeUnknown FileType = 0
	FileTypeRegular FileType = 1
	FileTypeDir     FileType = 2
	FileTypeCharDev FileType = 3
	FileTypeBlockDev FileType = 4
	FileTypeFifo    FileType = 5
	FileTypeSocket  FileType = 6
	FileTypeSymlink FileType = 7
)

// mode format bits, top nibble of i_mode, POSIX-compatible with the
// classic ext2 on-disk format (same encoding the kernel and e2fsprogs
// use).
const (
	modeFormatMask   = 0xF000
	modeFormatFIFO   = 0x1000
	modeFormatChar   = 0x2000
	modeFormatDir    = 0x4000
	modeFormatBlock  = 0x6000
	modeFormatRegular = 0x8000
	modeFormatSymlink = 0xA000
	modeFormatSocket  = 0xC000
)

func fileTypeFromMode(mode uint16) FileType {
	switch mode & modeFormatMask {
	case modeFormatFIFO:
		return FileTypeFifo
	case modeFormatChar:
		return FileTypeCharDev
	case modeFormatDir:
		return FileTypeDir
	case modeFormatBlock:
		return FileTypeBlockDev
	case modeFormatRegular:
		return FileTypeRegular
	case modeFormatSymlink:
		return FileTypeSymlink
	case modeFormatSocket:
		return FileTypeSocket
	default:
		return FileTypeUnknown
	}
}

func modeFormatOf(ft FileType) uint16 {
	switch ft {
	case FileTypeFifo:
		return modeFormatFIFO
	case FileTypeCharDev:
		return modeFormatChar
	case FileTypeDir:
		return modeFormatDir
	case FileTypeBlockDev:
		return modeFormatBlock
	case FileTypeRegular:
		return modeFormatRegular
	case FileTypeSymlink:
		return modeFormatSymlink
	case FileTypeSocket:
		return modeFormatSocket
	default:
		return 0
	}
}

// Inode is the classic 128-byte ext2 inode: metadata plus the 15 block
// pointers (12 direct, 1 singly, 1 doubly, 1 triply indirected) that
// the IndirectedBlocks structure interprets.
type Inode struct {
	Mode        uint16
	UID         uint16
	SizeLow     uint32
	Atime       uint32
	Ctime       uint32
	Mtime       uint32
	Dtime       uint32
	GID         uint16
	LinksCount  uint16
	Blocks      uint32 // 512-byte sectors, matching the on-disk unit
	Flags       uint32
	Block       [15]uint32
	Generation  uint32
	FileACL     uint32
	SizeHigh    uint32
	FAddr       uint32
}

// FileType reports the type encoded in the top bits of Mode.
func (i *Inode) FileType() FileType {
	return fileTypeFromMode(i.Mode)
}

// SetFileType rewrites the mode's format bits, leaving permission bits
// untouched.
func (i *Inode) SetFileType(ft FileType) {
	i.Mode = (i.Mode &^ modeFormatMask) | modeFormatOf(ft)
}

// Size is the logical file size in bytes. SizeHigh supplies the upper
// 32 bits for regular files only; for every other type Size is
// SizeLow alone.
func (i *Inode) Size() uint64 {
	if i.FileType() == FileTypeRegular {
		return uint64(i.SizeHigh)<<32 | uint64(i.SizeLow)
	}
	return uint64(i.SizeLow)
}

// SetSize stores sz, splitting it across SizeLow/SizeHigh when needed.
func (i *Inode) SetSize(sz uint64) {
	i.SizeLow = u32(sz & 0xFFFFFFFF)
	i.SizeHigh = u32(sz >> 32)
}

// AccessTime, ChangeTime and ModifyTime convert the
// on-disk 32-bit Unix timestamps to time.Time.
func (i *Inode) AccessTime() time.Time { return time.Unix(int64(i.Atime), 0) }
func (i *Inode) ChangeTime() time.Time { return time.Unix(int64(i.Ctime), 0) }
func (i *Inode) ModifyTime() time.Time { return time.Unix(int64(i.Mtime), 0) }

// Touch stamps atime/mtime/ctime to now.
func (i *Inode) Touch(now time.Time) {
	t := u32(uint64(now.Unix()))
	i.Atime = t
	i.Mtime = t
	i.Ctime = t
}

// DirectBlocks returns the 12 direct block pointers.
func (i *Inode) DirectBlocks() []uint32 {
	return i.Block[0:DirectBlockCount]
}

// SinglyIndirect, DoublyIndirect and TriplyIndirect return the
// respective indirection root pointers.
func (i *Inode) SinglyIndirect() uint32 { return i.Block[12] }
func (i *Inode) DoublyIndirect() uint32 { return i.Block[13] }
func (i *Inode) TriplyIndirect() uint32 { return i.Block[14] }

func (i *Inode) SetSinglyIndirect(b uint32) { i.Block[12] = b }
func (i *Inode) SetDoublyIndirect(b uint32) { i.Block[13] = b }
func (i *Inode) SetTriplyIndirect(b uint32) { i.Block[14] = b }

// syncBlockPointers overwrites the inode's direct and indirection
// root pointers from ib's current tree shape, so a grown or shrunk
// IndirectedBlocks is actually reflected on disk rather than only
// held in memory.
func (i *Inode) syncBlockPointers(ib *IndirectedBlocks) {
	for idx := range i.Block[:DirectBlockCount] {
		i.Block[idx] = 0
	}
	copy(i.Block[:DirectBlockCount], ib.Direct)
	i.SetSinglyIndirect(ib.Simple.Root)
	i.SetDoublyIndirect(ib.Double.Root)
	i.SetTriplyIndirect(ib.Triple.Root)
}

func addrOfInode(sb *Superblock, bgd *BlockGroupDescriptor, index uint32) device.Address {
	tableOffset := uint64(index) * uint64(sb.InodeSize)
	if sb.InodeSize == 0 {
		tableOffset = uint64(index) * InodeSize
	}
	base := uint64(bgd.InodeTable) * uint64(sb.BlockSize())
	return device.Address(base + tableOffset)
}

// inodeIndexInGroup converts a 1-based, filesystem-wide inode number
// into its 0-based index within the inode table of its own group.
func inodeIndexInGroup(sb *Superblock, number uint32) uint32 {
	return (number - 1) % sb.InodesPerGroup
}

// inodeBlockGroup returns the group owning inode number.
func inodeBlockGroup(sb *Superblock, number uint32) uint32 {
	return (number - 1) / sb.InodesPerGroup
}

// ParseInode reads inode number (1-based) from the device.
func ParseInode(d device.Device[byte], sb *Superblock, bgd *BlockGroupDescriptor, number uint32, cache *Cache[uint32, *Inode]) (*Inode, error) {
	if cache != nil {
		if in, ok := cache.Get(number); ok {
			return in, nil
		}
	}
	addr := addrOfInode(sb, bgd, inodeIndexInGroup(sb, number))
	b, err := device.ReadSlice(d, device.RangeOf(addr, InodeSize))
	if err != nil {
		return nil, err
	}
	in := inodeFromBytes(b)
	if cache != nil {
		cache.Put(number, in)
	}
	return in, nil
}

func inodeFromBytes(b []byte) *Inode {
	in := &Inode{
		Mode:       binary.LittleEndian.Uint16(b[0x00:0x02]),
		UID:        binary.LittleEndian.Uint16(b[0x02:0x04]),
		SizeLow:    binary.LittleEndian.Uint32(b[0x04:0x08]),
		Atime:      binary.LittleEndian.Uint32(b[0x08:0x0c]),
		Ctime:      binary.LittleEndian.Uint32(b[0x0c:0x10]),
		Mtime:      binary.LittleEndian.Uint32(b[0x10:0x14]),
		Dtime:      binary.LittleEndian.Uint32(b[0x14:0x18]),
		GID:        binary.LittleEndian.Uint16(b[0x18:0x1a]),
		LinksCount: binary.LittleEndian.Uint16(b[0x1a:0x1c]),
		Blocks:     binary.LittleEndian.Uint32(b[0x1c:0x20]),
		Flags:      binary.LittleEndian.Uint32(b[0x20:0x24]),
		Generation: binary.LittleEndian.Uint32(b[0x64:0x68]),
		FileACL:    binary.LittleEndian.Uint32(b[0x68:0x6c]),
		SizeHigh:   binary.LittleEndian.Uint32(b[0x6c:0x70]),
		FAddr:      binary.LittleEndian.Uint32(b[0x70:0x74]),
	}
	for idx := 0; idx < 15; idx++ {
		off := 0x28 + idx*4
		in.Block[idx] = binary.LittleEndian.Uint32(b[off : off+4])
	}
	return in
}

func (i *Inode) toBytes() []byte {
	b := make([]byte, InodeSize)
	binary.LittleEndian.PutUint16(b[0x00:0x02], i.Mode)
	binary.LittleEndian.PutUint16(b[0x02:0x04], i.UID)
	binary.LittleEndian.PutUint32(b[0x04:0x08], i.SizeLow)
	binary.LittleEndian.PutUint32(b[0x08:0x0c], i.Atime)
	binary.LittleEndian.PutUint32(b[0x0c:0x10], i.Ctime)
	binary.LittleEndian.PutUint32(b[0x10:0x14], i.Mtime)
	binary.LittleEndian.PutUint32(b[0x14:0x18], i.Dtime)
	binary.LittleEndian.PutUint16(b[0x18:0x1a], i.GID)
	binary.LittleEndian.PutUint16(b[0x1a:0x1c], i.LinksCount)
	binary.LittleEndian.PutUint32(b[0x1c:0x20], i.Blocks)
	binary.LittleEndian.PutUint32(b[0x20:0x24], i.Flags)
	binary.LittleEndian.PutUint32(b[0x64:0x68], i.Generation)
	binary.LittleEndian.PutUint32(b[0x68:0x6c], i.FileACL)
	binary.LittleEndian.PutUint32(b[0x6c:0x70], i.SizeHigh)
	binary.LittleEndian.PutUint32(b[0x70:0x74], i.FAddr)
	for idx := 0; idx < 15; idx++ {
		off := 0x28 + idx*4
		binary.LittleEndian.PutUint32(b[off:off+4], i.Block[idx])
	}
	return b
}

// WriteInode persists number to the device and updates cache, if any.
func WriteInode(d device.Device[byte], sb *Superblock, bgd *BlockGroupDescriptor, number uint32, in *Inode, cache *Cache[uint32, *Inode]) error {
	addr := addrOfInode(sb, bgd, inodeIndexInGroup(sb, number))
	if err := device.WriteSlice(d, device.RangeOf(addr, InodeSize), func(dst []byte) {
		copy(dst, in.toBytes())
	}); err != nil {
		return err
	}
	if cache != nil {
		cache.Put(number, in)
	}
	return nil
}
