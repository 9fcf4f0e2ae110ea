// Package ext2 implements the on-disk ext2 filesystem: superblock and
// block group layout, the inode and indirected-block data structures,
// directories, symbolic links, block/inode allocation, and pathname
// resolution, all built on top of the device package's byte-addressable
// Device abstraction.
package ext2

import "fmt"

const (
	// SuperblockOffset is the fixed byte offset of the superblock from
	// the start of the volume, regardless of block size.
	SuperblockOffset = 1024
	// SuperblockSize is the on-disk size of the superblock structure.
	SuperblockSize = 1024
	// Magic is the expected value of Superblock.Magic.
	Magic uint16 = 0xEF53

	// BlockGroupDescriptorSize is the on-disk size of one
	// BlockGroupDescriptor record.
	BlockGroupDescriptorSize = 32

	// InodeSize is the on-disk size of one classic (128 byte) inode
	// record; larger inode sizes are read from the superblock but this
	// implementation always creates 128 byte inodes.
	InodeSize = 128

	// RootInode is the reserved inode number of the filesystem root
	// directory.
	RootInode = 2

	// FirstNonReservedInode is the lowest inode number available for
	// allocation to user files on a filesystem without a dynamic
	// first-inode override in the superblock.
	FirstNonReservedInode = 11

	// DirectBlockCount is the number of direct block pointers carried
	// in every inode, before the singly/doubly/triply indirected
	// pointers.
	DirectBlockCount = 12

	// MinimalFileAllocation is the minimum number of bytes' worth of
	// data blocks reserved the first time a regular file is written to, to reduce
	// fragmentation for small files that grow incrementally.
	MinimalFileAllocation = 8 * 1024

	// PathMax is the maximum accepted length, in bytes, of a resolved
	// pathname.
	PathMax = 4096

	// SymlinkInlineMax is the largest symlink target that is stored
	// directly in the inode's block-pointer area instead of a data
	// block.
	SymlinkInlineMax = 60

	// MaxSymlinkHops bounds pathname resolution against symlink loops.
	MaxSymlinkHops = 40
)

// u32 narrows a uint64 to uint32, panicking rather than silently
// truncating if the value does not fit. The ext2 on-disk format is
// strictly 32-bit; every quantity that crosses that boundary must be
// checked, not truncated.
func u32(v uint64) uint32 {
	if v > 0xFFFFFFFF {
		panic(fmt.Sprintf("ext2: value %d does not fit in 32 bits", v))
	}
	return uint32(v)
}

// u16 narrows a uint64 to uint16, panicking on overflow.
func u16(v uint64) uint16 {
	if v > 0xFFFF {
		panic(fmt.Sprintf("ext2: value %d does not fit in 16 bits", v))
	}
	return uint16(v)
}

// checkedAdd32 adds b to a, returning an error instead of silently
// wrapping if the result would overflow a uint32.
func checkedAdd32(a, b uint32) (uint32, error) {
	sum := uint64(a) + uint64(b)
	if sum > 0xFFFFFFFF {
		return 0, &Error{Kind: FileTooLarge}
	}
	return uint32(sum), nil
}
