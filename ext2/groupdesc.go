package ext2

import (
	"encoding/binary"

	"github.com/lihanrui2913/goext2/device"
)

// BlockGroupDescriptor locates one block group's bitmaps and inode
// table, plus its free/used counters.
type BlockGroupDescriptor struct {
	BlockBitmap     uint32
	InodeBitmap     uint32
	InodeTable      uint32
	FreeBlocksCount uint16
	FreeInodesCount uint16
	UsedDirsCount   uint16
	Pad             uint16
}

// startingAddr returns the byte offset of the n-th descriptor, and
// NonExistingBlockGroup if n is out of range.
func startingAddr(sb *Superblock, n uint32) (device.Address, error) {
	if n >= sb.BlockGroupCount() {
		return 0, &Error{Kind: NonExistingBlockGroup, Value: uint64(n), Lower: 0, Upper: uint64(sb.BlockGroupCount())}
	}
	base := uint64(SuperblockOffset) + uint64(SuperblockSize)
	return device.Address(base + uint64(n)*BlockGroupDescriptorSize), nil
}

// ParseBlockGroupDescriptor reads descriptor n, consulting cache first
// if one is provided.
func ParseBlockGroupDescriptor(d device.Device[byte], sb *Superblock, n uint32, cache *Cache[uint32, *BlockGroupDescriptor]) (*BlockGroupDescriptor, error) {
	if cache != nil {
		if bgd, ok := cache.Get(n); ok {
			return bgd, nil
		}
	}
	addr, err := startingAddr(sb, n)
	if err != nil {
		return nil, err
	}
	b, err := device.ReadSlice(d, device.RangeOf(addr, BlockGroupDescriptorSize))
	if err != nil {
		return nil, err
	}
	bgd := blockGroupDescriptorFromBytes(b)
	if cache != nil {
		cache.Put(n, bgd)
	}
	return bgd, nil
}

func blockGroupDescriptorFromBytes(b []byte) *BlockGroupDescriptor {
	return &BlockGroupDescriptor{
		BlockBitmap:     binary.LittleEndian.Uint32(b[0x00:0x04]),
		InodeBitmap:     binary.LittleEndian.Uint32(b[0x04:0x08]),
		InodeTable:      binary.LittleEndian.Uint32(b[0x08:0x0c]),
		FreeBlocksCount: binary.LittleEndian.Uint16(b[0x0c:0x0e]),
		FreeInodesCount: binary.LittleEndian.Uint16(b[0x0e:0x10]),
		UsedDirsCount:   binary.LittleEndian.Uint16(b[0x10:0x12]),
		Pad:             binary.LittleEndian.Uint16(b[0x12:0x14]),
	}
}

func (bgd *BlockGroupDescriptor) toBytes() []byte {
	b := make([]byte, BlockGroupDescriptorSize)
	binary.LittleEndian.PutUint32(b[0x00:0x04], bgd.BlockBitmap)
	binary.LittleEndian.PutUint32(b[0x04:0x08], bgd.InodeBitmap)
	binary.LittleEndian.PutUint32(b[0x08:0x0c], bgd.InodeTable)
	binary.LittleEndian.PutUint16(b[0x0c:0x0e], bgd.FreeBlocksCount)
	binary.LittleEndian.PutUint16(b[0x0e:0x10], bgd.FreeInodesCount)
	binary.LittleEndian.PutUint16(b[0x10:0x12], bgd.UsedDirsCount)
	binary.LittleEndian.PutUint16(b[0x12:0x14], bgd.Pad)
	return b
}

// WriteBlockGroupDescriptor persists descriptor n and updates the
// cache, if any.
func WriteBlockGroupDescriptor(d device.Device[byte], sb *Superblock, n uint32, bgd *BlockGroupDescriptor, cache *Cache[uint32, *BlockGroupDescriptor]) error {
	addr, err := startingAddr(sb, n)
	if err != nil {
		return err
	}
	if err := device.WriteSlice(d, device.RangeOf(addr, BlockGroupDescriptorSize), func(dst []byte) {
		copy(dst, bgd.toBytes())
	}); err != nil {
		return err
	}
	if cache != nil {
		cache.Put(n, bgd)
	}
	return nil
}
