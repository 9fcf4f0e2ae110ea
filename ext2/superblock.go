package ext2

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/lihanrui2913/goext2/device"
)

// Superblock is the fixed-offset metadata header of the filesystem. It
// is parsed from the 1024 bytes at byte offset 1024 on the device,
// following the classic ext2 on-disk layout; extended fields are only
// meaningful when Revision is at least 1.
type Superblock struct {
	InodeCount        uint32
	BlockCount        uint32
	ReservedBlocks    uint32
	FreeBlocks        uint32
	FreeInodes        uint32
	FirstDataBlock    uint32
	LogBlockSize      uint32
	BlocksPerGroup    uint32
	InodesPerGroup    uint32
	Mtime             uint32
	Wtime             uint32
	MountCount        uint16
	MaxMountCount     uint16
	Magic             uint16
	State             uint16
	Errors            uint16
	MinorRevLevel     uint16
	LastCheck         uint32
	CheckInterval     uint32
	CreatorOS         uint32
	Revision          uint32
	DefResUID         uint16
	DefResGID         uint16

	// Extended fields, valid when Revision >= 1.
	FirstInode        uint32
	InodeSize         uint16
	BlockGroupNr      uint16
	FeatureCompat     uint32
	FeatureIncompat   uint32
	FeatureROCompat   uint32
	UUID              uuid.UUID
	VolumeName        [16]byte
}

// BlockSize is the device block size in bytes, derived from LogBlockSize.
func (sb *Superblock) BlockSize() uint32 {
	return 1024 << sb.LogBlockSize
}

// BlockGroupCount is the number of block groups in the filesystem.
func (sb *Superblock) BlockGroupCount() uint32 {
	if sb.BlocksPerGroup == 0 {
		return 0
	}
	n := sb.BlockCount - sb.FirstDataBlock
	return (n + sb.BlocksPerGroup - 1) / sb.BlocksPerGroup
}

// BlockGroupOf returns the group index owning block n.
func (sb *Superblock) BlockGroupOf(n uint32) uint32 {
	return (n - sb.FirstDataBlock) / sb.BlocksPerGroup
}

// GroupIndexOf returns n's index within its own block group.
func (sb *Superblock) GroupIndexOf(n uint32) uint32 {
	return (n - sb.FirstDataBlock) % sb.BlocksPerGroup
}

// InodesPerBlock is the number of inode records per block: 128-byte
// records, or the superblock's InodeSize when Revision is at least 1
// and InodeSize is set.
func (sb *Superblock) InodesPerBlock() uint32 {
	size := uint32(InodeSize)
	if sb.Revision >= 1 && sb.InodeSize != 0 {
		size = uint32(sb.InodeSize)
	}
	return sb.BlockSize() / size
}

const (
	featureIncompatFiletype = 0x0002
	requiredIncompatSupported = featureIncompatFiletype
)

// supportedROCompat and supportedCompat are left at zero: this
// implementation neither produces nor depends on sparse superblocks,
// large files, or any of the other optional compat/ro-compat bits.
const (
	supportedCompat   = 0
	supportedROCompat = 0
)

// ParseSuperblock reads and validates the superblock from d.
func ParseSuperblock(d device.Device[byte]) (*Superblock, error) {
	s, err := device.ReadSlice(d, device.RangeOf(device.Address(SuperblockOffset), SuperblockSize))
	if err != nil {
		return nil, err
	}
	return superblockFromBytes(s)
}

func superblockFromBytes(b []byte) (*Superblock, error) {
	sb := &Superblock{
		InodeCount:     binary.LittleEndian.Uint32(b[0x00:0x04]),
		BlockCount:     binary.LittleEndian.Uint32(b[0x04:0x08]),
		ReservedBlocks: binary.LittleEndian.Uint32(b[0x08:0x0c]),
		FreeBlocks:     binary.LittleEndian.Uint32(b[0x0c:0x10]),
		FreeInodes:     binary.LittleEndian.Uint32(b[0x10:0x14]),
		FirstDataBlock: binary.LittleEndian.Uint32(b[0x14:0x18]),
		LogBlockSize:   binary.LittleEndian.Uint32(b[0x18:0x1c]),
		BlocksPerGroup: binary.LittleEndian.Uint32(b[0x20:0x24]),
		InodesPerGroup: binary.LittleEndian.Uint32(b[0x28:0x2c]),
		Mtime:          binary.LittleEndian.Uint32(b[0x2c:0x30]),
		Wtime:          binary.LittleEndian.Uint32(b[0x30:0x34]),
		MountCount:     binary.LittleEndian.Uint16(b[0x34:0x36]),
		MaxMountCount:  binary.LittleEndian.Uint16(b[0x36:0x38]),
		Magic:          binary.LittleEndian.Uint16(b[0x38:0x3a]),
		State:          binary.LittleEndian.Uint16(b[0x3a:0x3c]),
		Errors:         binary.LittleEndian.Uint16(b[0x3c:0x3e]),
		MinorRevLevel:  binary.LittleEndian.Uint16(b[0x3e:0x40]),
		LastCheck:      binary.LittleEndian.Uint32(b[0x40:0x44]),
		CheckInterval:  binary.LittleEndian.Uint32(b[0x44:0x48]),
		CreatorOS:      binary.LittleEndian.Uint32(b[0x48:0x4c]),
		Revision:       binary.LittleEndian.Uint32(b[0x4c:0x50]),
		DefResUID:      binary.LittleEndian.Uint16(b[0x50:0x52]),
		DefResGID:      binary.LittleEndian.Uint16(b[0x52:0x54]),
	}
	if sb.Magic != Magic {
		return nil, &Error{Kind: BadMagic}
	}
	if sb.Revision >= 1 {
		sb.FirstInode = binary.LittleEndian.Uint32(b[0x54:0x58])
		sb.InodeSize = binary.LittleEndian.Uint16(b[0x58:0x5a])
		sb.BlockGroupNr = binary.LittleEndian.Uint16(b[0x5a:0x5c])
		sb.FeatureCompat = binary.LittleEndian.Uint32(b[0x5c:0x60])
		sb.FeatureIncompat = binary.LittleEndian.Uint32(b[0x60:0x64])
		sb.FeatureROCompat = binary.LittleEndian.Uint32(b[0x64:0x68])
		copy(sb.UUID[:], b[0x68:0x78])
		copy(sb.VolumeName[:], b[0x78:0x88])

		if sb.FeatureIncompat&^requiredIncompatSupported != 0 {
			return nil, &Error{Kind: UnsupportedFeature}
		}
		if sb.FeatureROCompat&^supportedROCompat != 0 {
			return nil, &Error{Kind: UnsupportedFeature}
		}
	} else {
		sb.FirstInode = FirstNonReservedInode
		sb.InodeSize = InodeSize
	}
	return sb, nil
}

func (sb *Superblock) toBytes() []byte {
	b := make([]byte, SuperblockSize)
	binary.LittleEndian.PutUint32(b[0x00:0x04], sb.InodeCount)
	binary.LittleEndian.PutUint32(b[0x04:0x08], sb.BlockCount)
	binary.LittleEndian.PutUint32(b[0x08:0x0c], sb.ReservedBlocks)
	binary.LittleEndian.PutUint32(b[0x0c:0x10], sb.FreeBlocks)
	binary.LittleEndian.PutUint32(b[0x10:0x14], sb.FreeInodes)
	binary.LittleEndian.PutUint32(b[0x14:0x18], sb.FirstDataBlock)
	binary.LittleEndian.PutUint32(b[0x18:0x1c], sb.LogBlockSize)
	binary.LittleEndian.PutUint32(b[0x20:0x24], sb.BlocksPerGroup)
	binary.LittleEndian.PutUint32(b[0x28:0x2c], sb.InodesPerGroup)
	binary.LittleEndian.PutUint32(b[0x2c:0x30], sb.Mtime)
	binary.LittleEndian.PutUint32(b[0x30:0x34], sb.Wtime)
	binary.LittleEndian.PutUint16(b[0x34:0x36], sb.MountCount)
	binary.LittleEndian.PutUint16(b[0x36:0x38], sb.MaxMountCount)
	binary.LittleEndian.PutUint16(b[0x38:0x3a], sb.Magic)
	binary.LittleEndian.PutUint16(b[0x3a:0x3c], sb.State)
	binary.LittleEndian.PutUint16(b[0x3c:0x3e], sb.Errors)
	binary.LittleEndian.PutUint16(b[0x3e:0x40], sb.MinorRevLevel)
	binary.LittleEndian.PutUint32(b[0x40:0x44], sb.LastCheck)
	binary.LittleEndian.PutUint32(b[0x44:0x48], sb.CheckInterval)
	binary.LittleEndian.PutUint32(b[0x48:0x4c], sb.CreatorOS)
	binary.LittleEndian.PutUint32(b[0x4c:0x50], sb.Revision)
	binary.LittleEndian.PutUint16(b[0x50:0x52], sb.DefResUID)
	binary.LittleEndian.PutUint16(b[0x52:0x54], sb.DefResGID)
	if sb.Revision >= 1 {
		binary.LittleEndian.PutUint32(b[0x54:0x58], sb.FirstInode)
		binary.LittleEndian.PutUint16(b[0x58:0x5a], sb.InodeSize)
		binary.LittleEndian.PutUint16(b[0x5a:0x5c], sb.BlockGroupNr)
		binary.LittleEndian.PutUint32(b[0x5c:0x60], sb.FeatureCompat)
		binary.LittleEndian.PutUint32(b[0x60:0x64], sb.FeatureIncompat)
		binary.LittleEndian.PutUint32(b[0x64:0x68], sb.FeatureROCompat)
		copy(b[0x68:0x78], sb.UUID[:])
		copy(b[0x78:0x88], sb.VolumeName[:])
	}
	return b
}

// WriteSuperblock persists sb to d.
func WriteSuperblock(d device.Device[byte], sb *Superblock) error {
	return device.WriteSlice(d, device.RangeOf(device.Address(SuperblockOffset), SuperblockSize), func(dst []byte) {
		copy(dst, sb.toBytes())
	})
}
