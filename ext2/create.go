package ext2

import (
	"time"

	"github.com/google/uuid"
	"github.com/lihanrui2913/goext2/device"
	"github.com/sirupsen/logrus"
)

// CreateParams configures formatting a blank device as a fresh ext2
// filesystem.
type CreateParams struct {
	// VolumeLabel is copied, truncated to 16 bytes, into the
	// superblock's volume name field.
	VolumeLabel string
	// UUID identifies the filesystem; a random one is generated via
	// uuid.NewRandom when left as uuid.Nil.
	UUID uuid.UUID
	// BlockSize defaults to 1024 bytes when zero.
	BlockSize uint32
	// InodeRatio is the target number of bytes per inode; defaults to
	// 4096 when zero, matching the classic mke2fs default for small
	// filesystems.
	InodeRatio uint32
	// ReservedBlocksPercent defaults to 5 when zero.
	ReservedBlocksPercent float64
	// Now overrides the wall clock used to stamp the superblock and
	// root inode. Defaults to time.Now.
	Now func() time.Time
	// Logger defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger
	// CacheEnabled mirrors Params.CacheEnabled for the filesystem
	// handle Create returns.
	CacheEnabled bool
}

func log2Of(x uint32) uint32 {
	n := uint32(0)
	for x > 1 {
		x >>= 1
		n++
	}
	return n
}

func ceilDiv32(a, b uint32) uint32 { return (a + b - 1) / b }

// Create formats d as a fresh, single-volume ext2 filesystem: it lays
// out the superblock, block group descriptor table, per-group bitmaps
// and inode tables, then creates the root directory, and returns a
// mounted handle over the result. Every group after the first carries
// only bitmaps and an inode table (no superblock/GDT backup copy) —
// resilience against a corrupt primary superblock is out of scope.
func Create(d device.Device[byte], p CreateParams) (*Ext2Fs, error) {
	blockSize := p.BlockSize
	if blockSize == 0 {
		blockSize = 1024
	}
	size := uint64(d.Size())
	totalBlocks := u32(size / uint64(blockSize))
	if totalBlocks < 16 {
		return nil, &Error{Kind: InvalidState}
	}

	firstDataBlock := uint32(1)
	if blockSize > 1024 {
		firstDataBlock = 0
	}
	usableBlocks := totalBlocks - firstDataBlock
	blocksPerGroup := blockSize * 8
	blockGroupCount := ceilDiv32(usableBlocks, blocksPerGroup)

	inodeRatio := p.InodeRatio
	if inodeRatio == 0 {
		inodeRatio = 4096
	}
	totalInodesDesired := u32(size / uint64(inodeRatio))
	if totalInodesDesired == 0 {
		totalInodesDesired = blockGroupCount
	}
	inodesPerGroup := ceilDiv32(totalInodesDesired, blockGroupCount)
	maxInodesPerGroup := blockSize * 8
	if inodesPerGroup > maxInodesPerGroup {
		inodesPerGroup = maxInodesPerGroup
	}
	if inodesPerGroup < 8 {
		inodesPerGroup = 8
	}
	inodeTableBlocksPerGroup := ceilDiv32(inodesPerGroup*uint32(InodeSize), blockSize)
	gdtBlocks := ceilDiv32(blockGroupCount*BlockGroupDescriptorSize, blockSize)
	if gdtBlocks == 0 {
		gdtBlocks = 1
	}

	reservedPercent := p.ReservedBlocksPercent
	if reservedPercent == 0 {
		reservedPercent = 5
	}
	reservedBlocks := u32(uint64(float64(totalBlocks) * reservedPercent / 100))

	now := p.Now
	if now == nil {
		now = time.Now
	}
	nowT := now()

	uuidVal := p.UUID
	if uuidVal == uuid.Nil {
		if generated, err := uuid.NewRandom(); err == nil {
			uuidVal = generated
		}
	}

	sb := &Superblock{
		InodeCount:      inodesPerGroup * blockGroupCount,
		BlockCount:      totalBlocks,
		ReservedBlocks:  reservedBlocks,
		FirstDataBlock:  firstDataBlock,
		LogBlockSize:    log2Of(blockSize / 1024),
		BlocksPerGroup:  blocksPerGroup,
		InodesPerGroup:  inodesPerGroup,
		Mtime:           u32(uint64(nowT.Unix())),
		Wtime:           u32(uint64(nowT.Unix())),
		MaxMountCount:   20,
		Magic:           Magic,
		State:           1,
		Errors:          1,
		Revision:        1,
		FirstInode:      FirstNonReservedInode,
		InodeSize:       u16(uint64(InodeSize)),
		FeatureIncompat: featureIncompatFiletype,
		UUID:            uuidVal,
	}
	copy(sb.VolumeName[:], p.VolumeLabel)

	bgdCache := NewCache[uint32, *BlockGroupDescriptor](p.CacheEnabled)
	inodeCache := NewCache[uint32, *Inode](p.CacheEnabled)
	alloc := NewAllocator(d, sb, bgdCache)

	var totalFreeBlocks, totalFreeInodes uint32
	for g := uint32(0); g < blockGroupCount; g++ {
		groupStart := firstDataBlock + g*blocksPerGroup
		cursor := groupStart
		if g == 0 {
			cursor += 1 + gdtBlocks
		}
		blockBitmapBlock := cursor
		cursor++
		inodeBitmapBlock := cursor
		cursor++
		inodeTableBlock := cursor
		cursor += inodeTableBlocksPerGroup
		dataStart := cursor

		groupBlockCount := alloc.blocksInGroup(g)
		bm := NewBitmap(int(groupBlockCount))
		for i := uint32(0); i < dataStart-groupStart && i < groupBlockCount; i++ {
			if err := bm.Set(int(i)); err != nil {
				return nil, err
			}
		}
		if err := alloc.writeBitmap(blockBitmapBlock, bm); err != nil {
			return nil, err
		}
		freeBlocksInGroup := u32(uint64(bm.CountFree()))

		ibm := NewBitmap(int(inodesPerGroup))
		if g == 0 {
			for i := uint32(0); i < FirstNonReservedInode-1; i++ {
				if err := ibm.Set(int(i)); err != nil {
					return nil, err
				}
			}
		}
		if err := alloc.writeBitmap(inodeBitmapBlock, ibm); err != nil {
			return nil, err
		}
		freeInodesInGroup := u32(uint64(ibm.CountFree()))

		zero := make([]byte, uint64(inodeTableBlocksPerGroup)*uint64(blockSize))
		if err := device.WriteSlice(d, device.RangeOf(device.Address(uint64(inodeTableBlock)*uint64(blockSize)), uint64(len(zero))), func(dst []byte) {
			copy(dst, zero)
		}); err != nil {
			return nil, err
		}

		bgd := &BlockGroupDescriptor{
			BlockBitmap:     blockBitmapBlock,
			InodeBitmap:     inodeBitmapBlock,
			InodeTable:      inodeTableBlock,
			FreeBlocksCount: u16(uint64(freeBlocksInGroup)),
			FreeInodesCount: u16(uint64(freeInodesInGroup)),
		}
		if err := WriteBlockGroupDescriptor(d, sb, g, bgd, bgdCache); err != nil {
			return nil, err
		}
		totalFreeBlocks += freeBlocksInGroup
		totalFreeInodes += freeInodesInGroup
	}

	sb.FreeBlocks = totalFreeBlocks
	sb.FreeInodes = totalFreeInodes
	if err := WriteSuperblock(d, sb); err != nil {
		return nil, err
	}

	logger := p.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	fs := &Ext2Fs{d: d, sb: sb, inodeCache: inodeCache, bgdCache: bgdCache, alloc: alloc, logger: logger, now: now}

	rootIn := &Inode{}
	rootIn.SetFileType(FileTypeDir)
	rootIn.Mode |= 0o755
	rootIn.LinksCount = 2
	rootIn.Touch(nowT)
	if err := fs.writeInode(RootInode, rootIn); err != nil {
		return nil, err
	}
	rootDir, err := fs.openDir(RootInode, rootIn)
	if err != nil {
		return nil, err
	}
	if err := rootDir.AddEntry(fs.alloc, ".", RootInode, FileTypeDir); err != nil {
		return nil, err
	}
	if err := rootDir.AddEntry(fs.alloc, "..", RootInode, FileTypeDir); err != nil {
		return nil, err
	}

	bgd0, err := alloc.groupDescriptor(0)
	if err != nil {
		return nil, err
	}
	bgd0.UsedDirsCount++
	if err := alloc.writeGroupDescriptor(0, bgd0); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"blocks":       sb.BlockCount,
		"inodes":       sb.InodeCount,
		"block_groups": blockGroupCount,
		"uuid":         uuidVal.String(),
	}).Info("ext2: formatted")
	return fs, nil
}
