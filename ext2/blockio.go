package ext2

import (
	"io"

	"github.com/lihanrui2913/goext2/device"
)

// BlockCursor reads and writes a file's already-allocated data blocks
// as a flat byte stream, translating logical byte offsets into
// (block, offset-within-block) pairs through an IndirectedBlocks tree.
// It never allocates; growing a file past its current block count is
// Regular's job (see file.go), which appends new blocks through the
// allocator and then hands the grown tree back to a cursor.
type BlockCursor struct {
	d    device.Device[byte]
	sb   *Superblock
	ib   *IndirectedBlocks
	size uint64
	pos  uint64
}

// NewBlockCursor builds a cursor over ib, bounded to size logical
// bytes (the file's current length — may be less than
// ib.DataBlockCount()*blockSize, since the last block is only
// partially used).
func NewBlockCursor(d device.Device[byte], sb *Superblock, ib *IndirectedBlocks, size uint64) *BlockCursor {
	return &BlockCursor{d: d, sb: sb, ib: ib, size: size}
}

// Seek repositions the cursor, following io.Seeker semantics.
func (c *BlockCursor) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = int64(c.pos)
	case io.SeekEnd:
		base = int64(c.size)
	default:
		return 0, &Error{Kind: InvalidState}
	}
	newPos := base + offset
	if newPos < 0 {
		return 0, &Error{Kind: OutOfBounds, Structure: "cursor", Value: uint64(newPos)}
	}
	c.pos = uint64(newPos)
	return newPos, nil
}

// Read fills p from the current position, following io.Reader
// semantics (short reads at end-of-file return io.EOF once no bytes at
// all are available).
func (c *BlockCursor) Read(p []byte) (int, error) {
	if c.pos >= c.size {
		return 0, io.EOF
	}
	blockSize := uint64(c.sb.BlockSize())
	total := 0
	for total < len(p) && c.pos < c.size {
		blockIndex := c.pos / blockSize
		inBlock := c.pos % blockSize
		block, ok := c.ib.BlockAtOffset(blockIndex)
		n := blockSize - inBlock
		if remaining := c.size - c.pos; n > remaining {
			n = remaining
		}
		if want := uint64(len(p) - total); n > want {
			n = want
		}
		dst := p[total : total+int(n)]
		if !ok || block == 0 {
			for i := range dst {
				dst[i] = 0
			}
		} else {
			addr := device.Address(uint64(block)*blockSize + inBlock)
			raw, err := device.ReadSlice(c.d, device.RangeOf(addr, n))
			if err != nil {
				return total, err
			}
			copy(dst, raw)
		}
		total += int(n)
		c.pos += n
	}
	return total, nil
}

// WriteAt overwrites bytes already covered by allocated blocks,
// starting at byte offset off; it never extends the tree. Callers
// writing past the current allocation must grow it first through
// Regular.grow, then call WriteAt again.
func (c *BlockCursor) WriteAt(p []byte, off uint64) error {
	blockSize := uint64(c.sb.BlockSize())
	pos := off
	total := 0
	for total < len(p) {
		blockIndex := pos / blockSize
		inBlock := pos % blockSize
		block, ok := c.ib.BlockAtOffset(blockIndex)
		if !ok || block == 0 {
			return &Error{Kind: NonExistingBlock, Value: blockIndex}
		}
		n := blockSize - inBlock
		if want := uint64(len(p) - total); n > want {
			n = want
		}
		addr := device.Address(uint64(block)*blockSize + inBlock)
		chunk := p[total : total+int(n)]
		if err := device.WriteSlice(c.d, device.RangeOf(addr, n), func(dst []byte) {
			copy(dst, chunk)
		}); err != nil {
			return err
		}
		total += int(n)
		pos += n
	}
	return nil
}

// Pos returns the current byte position.
func (c *BlockCursor) Pos() uint64 {
	return c.pos
}
