package ext2

import (
	"encoding/binary"

	"github.com/lihanrui2913/goext2/device"
)

// Indirection names one of the four classes of data block addressing
// an inode uses: directly listed in the inode, or reached through one,
// two, or three levels of indirection blocks.
type Indirection int

const (
	IndirectDirect Indirection = iota
	IndirectSimple
	IndirectDouble
	IndirectTriple
)

// SimpleIndirection is one singly-indirected pointer block: Root is its
// own block number, Leaves are the data block numbers it lists.
type SimpleIndirection struct {
	Root   uint32
	Leaves []uint32
}

// DoubleIndirection is a doubly-indirected pointer block: Root is its
// own block number, Children are the SimpleIndirections it points to.
type DoubleIndirection struct {
	Root     uint32
	Children []SimpleIndirection
}

// TripleIndirection is a triply-indirected pointer block.
type TripleIndirection struct {
	Root     uint32
	Children []DoubleIndirection
}

// IndirectedBlocks is the full data-block addressing structure rooted
// at one inode: up to DirectBlockCount direct pointers, plus the
// singly/doubly/triply indirected trees. bpi (blocks per indirection) is the
// device block size divided by 4 (the size of one block-number pointer).
type IndirectedBlocks struct {
	bpi    uint32
	Direct []uint32
	Simple SimpleIndirection
	Double DoubleIndirection
	Triple TripleIndirection
}

// NewIndirectedBlocks builds an empty structure for a device whose
// block size implies bpi pointers per indirection block.
func NewIndirectedBlocks(bpi uint32) *IndirectedBlocks {
	return &IndirectedBlocks{bpi: bpi}
}

// BlocksPerIndirection returns how many block-number pointers fit in
// one indirection block.
func (ib *IndirectedBlocks) BlocksPerIndirection() uint32 {
	return ib.bpi
}

// boundaries returns the cumulative data-block-offset boundaries at
// which the direct, simple, double and triple ranges end.
func (ib *IndirectedBlocks) boundaries() (b1, b2, b3, b4 uint64) {
	bpi := uint64(ib.bpi)
	b1 = DirectBlockCount
	b2 = b1 + bpi
	b3 = b2 + bpi*bpi
	b4 = b3 + bpi*bpi*bpi
	return
}

// classify resolves a global data-block offset into the indirection
// class owning it and the offset local to that class.
func (ib *IndirectedBlocks) classify(offset uint64) (Indirection, uint64, bool) {
	b1, b2, b3, b4 := ib.boundaries()
	switch {
	case offset < b1:
		return IndirectDirect, offset, true
	case offset < b2:
		return IndirectSimple, offset - b1, true
	case offset < b3:
		return IndirectDouble, offset - b2, true
	case offset < b4:
		return IndirectTriple, offset - b3, true
	default:
		return 0, 0, false
	}
}

// BlockAtOffset returns the data block number holding the given
// logical block offset into the file, if it has been allocated.
func (ib *IndirectedBlocks) BlockAtOffset(offset uint64) (uint32, bool) {
	class, local, ok := ib.classify(offset)
	if !ok {
		return 0, false
	}
	bpi := uint64(ib.bpi)
	switch class {
	case IndirectDirect:
		if local >= uint64(len(ib.Direct)) {
			return 0, false
		}
		return ib.Direct[local], true
	case IndirectSimple:
		if local >= uint64(len(ib.Simple.Leaves)) {
			return 0, false
		}
		return ib.Simple.Leaves[local], true
	case IndirectDouble:
		subIdx, leafIdx := local/bpi, local%bpi
		if subIdx >= uint64(len(ib.Double.Children)) {
			return 0, false
		}
		sub := ib.Double.Children[subIdx]
		if leafIdx >= uint64(len(sub.Leaves)) {
			return 0, false
		}
		return sub.Leaves[leafIdx], true
	case IndirectTriple:
		dblIdx := local / (bpi * bpi)
		rem := local % (bpi * bpi)
		subIdx, leafIdx := rem/bpi, rem%bpi
		if dblIdx >= uint64(len(ib.Triple.Children)) {
			return 0, false
		}
		dbl := ib.Triple.Children[dblIdx]
		if subIdx >= uint64(len(dbl.Children)) {
			return 0, false
		}
		sub := dbl.Children[subIdx]
		if leafIdx >= uint64(len(sub.Leaves)) {
			return 0, false
		}
		return sub.Leaves[leafIdx], true
	}
	return 0, false
}

// LastDataBlockAllocated walks triple, then double, then simple, then
// direct, returning the highest-offset allocated data block and its
// (class, local offset within that class).
func (ib *IndirectedBlocks) LastDataBlockAllocated() (block uint32, class Indirection, local uint64, ok bool) {
	bpi := uint64(ib.bpi)
	if n := len(ib.Triple.Children); n > 0 {
		dblIdx := n - 1
		dbl := ib.Triple.Children[dblIdx]
		if m := len(dbl.Children); m > 0 {
			subIdx := m - 1
			sub := dbl.Children[subIdx]
			if l := len(sub.Leaves); l > 0 {
				leafIdx := l - 1
				off := uint64(dblIdx)*bpi*bpi + uint64(subIdx)*bpi + uint64(leafIdx)
				return sub.Leaves[leafIdx], IndirectTriple, off, true
			}
		}
	}
	if n := len(ib.Double.Children); n > 0 {
		subIdx := n - 1
		sub := ib.Double.Children[subIdx]
		if l := len(sub.Leaves); l > 0 {
			leafIdx := l - 1
			off := uint64(subIdx)*bpi + uint64(leafIdx)
			return sub.Leaves[leafIdx], IndirectDouble, off, true
		}
	}
	if l := len(ib.Simple.Leaves); l > 0 {
		leafIdx := l - 1
		return ib.Simple.Leaves[leafIdx], IndirectSimple, uint64(leafIdx), true
	}
	if l := len(ib.Direct); l > 0 {
		idx := l - 1
		return ib.Direct[idx], IndirectDirect, uint64(idx), true
	}
	return 0, 0, 0, false
}

// DataBlockCount returns how many data blocks are allocated.
func (ib *IndirectedBlocks) DataBlockCount() uint64 {
	_, class, local, ok := ib.LastDataBlockAllocated()
	if !ok {
		return 0
	}
	b1, b2, b3, _ := ib.boundaries()
	var base uint64
	switch class {
	case IndirectSimple:
		base = b1
	case IndirectDouble:
		base = b2
	case IndirectTriple:
		base = b3
	}
	return base + local + 1
}

// NecessaryIndirectionBlockCount is a pure function of the number of
// data blocks a file needs and the device's pointers-per-block: how
// many extra indirection (pointer) blocks must exist to address them.
func NecessaryIndirectionBlockCount(dataBlockCount, bpi uint64) uint64 {
	if dataBlockCount <= DirectBlockCount {
		return 0
	}
	remaining := dataBlockCount - DirectBlockCount
	if remaining <= bpi {
		return 1
	}
	remaining -= bpi
	if remaining <= bpi*bpi {
		return 1 + 1 + 1 + (remaining-1)/bpi
	}
	remaining -= bpi * bpi
	return 1 + 1 + bpi + 1 + 1 + (remaining-1)/bpi + 1 + ((remaining-1)/bpi)/bpi
}

// IndirectionBlockCount is NecessaryIndirectionBlockCount applied to
// this structure's own current data block count.
func (ib *IndirectedBlocks) IndirectionBlockCount() uint64 {
	return NecessaryIndirectionBlockCount(ib.DataBlockCount(), uint64(ib.bpi))
}

// FlattenDataBlocks lists every allocated data block number, in
// direct, simple, double, triple order.
func (ib *IndirectedBlocks) FlattenDataBlocks() []uint32 {
	var out []uint32
	out = append(out, ib.Direct...)
	out = append(out, ib.Simple.Leaves...)
	for _, sub := range ib.Double.Children {
		out = append(out, sub.Leaves...)
	}
	for _, dbl := range ib.Triple.Children {
		for _, sub := range dbl.Children {
			out = append(out, sub.Leaves...)
		}
	}
	return out
}

// FlattenIndirectionBlocks lists every pointer (non-data) block number
// in use: indirection roots and sub-roots.
func (ib *IndirectedBlocks) FlattenIndirectionBlocks() []uint32 {
	var out []uint32
	if ib.Simple.Root != 0 {
		out = append(out, ib.Simple.Root)
	}
	if ib.Double.Root != 0 {
		out = append(out, ib.Double.Root)
		for _, sub := range ib.Double.Children {
			out = append(out, sub.Root)
		}
	}
	if ib.Triple.Root != 0 {
		out = append(out, ib.Triple.Root)
		for _, dbl := range ib.Triple.Children {
			out = append(out, dbl.Root)
			for _, sub := range dbl.Children {
				out = append(out, sub.Root)
			}
		}
	}
	return out
}

func fillLeaves(leaves *[]uint32, bpi uint32, it *[]uint32) {
	for len(*it) > 0 && uint32(len(*leaves)) < bpi {
		*leaves = append(*leaves, (*it)[0])
		*it = (*it)[1:]
	}
}

// AppendBlocks consumes blocks (a flat sequence mixing indirection
// pointer blocks and data blocks, in the order the tree needs them)
// and grows the structure to include them: direct slots first, then
// the singly-indirect root and its leaves, then doubly-indirect root,
// sub-roots and their leaves, then triply-indirect one level deeper.
func (ib *IndirectedBlocks) AppendBlocks(blocks []uint32) {
	bpi := ib.bpi
	it := blocks

	for len(it) > 0 && uint32(len(ib.Direct)) < DirectBlockCount {
		ib.Direct = append(ib.Direct, it[0])
		it = it[1:]
	}
	if len(it) == 0 {
		return
	}

	if ib.Simple.Root == 0 {
		ib.Simple.Root = it[0]
		it = it[1:]
	}
	fillLeaves(&ib.Simple.Leaves, bpi, &it)
	if len(it) == 0 {
		return
	}

	if ib.Double.Root == 0 {
		ib.Double.Root = it[0]
		it = it[1:]
	}
	if len(it) == 0 {
		return
	}
	if n := len(ib.Double.Children); n > 0 {
		fillLeaves(&ib.Double.Children[n-1].Leaves, bpi, &it)
	}
	for len(it) > 0 && uint32(len(ib.Double.Children)) < bpi {
		var sub SimpleIndirection
		sub.Root = it[0]
		it = it[1:]
		fillLeaves(&sub.Leaves, bpi, &it)
		ib.Double.Children = append(ib.Double.Children, sub)
	}
	if len(it) == 0 {
		return
	}

	if ib.Triple.Root == 0 {
		ib.Triple.Root = it[0]
		it = it[1:]
	}
	if len(it) == 0 {
		return
	}
	if n := len(ib.Triple.Children); n > 0 {
		lastDbl := &ib.Triple.Children[n-1]
		if m := len(lastDbl.Children); m > 0 {
			fillLeaves(&lastDbl.Children[m-1].Leaves, bpi, &it)
		}
		for len(it) > 0 && uint32(len(lastDbl.Children)) < bpi {
			var sub SimpleIndirection
			sub.Root = it[0]
			it = it[1:]
			fillLeaves(&sub.Leaves, bpi, &it)
			lastDbl.Children = append(lastDbl.Children, sub)
		}
	}
	for len(it) > 0 && uint32(len(ib.Triple.Children)) < bpi {
		var dbl DoubleIndirection
		dbl.Root = it[0]
		it = it[1:]
		for len(it) > 0 && uint32(len(dbl.Children)) < bpi {
			var sub SimpleIndirection
			sub.Root = it[0]
			it = it[1:]
			fillLeaves(&sub.Leaves, bpi, &it)
			dbl.Children = append(dbl.Children, sub)
		}
		ib.Triple.Children = append(ib.Triple.Children, dbl)
	}
}

func truncateU32(s []uint32, n uint64) []uint32 {
	if n >= uint64(len(s)) {
		return s
	}
	return s[:n]
}

// TruncateBackDataBlocks drops every data block past the first n,
// clearing (zeroing) any indirection level that becomes entirely
// unused.
func (ib *IndirectedBlocks) TruncateBackDataBlocks(n uint64) {
	bpi := uint64(ib.bpi)
	b1, b2, b3, _ := ib.boundaries()
	switch {
	case n <= b1:
		ib.Direct = truncateU32(ib.Direct, n)
		ib.Simple = SimpleIndirection{}
		ib.Double = DoubleIndirection{}
		ib.Triple = TripleIndirection{}
	case n <= b2:
		ib.Simple.Leaves = truncateU32(ib.Simple.Leaves, n-b1)
		ib.Double = DoubleIndirection{}
		ib.Triple = TripleIndirection{}
	case n <= b3:
		rem := n - b2
		subCount := (rem + bpi - 1) / bpi
		if subCount == 0 {
			ib.Double.Children = nil
		} else {
			ib.Double.Children = ib.Double.Children[:subCount]
			last := &ib.Double.Children[subCount-1]
			last.Leaves = truncateU32(last.Leaves, rem-(subCount-1)*bpi)
		}
		ib.Triple = TripleIndirection{}
	default:
		rem := n - b3
		dblCount := (rem + bpi*bpi - 1) / (bpi * bpi)
		if dblCount == 0 {
			ib.Triple.Children = nil
			return
		}
		ib.Triple.Children = ib.Triple.Children[:dblCount]
		lastDblRem := rem - (dblCount-1)*bpi*bpi
		lastDbl := &ib.Triple.Children[dblCount-1]
		subCount := (lastDblRem + bpi - 1) / bpi
		if subCount == 0 {
			lastDbl.Children = nil
			return
		}
		lastDbl.Children = lastDbl.Children[:subCount]
		lastSub := &lastDbl.Children[subCount-1]
		lastSub.Leaves = truncateU32(lastSub.Leaves, lastDblRem-(subCount-1)*bpi)
	}
}

func (ib *IndirectedBlocks) clone() *IndirectedBlocks {
	c := &IndirectedBlocks{bpi: ib.bpi}
	c.Direct = append([]uint32(nil), ib.Direct...)
	c.Simple = SimpleIndirection{Root: ib.Simple.Root, Leaves: append([]uint32(nil), ib.Simple.Leaves...)}
	c.Double = DoubleIndirection{Root: ib.Double.Root}
	for _, s := range ib.Double.Children {
		c.Double.Children = append(c.Double.Children, SimpleIndirection{Root: s.Root, Leaves: append([]uint32(nil), s.Leaves...)})
	}
	c.Triple = TripleIndirection{Root: ib.Triple.Root}
	for _, d := range ib.Triple.Children {
		nd := DoubleIndirection{Root: d.Root}
		for _, s := range d.Children {
			nd.Children = append(nd.Children, SimpleIndirection{Root: s.Root, Leaves: append([]uint32(nil), s.Leaves...)})
		}
		c.Triple.Children = append(c.Triple.Children, nd)
	}
	return c
}

// DirectBlocksOffset, SimpleIndirectionOffset, DoubleIndirectionOffset
// and TripleIndirectionOffset each carry a starting index alongside the
// partial tree: the tail of an indirection level that changed because
// of an append, so the caller knows both what to write and at which
// local index it begins.
type DirectBlocksOffset struct {
	Start  int
	Blocks []uint32
}

type SimpleIndirectionOffset struct {
	Start       int
	Indirection SimpleIndirection
}

type DoubleIndirectionOffset struct {
	Start       int
	Indirection DoubleIndirection
}

type TripleIndirectionOffset struct {
	Start       int
	Indirection TripleIndirection
}

// SymmetricDifference is the changed tail of an IndirectedBlocks tree
// produced by AppendBlocksWithDifference: exactly the blocks a write
// must touch, nothing more.
type SymmetricDifference struct {
	bpi    uint32
	Direct DirectBlocksOffset
	Simple SimpleIndirectionOffset
	Double DoubleIndirectionOffset
	Triple TripleIndirectionOffset
}

// ChangedIndirectionBlock describes one pointer block that must be
// rewritten: its own block number, the local index its changed tail
// begins at, and the full list of pointers it should now hold from
// that index onward.
type ChangedIndirectionBlock struct {
	Block    uint32
	Start    int
	Children []uint32
}

// ChangedIndirectedBlocks lists every pointer block that needs
// rewriting after the append this difference describes.
func (sd *SymmetricDifference) ChangedIndirectedBlocks() []ChangedIndirectionBlock {
	var out []ChangedIndirectionBlock
	if sd.Simple.Indirection.Root != 0 {
		out = append(out, ChangedIndirectionBlock{Block: sd.Simple.Indirection.Root, Start: sd.Simple.Start, Children: sd.Simple.Indirection.Leaves})
	}
	if sd.Double.Indirection.Root != 0 {
		roots := make([]uint32, len(sd.Double.Indirection.Children))
		for i, c := range sd.Double.Indirection.Children {
			roots[i] = c.Root
		}
		out = append(out, ChangedIndirectionBlock{Block: sd.Double.Indirection.Root, Start: sd.Double.Start, Children: roots})
		for _, sub := range sd.Double.Indirection.Children {
			out = append(out, ChangedIndirectionBlock{Block: sub.Root, Children: sub.Leaves})
		}
	}
	if sd.Triple.Indirection.Root != 0 {
		roots := make([]uint32, len(sd.Triple.Indirection.Children))
		for i, d := range sd.Triple.Indirection.Children {
			roots[i] = d.Root
		}
		out = append(out, ChangedIndirectionBlock{Block: sd.Triple.Indirection.Root, Start: sd.Triple.Start, Children: roots})
		for _, dbl := range sd.Triple.Indirection.Children {
			subRoots := make([]uint32, len(dbl.Children))
			for i, s := range dbl.Children {
				subRoots[i] = s.Root
			}
			out = append(out, ChangedIndirectionBlock{Block: dbl.Root, Children: subRoots})
			for _, sub := range dbl.Children {
				out = append(out, ChangedIndirectionBlock{Block: sub.Root, Children: sub.Leaves})
			}
		}
	}
	return out
}

// ChangedDataBlocks flattens every changed data block, direct first
// then simple then double then triple: "a write should modify every
// block starting at the first one returned".
func (sd *SymmetricDifference) ChangedDataBlocks() []uint32 {
	var out []uint32
	out = append(out, sd.Direct.Blocks...)
	out = append(out, sd.Simple.Indirection.Leaves...)
	for _, sub := range sd.Double.Indirection.Children {
		out = append(out, sub.Leaves...)
	}
	for _, dbl := range sd.Triple.Indirection.Children {
		for _, sub := range dbl.Children {
			out = append(out, sub.Leaves...)
		}
	}
	return out
}

// AppendBlocksWithDifference is the write-path workhorse: it appends
// blocks at the end of the structure (as AppendBlocks does) and returns
// both the fully updated structure and a SymmetricDifference describing
// the tail that changed, so the caller writes only new or modified
// blocks rather than the whole tree. With a nil offset the difference
// starts just after the last allocated data block; with a non-nil
// offset it starts at that logical data-block offset instead (the
// blocks themselves are still appended at the end).
func (ib *IndirectedBlocks) AppendBlocksWithDifference(blocks []uint32, offset *uint64) (*IndirectedBlocks, *SymmetricDifference) {
	var class Indirection
	var index uint64
	if offset != nil {
		c, local, ok := ib.classify(*offset)
		if !ok {
			c, local = IndirectTriple, 0
		}
		class, index = c, local
	} else {
		_, c, local, ok := ib.LastDataBlockAllocated()
		if ok {
			class, index = c, local+1
		} else {
			class, index = IndirectDirect, 0
		}
	}

	working := ib.clone()
	working.AppendBlocks(blocks)
	full := working.clone()

	diff := &SymmetricDifference{bpi: ib.bpi}
	bpi := uint64(ib.bpi)

	switch class {
	case IndirectDirect:
		start := int(index)
		if start < len(working.Direct) {
			diff.Direct = DirectBlocksOffset{Start: start, Blocks: append([]uint32(nil), working.Direct[start:]...)}
		}
		diff.Simple = SimpleIndirectionOffset{Indirection: working.Simple}
		diff.Double = DoubleIndirectionOffset{Indirection: working.Double}
		diff.Triple = TripleIndirectionOffset{Indirection: working.Triple}
	case IndirectSimple:
		start := int(index)
		leaves := working.Simple.Leaves
		tail := []uint32{}
		if start < len(leaves) {
			tail = append([]uint32(nil), leaves[start:]...)
		}
		diff.Simple = SimpleIndirectionOffset{Start: start, Indirection: SimpleIndirection{Root: working.Simple.Root, Leaves: tail}}
		diff.Double = DoubleIndirectionOffset{Indirection: working.Double}
		diff.Triple = TripleIndirectionOffset{Indirection: working.Triple}
	case IndirectDouble:
		subIdx, leafIdx := int(index/bpi), int(index%bpi)
		var children []SimpleIndirection
		if subIdx < len(working.Double.Children) {
			head := working.Double.Children[subIdx]
			if leafIdx < len(head.Leaves) {
				head.Leaves = append([]uint32(nil), head.Leaves[leafIdx:]...)
			} else {
				head.Leaves = nil
			}
			children = append(children, head)
			children = append(children, working.Double.Children[subIdx+1:]...)
		}
		diff.Double = DoubleIndirectionOffset{Start: subIdx, Indirection: DoubleIndirection{Root: working.Double.Root, Children: children}}
		diff.Triple = TripleIndirectionOffset{Indirection: working.Triple}
	case IndirectTriple:
		dblIdx := int(index / (bpi * bpi))
		rem := index % (bpi * bpi)
		subIdx, leafIdx := int(rem/bpi), int(rem%bpi)
		var dbls []DoubleIndirection
		if dblIdx < len(working.Triple.Children) {
			headDbl := working.Triple.Children[dblIdx]
			var subs []SimpleIndirection
			if subIdx < len(headDbl.Children) {
				headSub := headDbl.Children[subIdx]
				if leafIdx < len(headSub.Leaves) {
					headSub.Leaves = append([]uint32(nil), headSub.Leaves[leafIdx:]...)
				} else {
					headSub.Leaves = nil
				}
				subs = append(subs, headSub)
				subs = append(subs, headDbl.Children[subIdx+1:]...)
			}
			headDbl.Children = subs
			dbls = append(dbls, headDbl)
			dbls = append(dbls, working.Triple.Children[dblIdx+1:]...)
		}
		diff.Triple = TripleIndirectionOffset{Start: dblIdx, Indirection: TripleIndirection{Root: working.Triple.Root, Children: dbls}}
	}

	return full, diff
}

// TruncateFrontDataBlocks drops the first n data blocks and returns a
// SymmetricDifference describing the whole resulting structure (every
// level is treated as "changed", since removing a prefix shifts every
// block after it). Unlike TruncateBackDataBlocks, front truncation has
// no tail to preserve unmodified, so there is no smaller diff to
// compute.
func (ib *IndirectedBlocks) TruncateFrontDataBlocks(n uint64) *SymmetricDifference {
	remaining := ib.FlattenDataBlocks()
	if n >= uint64(len(remaining)) {
		remaining = nil
	} else {
		remaining = remaining[n:]
	}
	*ib = *NewIndirectedBlocks(ib.bpi)
	ib.AppendBlocks(remaining)

	return &SymmetricDifference{
		bpi:    ib.bpi,
		Direct: DirectBlocksOffset{Blocks: append([]uint32(nil), ib.Direct...)},
		Simple: SimpleIndirectionOffset{Indirection: ib.Simple},
		Double: DoubleIndirectionOffset{Indirection: ib.Double},
		Triple: TripleIndirectionOffset{Indirection: ib.Triple},
	}
}

// ParseIndirectedBlocks reads the full tree rooted at in from the
// device, using sb's block size to derive bpi and resolve block
// addresses.
func ParseIndirectedBlocks(d device.Device[byte], sb *Superblock, in *Inode) (*IndirectedBlocks, error) {
	bpi := sb.BlockSize() / 4
	ib := NewIndirectedBlocks(bpi)

	for _, b := range in.DirectBlocks() {
		if b == 0 {
			break
		}
		ib.Direct = append(ib.Direct, b)
	}

	if root := in.SinglyIndirect(); root != 0 {
		leaves, err := readPointerBlock(d, sb, root)
		if err != nil {
			return nil, err
		}
		ib.Simple = SimpleIndirection{Root: root, Leaves: leaves}
	}

	if root := in.DoublyIndirect(); root != 0 {
		subRoots, err := readPointerBlock(d, sb, root)
		if err != nil {
			return nil, err
		}
		ib.Double.Root = root
		for _, subRoot := range subRoots {
			leaves, err := readPointerBlock(d, sb, subRoot)
			if err != nil {
				return nil, err
			}
			ib.Double.Children = append(ib.Double.Children, SimpleIndirection{Root: subRoot, Leaves: leaves})
		}
	}

	if root := in.TriplyIndirect(); root != 0 {
		dblRoots, err := readPointerBlock(d, sb, root)
		if err != nil {
			return nil, err
		}
		ib.Triple.Root = root
		for _, dblRoot := range dblRoots {
			subRoots, err := readPointerBlock(d, sb, dblRoot)
			if err != nil {
				return nil, err
			}
			dbl := DoubleIndirection{Root: dblRoot}
			for _, subRoot := range subRoots {
				leaves, err := readPointerBlock(d, sb, subRoot)
				if err != nil {
					return nil, err
				}
				dbl.Children = append(dbl.Children, SimpleIndirection{Root: subRoot, Leaves: leaves})
			}
			ib.Triple.Children = append(ib.Triple.Children, dbl)
		}
	}

	return ib, nil
}

// readPointerBlock reads one indirection block and returns its
// non-zero leading pointers (stops at the first zero entry, since
// append always fills leaves contiguously from the front).
func readPointerBlock(d device.Device[byte], sb *Superblock, block uint32) ([]uint32, error) {
	addr := device.Address(uint64(block) * uint64(sb.BlockSize()))
	raw, err := device.ReadSlice(d, device.RangeOf(addr, uint64(sb.BlockSize())))
	if err != nil {
		return nil, err
	}
	bpi := sb.BlockSize() / 4
	out := make([]uint32, 0, bpi)
	for i := uint32(0); i < bpi; i++ {
		v := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		if v == 0 {
			break
		}
		out = append(out, v)
	}
	return out, nil
}

// writePointerBlock writes pointers (padded with zeros to the device
// block size) to block, starting at local index start so a partial
// rewrite of an existing block does not clobber unrelated leading
// entries the caller didn't intend to touch... except the caller always
// supplies the full tail, so this writes it at its exact offset.
func writePointerBlock(d device.Device[byte], sb *Superblock, block uint32, start int, pointers []uint32) error {
	addr := device.Address(uint64(block) * uint64(sb.BlockSize()))
	return device.WriteSlice(d, device.RangeOf(addr, uint64(sb.BlockSize())), func(dst []byte) {
		for i, v := range pointers {
			off := (start + i) * 4
			binary.LittleEndian.PutUint32(dst[off:off+4], v)
		}
		for i := (start + len(pointers)) * 4; i < len(dst); i++ {
			dst[i] = 0
		}
	})
}

// FlushDifference writes every pointer block a SymmetricDifference
// touched. It does not write data blocks: callers write the data bytes
// themselves; FlushDifference only maintains the indirection tree on
// disk.
func FlushDifference(d device.Device[byte], sb *Superblock, sd *SymmetricDifference) error {
	for _, cib := range sd.ChangedIndirectedBlocks() {
		if err := writePointerBlock(d, sb, cib.Block, cib.Start, cib.Children); err != nil {
			return err
		}
	}
	return nil
}
