package ext2

import "testing"

func TestInodeByteRoundTrip(t *testing.T) {
	in := &Inode{
		Mode:       modeFormatRegular | 0o644,
		UID:        1000,
		GID:        1000,
		LinksCount: 1,
		Generation: 7,
	}
	in.SetSize(1 << 34) // exercises SizeHigh
	for i := range in.Block {
		in.Block[i] = uint32(1000 + i)
	}

	raw := in.toBytes()
	got := inodeFromBytes(raw)
	if got.Mode != in.Mode || got.UID != in.UID || got.GID != in.GID {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, in)
	}
	if got.Size() != in.Size() {
		t.Fatalf("Size() round trip mismatch: got %d, want %d", got.Size(), in.Size())
	}
	if got.Block != in.Block {
		t.Fatalf("Block pointers round trip mismatch: got %v, want %v", got.Block, in.Block)
	}
}

func TestInodeFileTypeRoundTrip(t *testing.T) {
	cases := []FileType{FileTypeRegular, FileTypeDir, FileTypeSymlink, FileTypeFifo, FileTypeCharDev, FileTypeBlockDev, FileTypeSocket}
	for _, ft := range cases {
		in := &Inode{}
		in.SetFileType(ft)
		if got := in.FileType(); got != ft {
			t.Errorf("SetFileType(%v) then FileType() = %v", ft, got)
		}
	}
}

func TestInodeSetFileTypePreservesPermissionBits(t *testing.T) {
	in := &Inode{Mode: modeFormatRegular | 0o755}
	in.SetFileType(FileTypeDir)
	if in.Mode&0o777 != 0o755 {
		t.Fatalf("permission bits changed: Mode = %#o", in.Mode)
	}
	if in.FileType() != FileTypeDir {
		t.Fatalf("FileType() = %v, want Dir", in.FileType())
	}
}

func TestInodeDirectBlocksView(t *testing.T) {
	in := &Inode{}
	in.SetSinglyIndirect(99)
	blocks := in.DirectBlocks()
	if len(blocks) != DirectBlockCount {
		t.Fatalf("DirectBlocks() has %d entries, want %d", len(blocks), DirectBlockCount)
	}
	blocks[0] = 42
	if in.Block[0] != 42 {
		t.Fatal("DirectBlocks() should return a view over Block, not a copy")
	}
	if in.SinglyIndirect() != 99 {
		t.Fatalf("SinglyIndirect() = %d, want 99", in.SinglyIndirect())
	}
}
