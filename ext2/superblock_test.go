package ext2

import (
	"testing"

	"github.com/google/uuid"
)

func TestSuperblockByteRoundTrip(t *testing.T) {
	sb := &Superblock{
		InodeCount:      128,
		BlockCount:      4096,
		ReservedBlocks:  40,
		FreeBlocks:      4000,
		FreeInodes:      120,
		FirstDataBlock:  1,
		LogBlockSize:    0,
		BlocksPerGroup:  8192,
		InodesPerGroup:  128,
		Magic:           Magic,
		Revision:        1,
		FirstInode:      FirstNonReservedInode,
		InodeSize:       InodeSize,
		FeatureIncompat: featureIncompatFiletype,
		UUID:            uuid.New(),
	}
	copy(sb.VolumeName[:], "testvol")

	raw := sb.toBytes()
	got, err := superblockFromBytes(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.InodeCount != sb.InodeCount || got.BlockCount != sb.BlockCount {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, sb)
	}
	if got.UUID != sb.UUID {
		t.Fatalf("UUID round trip mismatch: got %s, want %s", got.UUID, sb.UUID)
	}
	if string(got.VolumeName[:7]) != "testvol" {
		t.Fatalf("VolumeName round trip mismatch: got %q", got.VolumeName)
	}
}

func TestSuperblockRejectsBadMagic(t *testing.T) {
	sb := &Superblock{Magic: 0x1234}
	raw := sb.toBytes()
	if _, err := superblockFromBytes(raw); err == nil {
		t.Fatal("expected a bad-magic error")
	}
}

func TestSuperblockRejectsUnsupportedIncompatFeature(t *testing.T) {
	sb := &Superblock{Magic: Magic, Revision: 1, FeatureIncompat: 0x8000}
	raw := sb.toBytes()
	if _, err := superblockFromBytes(raw); err == nil {
		t.Fatal("expected an unsupported-feature error")
	}
}

func TestSuperblockBlockGroupArithmetic(t *testing.T) {
	sb := &Superblock{FirstDataBlock: 1, BlockCount: 8193, BlocksPerGroup: 8192}
	if got := sb.BlockGroupCount(); got != 1 {
		t.Fatalf("BlockGroupCount() = %d, want 1", got)
	}
	if got := sb.BlockGroupOf(100); got != 0 {
		t.Fatalf("BlockGroupOf(100) = %d, want 0", got)
	}
	if got := sb.GroupIndexOf(100); got != 99 {
		t.Fatalf("GroupIndexOf(100) = %d, want 99", got)
	}
}
