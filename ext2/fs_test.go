package ext2_test

import (
	"testing"
	"time"

	"github.com/lihanrui2913/goext2/device"
	"github.com/lihanrui2913/goext2/ext2"
	"github.com/stretchr/testify/require"
)

func newTestFilesystem(t *testing.T) (*ext2.Ext2Fs, device.Device[byte]) {
	t.Helper()
	d := device.NewMemory(4 * 1024 * 1024)
	now := func() time.Time { return time.Unix(1700000000, 0) }
	fs, err := ext2.Create(d, ext2.CreateParams{
		VolumeLabel: "testvol",
		BlockSize:   1024,
		Now:         now,
	})
	require.NoError(t, err)
	return fs, d
}

// loadInode reads inode number straight from the inode table. The
// symlink tests need the link's own inode, which GetFile does not
// return: GetFile follows a terminal symlink.
func loadInode(fs *ext2.Ext2Fs, d device.Device[byte], number uint32) (*ext2.Inode, error) {
	sb := fs.Superblock()
	bgd, err := ext2.ParseBlockGroupDescriptor(d, sb, (number-1)/sb.InodesPerGroup, nil)
	if err != nil {
		return nil, err
	}
	return ext2.ParseInode(d, sb, bgd, number, nil)
}

func TestCreateMountsRootDirectory(t *testing.T) {
	fs, _ := newTestFilesystem(t)
	root, err := fs.Root()
	require.NoError(t, err)
	entries, err := root.Entries()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	require.True(t, names["."])
	require.True(t, names[".."])
}

func TestCreateFileAndGetFile(t *testing.T) {
	fs, _ := newTestFilesystem(t)
	number, err := fs.CreateFile("/", "hello.txt", ext2.FileTypeRegular, 0o644, 1000, 1000)
	require.NoError(t, err)
	require.NotZero(t, number)

	got, in, err := fs.GetFile("/hello.txt")
	require.NoError(t, err)
	require.Equal(t, number, got)
	require.Equal(t, ext2.FileTypeRegular, in.FileType())
	require.Equal(t, uint16(1000), in.UID)
}

func TestCreateFileRejectsDuplicateName(t *testing.T) {
	fs, _ := newTestFilesystem(t)
	_, err := fs.CreateFile("/", "dup", ext2.FileTypeRegular, 0o644, 0, 0)
	require.NoError(t, err)
	_, err = fs.CreateFile("/", "dup", ext2.FileTypeRegular, 0o644, 0, 0)
	require.Error(t, err)
}

func TestMkdirAndNestedPathResolution(t *testing.T) {
	fs, _ := newTestFilesystem(t)
	_, err := fs.CreateFile("/", "sub", ext2.FileTypeDir, 0o755, 0, 0)
	require.NoError(t, err)
	_, err = fs.CreateFile("/sub", "leaf.txt", ext2.FileTypeRegular, 0o644, 0, 0)
	require.NoError(t, err)

	_, in, err := fs.GetFile("/sub/leaf.txt")
	require.NoError(t, err)
	require.Equal(t, ext2.FileTypeRegular, in.FileType())

	// ".." from /sub/leaf.txt's directory must resolve back to root.
	subNumber, _, err := fs.GetFile("/sub")
	require.NoError(t, err)
	parentNumber, _, err := fs.GetFile("/sub/..")
	require.NoError(t, err)
	rootNumber, _, err := fs.GetFile("/")
	require.NoError(t, err)
	require.Equal(t, rootNumber, parentNumber)
	require.NotEqual(t, subNumber, rootNumber)
}

func TestRegularFileWriteAndReadRoundTrip(t *testing.T) {
	fs, d := newTestFilesystem(t)
	number, err := fs.CreateFile("/", "data.bin", ext2.FileTypeRegular, 0o644, 0, 0)
	require.NoError(t, err)
	_, in, err := fs.GetFile("/data.bin")
	require.NoError(t, err)

	alloc := ext2.NewAllocator(d, fs.Superblock(), nil)
	f, err := ext2.OpenRegular(d, fs.Superblock(), number, in, nil, nil)
	require.NoError(t, err)

	payload := make([]byte, 20000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	n, err := f.WriteAt(alloc, payload, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, uint64(len(payload)), f.Size())

	out := make([]byte, len(payload))
	n, err = f.ReadAt(out, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, out)
}

func TestSymlinkInlineAndLongTargets(t *testing.T) {
	fs, d := newTestFilesystem(t)
	number, err := fs.CreateFile("/", "short", ext2.FileTypeSymlink, 0o777, 0, 0)
	require.NoError(t, err)
	in, err := loadInode(fs, d, number)
	require.NoError(t, err)

	alloc := ext2.NewAllocator(d, fs.Superblock(), nil)
	sl, err := ext2.OpenSymbolicLink(d, fs.Superblock(), number, in, nil, nil)
	require.NoError(t, err)
	require.NoError(t, sl.SetTarget(alloc, "/hello.txt"))
	target, err := sl.Target()
	require.NoError(t, err)
	require.Equal(t, "/hello.txt", target)

	longTarget := "/" + string(make([]byte, 100))
	for i := 1; i < len(longTarget); i++ {
		longTarget = longTarget[:i] + "a" + longTarget[i+1:]
	}
	require.NoError(t, sl.SetTarget(alloc, longTarget))
	got, err := sl.Target()
	require.NoError(t, err)
	require.Equal(t, longTarget, got)
}

func TestSymlinkTargetSpanningMultipleBlocks(t *testing.T) {
	fs, d := newTestFilesystem(t)
	number, err := fs.CreateFile("/", "biglink", ext2.FileTypeSymlink, 0o777, 0, 0)
	require.NoError(t, err)
	in, err := loadInode(fs, d, number)
	require.NoError(t, err)

	alloc := ext2.NewAllocator(d, fs.Superblock(), nil)
	sl, err := ext2.OpenSymbolicLink(d, fs.Superblock(), number, in, nil, nil)
	require.NoError(t, err)

	// The test filesystem's block size is 1024 bytes; a target longer
	// than that can only be represented by more than one data block.
	target := "/" + string(make([]byte, 3000))
	b := []byte(target)
	for i := 1; i < len(b); i++ {
		b[i] = byte('a' + i%26)
	}
	target = string(b)

	require.NoError(t, sl.SetTarget(alloc, target))
	got, err := sl.Target()
	require.NoError(t, err)
	require.Equal(t, target, got)
}

func TestSymlinkTargetOverPathMaxIsRejected(t *testing.T) {
	fs, d := newTestFilesystem(t)
	number, err := fs.CreateFile("/", "toolong", ext2.FileTypeSymlink, 0o777, 0, 0)
	require.NoError(t, err)
	in, err := loadInode(fs, d, number)
	require.NoError(t, err)

	alloc := ext2.NewAllocator(d, fs.Superblock(), nil)
	sl, err := ext2.OpenSymbolicLink(d, fs.Superblock(), number, in, nil, nil)
	require.NoError(t, err)

	target := "/" + string(make([]byte, ext2.PathMax))
	err = sl.SetTarget(alloc, target)
	require.ErrorIs(t, err, &ext2.Error{Kind: ext2.NameTooLong})
}

func TestSymlinkLoopIsRejected(t *testing.T) {
	fs, d := newTestFilesystem(t)
	number, err := fs.CreateFile("/", "loop", ext2.FileTypeSymlink, 0o777, 0, 0)
	require.NoError(t, err)
	in, err := loadInode(fs, d, number)
	require.NoError(t, err)

	alloc := ext2.NewAllocator(d, fs.Superblock(), nil)
	sl, err := ext2.OpenSymbolicLink(d, fs.Superblock(), number, in, nil, nil)
	require.NoError(t, err)
	require.NoError(t, sl.SetTarget(alloc, "/loop"))

	_, _, err = fs.GetFile("/loop")
	require.ErrorIs(t, err, &ext2.Error{Kind: ext2.Loop})
}

func TestRemoveFileDeletesNonEmptyDirectoryRecursively(t *testing.T) {
	fs, _ := newTestFilesystem(t)
	_, err := fs.CreateFile("/", "folder", ext2.FileTypeDir, 0o755, 0, 0)
	require.NoError(t, err)
	ex1, err := fs.CreateFile("/folder", "ex1.txt", ext2.FileTypeRegular, 0o644, 0, 0)
	require.NoError(t, err)
	ex2, err := fs.CreateFile("/folder", "ex2.txt", ext2.FileTypeRegular, 0o644, 0, 0)
	require.NoError(t, err)

	require.NoError(t, fs.RemoveFile("/folder"))

	_, _, err = fs.GetFile("/folder")
	require.ErrorIs(t, err, &ext2.Error{Kind: ext2.NoEnt})

	// Both children's inodes must have been freed too, not merely
	// unreachable: a fresh allocation should be able to reclaim them.
	seen := map[uint32]bool{}
	for i := 0; i < 4; i++ {
		number, err := fs.CreateFile("/", "reclaim"+string(rune('a'+i)), ext2.FileTypeRegular, 0o644, 0, 0)
		require.NoError(t, err)
		seen[number] = true
	}
	require.True(t, seen[ex1] || seen[ex2], "neither freed child inode (%d, %d) was reused by subsequent allocations: %v", ex1, ex2, seen)
}

func TestRemoveFileRecursesThroughNestedDirectories(t *testing.T) {
	fs, _ := newTestFilesystem(t)
	_, err := fs.CreateFile("/", "a", ext2.FileTypeDir, 0o755, 0, 0)
	require.NoError(t, err)
	_, err = fs.CreateFile("/a", "b", ext2.FileTypeDir, 0o755, 0, 0)
	require.NoError(t, err)
	_, err = fs.CreateFile("/a/b", "leaf.txt", ext2.FileTypeRegular, 0o644, 0, 0)
	require.NoError(t, err)

	require.NoError(t, fs.RemoveFile("/a"))

	_, _, err = fs.GetFile("/a")
	require.ErrorIs(t, err, &ext2.Error{Kind: ext2.NoEnt})
}

func TestRemoveFileRefusesDotAndDotDotByName(t *testing.T) {
	fs, _ := newTestFilesystem(t)
	_, err := fs.CreateFile("/", "sub", ext2.FileTypeDir, 0o755, 0, 0)
	require.NoError(t, err)

	err = fs.RemoveFile("/sub/.")
	require.ErrorIs(t, err, &ext2.Error{Kind: ext2.RemoveRefused})

	err = fs.RemoveFile("/sub/..")
	require.ErrorIs(t, err, &ext2.Error{Kind: ext2.RemoveRefused})

	_, _, err = fs.GetFile("/sub")
	require.NoError(t, err)
}
