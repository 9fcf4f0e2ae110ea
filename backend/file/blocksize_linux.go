//go:build linux
// +build linux

package file

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// blkGetSize64 is BLKGETSIZE64 from linux/fs.h: it reports a block
// device's size in bytes as a uint64, unlike BLKGETSIZE/BLKSSZGET which
// only carry an int and would truncate on a large device.
const blkGetSize64 = 0x80081272

func sizeOfBlockDevice(f *os.File) (int64, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), blkGetSize64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, fmt.Errorf("BLKGETSIZE64 ioctl: %w", errno)
	}
	return int64(size), nil
}
