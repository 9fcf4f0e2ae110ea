//go:build !linux
// +build !linux

package file

import (
	"os"

	"github.com/lihanrui2913/goext2/backend"
)

func sizeOfBlockDevice(f *os.File) (int64, error) {
	return 0, backend.ErrNotSuitable
}
