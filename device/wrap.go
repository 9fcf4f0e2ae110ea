package device

import (
	"fmt"
	"io"
	"time"

	"github.com/lihanrui2913/goext2/backend"
	timesv1 "gopkg.in/djherbis/times.v1"
)

// Backend adapts a backend.Storage (the host-file/device abstraction)
// into a Device[byte], so any ReaderAt/WriterAt-capable storage can
// back the ext2 core.
type Backend struct {
	storage backend.Storage
	size    int64
	clock   func() (time.Time, bool)
}

// NewBackend wraps a backend.Storage as a byte Device. size is the
// usable length in bytes (the caller, typically a SubStorage view, is
// responsible for bounding it).
func NewBackend(s backend.Storage, size int64) *Backend {
	return &Backend{storage: s, size: size, clock: hostClock(s)}
}

// hostClock tries to provide a real-time clock backed by the host OS
// file underlying the storage; birth/access/mtime retrieval goes
// through djherbis/times, which is the one cross-platform library in
// the retrieval pack for that purpose.
func hostClock(s backend.Storage) func() (time.Time, bool) {
	osFile, err := s.Sys()
	if err != nil || osFile == nil {
		return func() (time.Time, bool) { return time.Time{}, false }
	}
	return func() (time.Time, bool) {
		t, err := timesv1.Stat(osFile.Name())
		if err != nil {
			return time.Now(), true
		}
		return t.ModTime(), true
	}
}

var _ Device[byte] = (*Backend)(nil)

// Size returns the byte length of the device.
func (b *Backend) Size() Size {
	return Size(b.size)
}

// Slice returns a borrowed copy of the given byte range.
func (b *Backend) Slice(r Range) (Slice[byte], error) {
	if uint64(r.End) > uint64(b.size) {
		return Slice[byte]{}, &OutOfBoundsError{Structure: "device", Value: uint64(r.End), Lower: 0, Upper: uint64(b.size)}
	}
	buf := make([]byte, r.Len())
	n, err := b.storage.ReadAt(buf, int64(r.Start))
	if err != nil && err != io.EOF {
		return Slice[byte]{}, fmt.Errorf("device: read at %d: %w", r.Start, err)
	}
	if uint64(n) < r.Len() {
		return Slice[byte]{}, fmt.Errorf("device: short read at %d: got %d of %d bytes", r.Start, n, r.Len())
	}
	return Slice[byte]{addr: r.Start, data: buf}, nil
}

// Commit writes a previously produced owned slice back to the device.
func (b *Backend) Commit(c Commit[byte]) error {
	if uint64(c.Addr())+uint64(len(c.Data())) > uint64(b.size) {
		return &OutOfBoundsError{Structure: "device", Value: uint64(c.Addr()) + uint64(len(c.Data())), Lower: 0, Upper: uint64(b.size)}
	}
	w, err := b.storage.Writable()
	if err != nil {
		return fmt.Errorf("device: commit: %w", err)
	}
	n, err := w.WriteAt(c.Data(), int64(c.Addr()))
	if err != nil {
		return fmt.Errorf("device: write at %d: %w", c.Addr(), err)
	}
	if n < len(c.Data()) {
		return io.ErrShortWrite
	}
	return nil
}

// Now reports the current time if the underlying backend is capable of
// it.
func (b *Backend) Now() (time.Time, bool) {
	return b.clock()
}
