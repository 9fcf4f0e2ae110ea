package device

import (
	"time"
)

// Memory is an in-memory Device[byte], used by tests; cmd/mkext2
// writes straight to a Backend instead.
type Memory struct {
	data []byte
	now  func() (time.Time, bool)
}

// NewMemory allocates a zeroed in-memory device of size bytes.
func NewMemory(size uint64) *Memory {
	return &Memory{data: make([]byte, size)}
}

var _ Device[byte] = (*Memory)(nil)

// WithClock installs a fixed or synthetic clock, for reproducible
// timestamp tests.
func (m *Memory) WithClock(now func() (time.Time, bool)) *Memory {
	m.now = now
	return m
}

// Size returns the byte length of the device.
func (m *Memory) Size() Size {
	return Size(len(m.data))
}

// Slice returns a borrowed copy of the given byte range.
func (m *Memory) Slice(r Range) (Slice[byte], error) {
	if uint64(r.End) > uint64(len(m.data)) {
		return Slice[byte]{}, &OutOfBoundsError{Structure: "memory device", Value: uint64(r.End), Lower: 0, Upper: uint64(len(m.data))}
	}
	buf := make([]byte, r.Len())
	copy(buf, m.data[r.Start:r.End])
	return Slice[byte]{addr: r.Start, data: buf}, nil
}

// Commit writes a previously produced owned slice back into memory.
func (m *Memory) Commit(c Commit[byte]) error {
	end := uint64(c.Addr()) + uint64(len(c.Data()))
	if end > uint64(len(m.data)) {
		return &OutOfBoundsError{Structure: "memory device", Value: end, Lower: 0, Upper: uint64(len(m.data))}
	}
	copy(m.data[c.Addr():], c.Data())
	return nil
}

// Now returns the installed clock, or the real wall clock by default.
func (m *Memory) Now() (time.Time, bool) {
	if m.now != nil {
		return m.now()
	}
	return time.Now(), true
}

// Bytes exposes the raw backing array, for tests that want to inspect
// the on-disk image directly.
func (m *Memory) Bytes() []byte {
	return m.data
}
