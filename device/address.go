// Package device provides the block-device abstraction the ext2 core is
// built on: a byte (or arbitrary element-typed) address space accessed
// through borrowed slices and copy-on-write commits.
package device

import "fmt"

// Address is an offset in elements from the start of a Device.
type Address uint64

// Size is the total length, in elements, of a Device.
type Size uint64

// Add returns the address shifted forward by n elements.
func (a Address) Add(n uint64) Address {
	return a + Address(n)
}

// Sub returns the address shifted backward by n elements. Callers must
// ensure n does not underflow a.
func (a Address) Sub(n uint64) Address {
	return a - Address(n)
}

// Range is a half-open range of addresses, [Start, End).
type Range struct {
	Start Address
	End   Address
}

// Len is the number of elements covered by the range.
func (r Range) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return uint64(r.End - r.Start)
}

// RangeOf builds the range [start, start+n).
func RangeOf(start Address, n uint64) Range {
	return Range{Start: start, End: start.Add(n)}
}

// OutOfBoundsError reports an access outside the bounds of a device or
// one of its substructures.
type OutOfBoundsError struct {
	Structure string
	Value     uint64
	Lower     uint64
	Upper     uint64
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("%s: value %d out of bounds [%d, %d)", e.Structure, e.Value, e.Lower, e.Upper)
}
