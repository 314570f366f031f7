// Package pointermap implements the pointer-map file format: building a
// compact snapshot of a process's pointer-shaped words (Dump) and loading
// it back into a queryable in-memory index (Load, Index).
package pointermap

import (
	"errors"
	"fmt"
)

// Magic identifies a pointer-map file. Matches spec.md §6: "PTRSX\0\0\0".
var Magic = [8]byte{'P', 'T', 'R', 'S', 'X', 0, 0, 0}

// Version is the current on-disk format version.
const Version uint16 = 1

// Width is the pointer width recorded in a dump's header.
type Width uint8

const (
	Width32 Width = 4
	Width64 Width = 8
)

func (w Width) valid() bool {
	return w == Width32 || w == Width64
}

// Flag bits stored in the header.
const (
	FlagAlignOnly uint8 = 1 << iota // dump only scanned data-like (align_only) regions
)

// Header is the fixed-size pointer-map file header (§6).
type Header struct {
	Magic       [8]byte
	Version     uint16
	PtrWidth    Width
	Flags       uint8
	RegionCount uint32
	PairCount   uint64
}

const headerSize = 8 + 2 + 1 + 1 + 4 + 8

// Region is a half-open address interval with its backing path, the anchor
// identity described in spec.md §3.
type Region struct {
	Start uint64
	End   uint64
	Path  string
}

// Len returns end - start.
func (r Region) Len() uint64 {
	return r.End - r.Start
}

// Contains reports whether addr falls in [Start, End).
func (r Region) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

var (
	// ErrInvalidArgument covers a pointer width other than 4 or 8 passed to
	// Dump and a map file that Load cannot open, reported before any work
	// begins.
	ErrInvalidArgument = errors.New("pointermap: invalid argument")

	// ErrCorruptHeader is returned when a map file's magic or version does
	// not match what this package writes.
	ErrCorruptHeader = errors.New("pointermap: corrupt header")

	// ErrCorruptRegionTable is returned when the region table cannot be
	// parsed (negative/overflowing lengths, truncated path bytes).
	ErrCorruptRegionTable = errors.New("pointermap: corrupt region table")

	// ErrUnsortedPairs is returned when the pair stream is not in
	// ascending-src order, which would break the loader's assumptions.
	ErrUnsortedPairs = errors.New("pointermap: pair stream is not sorted by src")

	// ErrSizeMismatch is returned when the file's total size does not
	// equal header + regions + pair_count*2*ptr_width.
	ErrSizeMismatch = errors.New("pointermap: file size does not match header")
)

func wrapf(base error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), base)
}
