//go:build linux

package pointermap

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapPairs memory-maps the pair-stream region of f (spec.md §4.C "lazy
// load: memory-map the pair stream"), grounded on the same
// golang.org/x/sys/unix import the teacher already uses for
// process_vm_readv/process_vm_writev.
func mmapPairs(f *os.File, offset, length int64) ([]byte, func() error, error) {
	if length == 0 {
		f.Close()
		return nil, func() error { return nil }, nil
	}

	// mmap offsets must be page-aligned; map from the nearest lower page
	// boundary and slice back to the requested window.
	pageSize := int64(os.Getpagesize())
	alignedOffset := offset - offset%pageSize
	pad := offset - alignedOffset

	data, err := unix.Mmap(int(f.Fd()), alignedOffset, int(length+pad), unix.PROT_READ, unix.MAP_SHARED)
	f.Close() // the mapping remains valid once made; the fd is not needed afterward
	if err != nil {
		return nil, nil, err
	}

	view := data[pad:]
	closer := func() error {
		return unix.Munmap(data)
	}
	return view, closer, nil
}
