//go:build !linux

package pointermap

import (
	"io"
	"os"
)

// mmapPairs falls back to an eager heap read on platforms without an mmap
// implementation wired in (only golang.org/x/sys/unix is in the teacher's
// dependency set; golang.org/x/sys/windows has no equivalent helper used
// elsewhere in this module). Load's Lazy option is then a no-op here.
func mmapPairs(f *os.File, offset, length int64) ([]byte, func() error, error) {
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, nil, err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, nil, err
	}
	return buf, nil, nil
}
