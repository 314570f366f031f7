package pointermap

import (
	"bufio"
	"encoding/binary"
	"io"
)

// pairCountOffset is the byte offset of the PairCount field within the
// fixed header, used to patch it in place once the real count is known.
const pairCountOffset = 8 + 2 + 1 + 1 + 4

func writeHeader(w io.Writer, h Header) error {
	var buf [headerSize]byte
	copy(buf[0:8], h.Magic[:])
	binary.LittleEndian.PutUint16(buf[8:10], h.Version)
	buf[10] = byte(h.PtrWidth)
	buf[11] = h.Flags
	binary.LittleEndian.PutUint32(buf[12:16], h.RegionCount)
	binary.LittleEndian.PutUint64(buf[16:24], h.PairCount)
	_, err := w.Write(buf[:])
	return err
}

func patchPairCount(w io.WriteSeeker, pairCount uint64) error {
	if _, err := w.Seek(pairCountOffset, io.SeekStart); err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], pairCount)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	_, err := w.Seek(0, io.SeekEnd)
	return err
}

func readHeader(r io.Reader) (Header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, wrapf(ErrCorruptHeader, "read header: %v", err)
	}

	var h Header
	copy(h.Magic[:], buf[0:8])
	if h.Magic != Magic {
		return Header{}, wrapf(ErrCorruptHeader, "bad magic %v", h.Magic)
	}
	h.Version = binary.LittleEndian.Uint16(buf[8:10])
	if h.Version != Version {
		return Header{}, wrapf(ErrCorruptHeader, "unsupported version %d", h.Version)
	}
	h.PtrWidth = Width(buf[10])
	if !h.PtrWidth.valid() {
		return Header{}, wrapf(ErrCorruptHeader, "bad pointer width %d", h.PtrWidth)
	}
	h.Flags = buf[11]
	h.RegionCount = binary.LittleEndian.Uint32(buf[12:16])
	h.PairCount = binary.LittleEndian.Uint64(buf[16:24])
	return h, nil
}

func writeRegionTable(w io.Writer, regions []Region) error {
	bw := bufio.NewWriter(w)
	for _, r := range regions {
		var fixed [18]byte
		binary.LittleEndian.PutUint64(fixed[0:8], r.Start)
		binary.LittleEndian.PutUint64(fixed[8:16], r.End)
		pathBytes := []byte(r.Path)
		if len(pathBytes) > 0xFFFF {
			return wrapf(ErrCorruptRegionTable, "path too long (%d bytes)", len(pathBytes))
		}
		binary.LittleEndian.PutUint16(fixed[16:18], uint16(len(pathBytes)))
		if _, err := bw.Write(fixed[:]); err != nil {
			return err
		}
		if _, err := bw.Write(pathBytes); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func readRegionTable(r io.Reader, count uint32) ([]Region, error) {
	regions := make([]Region, count)
	for i := range regions {
		var fixed [18]byte
		if _, err := io.ReadFull(r, fixed[:]); err != nil {
			return nil, wrapf(ErrCorruptRegionTable, "region %d: %v", i, err)
		}
		start := binary.LittleEndian.Uint64(fixed[0:8])
		end := binary.LittleEndian.Uint64(fixed[8:16])
		if end < start {
			return nil, wrapf(ErrCorruptRegionTable, "region %d has end < start", i)
		}
		pathLen := binary.LittleEndian.Uint16(fixed[16:18])
		pathBytes := make([]byte, pathLen)
		if pathLen > 0 {
			if _, err := io.ReadFull(r, pathBytes); err != nil {
				return nil, wrapf(ErrCorruptRegionTable, "region %d path: %v", i, err)
			}
		}
		regions[i] = Region{Start: start, End: end, Path: string(pathBytes)}
	}
	return regions, nil
}

func pairSize(width Width) int {
	return 2 * int(width)
}

func writePair(w io.Writer, src, dst uint64, width Width) error {
	if width == Width64 {
		var buf [16]byte
		binary.LittleEndian.PutUint64(buf[0:8], src)
		binary.LittleEndian.PutUint64(buf[8:16], dst)
		_, err := w.Write(buf[:])
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(src))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(dst))
	_, err := w.Write(buf[:])
	return err
}

func readPair(buf []byte, width Width) (src, dst uint64) {
	if width == Width64 {
		return binary.LittleEndian.Uint64(buf[0:8]), binary.LittleEndian.Uint64(buf[8:16])
	}
	return uint64(binary.LittleEndian.Uint32(buf[0:4])), uint64(binary.LittleEndian.Uint32(buf[4:8]))
}
