package pointermap

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"ptrsx/process"
	"ptrsx/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// DefaultChunkSize is the read granularity used while scanning a region for
// candidate pointers (spec.md §4.B: "typically 64 KiB").
const DefaultChunkSize = 64 * 1024

// MemoryReader is the process reader adapter capability set Dump needs
// (spec.md §4.A): list the readable regions and read bytes from one. Any
// process.Process satisfies this structurally; tests can supply a much
// smaller fake without implementing the rest of process.Process.
type MemoryReader interface {
	GetMemoryMap() ([]memory_map.MemoryMapItem, error)
	ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error)
}

// DumpOptions configures the pointer-map builder.
type DumpOptions struct {
	// PtrWidth is the pointer width for this dump; 4 or 8.
	PtrWidth Width

	// AlignOnly restricts the scanned subset to regions that look like
	// data (heap, stack, anonymous, writable file-backed) per §4.B. The
	// region table written to the file is unaffected: it always contains
	// the full readable set.
	AlignOnly bool

	// ChunkSize is the read granularity; zero selects DefaultChunkSize.
	ChunkSize uint

	// Log receives progress/warning messages. Nil disables logging.
	Log *logger.Logger
}

// DumpStats reports what happened during a Dump call.
type DumpStats struct {
	RegionsTotal   int
	RegionsScanned int
	RegionsSkipped int // disappeared mid-scan or failed to read entirely
	PairsWritten   uint64
}

// Dump scans proc's readable regions and writes a pointer-map file to w,
// per spec.md §4.B / §6. w must support Seek because the pair count in the
// fixed header is only known once the pair stream has been fully written;
// the builder patches that one field in place afterward rather than
// buffering the whole pair set in memory.
func Dump(proc MemoryReader, w io.WriteSeeker, opts DumpOptions) (DumpStats, error) {
	var stats DumpStats

	if !opts.PtrWidth.valid() {
		return stats, wrapf(ErrInvalidArgument, "pointer width %d", opts.PtrWidth)
	}
	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	log := opts.Log
	if log == nil {
		log = logger.NewLogger(coloransi.Color(coloransi.ColorBlue, coloransi.ColorOrange, "pointermap-dump"))
	}

	fullMap, err := proc.GetMemoryMap()
	if err != nil {
		return stats, wrapf(err, "list regions")
	}
	sort.Slice(fullMap, func(i, j int) bool { return fullMap[i].Address < fullMap[j].Address })

	readable := make([]memory_map.MemoryMapItem, 0, len(fullMap))
	for _, item := range fullMap {
		if item.IsReadable() {
			readable = append(readable, item)
		}
	}
	stats.RegionsTotal = len(readable)

	regions := make([]Region, len(readable))
	for i, item := range readable {
		regions[i] = Region{Start: item.Address, End: item.Address + uint64(item.Size), Path: item.Path}
	}

	// Header is written with a placeholder pair count and patched once the
	// pair stream is known in full.
	header := Header{
		Magic:       Magic,
		Version:     Version,
		PtrWidth:    opts.PtrWidth,
		RegionCount: uint32(len(regions)),
	}
	if opts.AlignOnly {
		header.Flags |= FlagAlignOnly
	}

	if err := writeHeader(w, header); err != nil {
		return stats, wrapf(err, "write header")
	}
	if err := writeRegionTable(w, regions); err != nil {
		return stats, wrapf(err, "write region table")
	}

	bw := bufio.NewWriterSize(w, 256*1024)
	var pairCount uint64

	scanBuf := make([]byte, chunkSize)
	for _, item := range readable {
		if !scanSubset(item, opts.AlignOnly) {
			continue
		}

		_, skipped, err := scanRegion(proc, item, regions, opts.PtrWidth, scanBuf, bw, &pairCount)
		if err != nil {
			return stats, wrapf(err, "write pairs for region 0x%x", item.Address)
		}
		if skipped {
			stats.RegionsSkipped++
			log.Debugln("region disappeared mid-scan, skipping:", fmt.Sprintf("0x%x", item.Address))
			continue
		}
		stats.RegionsScanned++
	}

	if err := bw.Flush(); err != nil {
		return stats, wrapf(err, "flush pair stream")
	}

	stats.PairsWritten = pairCount
	header.PairCount = pairCount
	if err := patchPairCount(w, pairCount); err != nil {
		return stats, wrapf(err, "patch pair count")
	}

	log.Infoln("dump complete:", stats.RegionsScanned, "scanned,", stats.RegionsSkipped, "skipped,", pairCount, "pairs")
	return stats, nil
}

// scanSubset decides whether a region belongs to the chosen scan subset
// (spec.md §4.B).
func scanSubset(item memory_map.MemoryMapItem, alignOnly bool) bool {
	if !alignOnly {
		return true
	}
	switch item.Path {
	case "[heap]", "[stack]", "[anon]", "":
		return true
	}
	return item.IsWritable()
}

// scanRegion reads one region in chunks, finds pointer-aligned words whose
// value falls inside any readable region, and writes the resulting
// (src, dst) pairs to out in ascending src order.
func scanRegion(
	proc MemoryReader,
	item memory_map.MemoryMapItem,
	sortedRegions []Region,
	width Width,
	scanBuf []byte,
	out *bufio.Writer,
	pairCount *uint64,
) (n int, skippedEntirely bool, err error) {
	start := item.Address
	end := item.Address + uint64(item.Size)
	w := uint64(width)

	// Align the scan start up to the next word boundary.
	if rem := start % w; rem != 0 {
		start += w - rem
	}

	anyRead := false
	for addr := start; addr+w <= end; {
		readLen := uint64(len(scanBuf))
		if addr+readLen > end {
			readLen = end - addr
		}
		readLen -= readLen % w
		if readLen == 0 {
			break
		}

		data, rerr := proc.ReadMemory(process.ProcessMemoryAddress(addr), process.ProcessMemorySize(readLen))
		if rerr != nil {
			// A failure to read a given region is non-fatal (§4.A); if we
			// already made progress in this region, treat the remainder as
			// simply unreadable and move on rather than discarding the
			// whole region.
			if anyRead {
				break
			}
			return 0, true, nil
		}
		anyRead = true

		for off := uint64(0); off+w <= uint64(len(data)); off += w {
			var v uint64
			if width == Width64 {
				v = binary.LittleEndian.Uint64(data[off : off+8])
			} else {
				v = uint64(binary.LittleEndian.Uint32(data[off : off+4]))
			}

			if !regionContains(sortedRegions, v) {
				continue
			}

			src := addr + off
			if err := writePair(out, src, v, width); err != nil {
				return n, false, err
			}
			*pairCount++
			n++
		}

		addr += readLen
	}

	return n, false, nil
}

// regionContains reports whether addr lies in any of the sorted (by Start)
// regions, via binary search (spec.md requires this check against the full
// readable set, not just the subset being scanned).
func regionContains(sorted []Region, addr uint64) bool {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i].End > addr })
	return i < len(sorted) && sorted[i].Start <= addr
}
