package pointermap

import (
	"fmt"
	"io"
	"os"
	"sort"
)

// Pair is a single (dst, src) hit returned by RangeQuery.
type Pair struct {
	Dst uint64
	Src uint64
}

// Index is the in-memory view over a loaded pointer map (spec.md §3/§4.C).
// It is immutable after Load and may be shared freely across goroutines;
// Close releases whatever backing storage Load chose (mmap or heap).
type Index struct {
	width     Width
	regions   []Region
	byPath    map[string][]int
	rawPairs  []byte // ascending-by-src pair stream, mmap'd or heap-copied
	pairCount uint64

	// reverse index: sorted by dst ascending, stable by src ascending.
	// 16 bytes/pair on a 64-bit dump, built once here.
	dstSorted []uint64
	srcForDst []uint64

	closer func() error
}

// LoadOptions configures Load.
type LoadOptions struct {
	// Lazy requests the pair stream be memory-mapped instead of read onto
	// the heap. Falls back silently to eager loading on platforms without
	// an mmap implementation wired in (see mmap_other.go).
	Lazy bool
}

// Load opens a pointer-map file written by Dump and builds an Index.
func Load(path string, opts LoadOptions) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapf(ErrInvalidArgument, "open %s: %v", path, err)
	}

	header, regions, pairOffset, err := readHeaderAndRegions(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapf(ErrCorruptHeader, "stat: %v", err)
	}

	wantPairBytes := int64(header.PairCount) * int64(pairSize(header.PtrWidth))
	if fi.Size() != pairOffset+wantPairBytes {
		f.Close()
		return nil, wrapf(ErrSizeMismatch, "file is %d bytes, expected %d", fi.Size(), pairOffset+wantPairBytes)
	}

	var rawPairs []byte
	var closer func() error

	if opts.Lazy {
		// mmapPairs owns f's lifetime from here (it closes or mmaps it).
		rawPairs, closer, err = mmapPairs(f, pairOffset, wantPairBytes)
		if err != nil {
			return nil, wrapf(err, "mmap pair stream")
		}
	} else {
		rawPairs = make([]byte, wantPairBytes)
		if _, err := io.ReadFull(f, rawPairs); err != nil {
			f.Close()
			return nil, wrapf(ErrCorruptHeader, "read pair stream: %v", err)
		}
		f.Close()
	}

	idx := &Index{
		width:     header.PtrWidth,
		regions:   regions,
		rawPairs:  rawPairs,
		pairCount: header.PairCount,
		closer:    closer,
	}

	idx.byPath = make(map[string][]int, len(regions))
	for i, r := range regions {
		idx.byPath[r.Path] = append(idx.byPath[r.Path], i)
	}

	if err := idx.buildReverseIndex(); err != nil {
		idx.Close()
		return nil, err
	}

	return idx, nil
}

func readHeaderAndRegions(r io.Reader) (Header, []Region, int64, error) {
	header, err := readHeader(r)
	if err != nil {
		return Header{}, nil, 0, err
	}
	regions, err := readRegionTable(r, header.RegionCount)
	if err != nil {
		return Header{}, nil, 0, err
	}

	offset := int64(headerSize)
	for _, reg := range regions {
		offset += 18 + int64(len(reg.Path))
	}
	return header, regions, offset, nil
}

// buildReverseIndex validates ascending-src ordering (S6: unsorted pair
// file is a corrupt-input error) and builds the sorted-by-dst view used by
// RangeQuery.
func (idx *Index) buildReverseIndex() error {
	n := int(idx.pairCount)
	dst := make([]uint64, n)
	src := make([]uint64, n)

	var prevSrc uint64
	size := pairSize(idx.width)
	for i := 0; i < n; i++ {
		s, d := readPair(idx.rawPairs[i*size:], idx.width)
		if i > 0 && s < prevSrc {
			return wrapf(ErrUnsortedPairs, "pair %d: src %#x < previous src %#x", i, s, prevSrc)
		}
		prevSrc = s
		dst[i] = d
		src[i] = s
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if dst[ia] != dst[ib] {
			return dst[ia] < dst[ib]
		}
		return src[ia] < src[ib]
	})

	idx.dstSorted = make([]uint64, n)
	idx.srcForDst = make([]uint64, n)
	for i, o := range order {
		idx.dstSorted[i] = dst[o]
		idx.srcForDst[i] = src[o]
	}
	return nil
}

// Regions returns the ordered region list from the map's region table.
func (idx *Index) Regions() []Region {
	return idx.regions
}

// RegionsByPath is the anchor lookup: all regions sharing the given path.
func (idx *Index) RegionsByPath(path string) []Region {
	positions := idx.byPath[path]
	if len(positions) == 0 {
		return nil
	}
	out := make([]Region, len(positions))
	for i, p := range positions {
		out[i] = idx.regions[p]
	}
	return out
}

// Width returns the pointer width recorded in the map's header.
func (idx *Index) Width() Width {
	return idx.width
}

// PairCount returns the number of (src, dst) pairs in the map.
func (idx *Index) PairCount() uint64 {
	return idx.pairCount
}

// Forward looks up the (unique) dst recorded for src, if any.
func (idx *Index) Forward(src uint64) (dst uint64, ok bool) {
	size := pairSize(idx.width)
	n := int(idx.pairCount)
	i := sort.Search(n, func(i int) bool {
		s, _ := readPair(idx.rawPairs[i*size:], idx.width)
		return s >= src
	})
	if i >= n {
		return 0, false
	}
	s, d := readPair(idx.rawPairs[i*size:], idx.width)
	if s != src {
		return 0, false
	}
	return d, true
}

// RangeQuery returns every (dst, src) pair with lo <= dst <= hi, in
// ascending dst order and, for equal dst, ascending src order (spec.md
// §4.D's tie convention). O(log n + k).
func (idx *Index) RangeQuery(lo, hi uint64) []Pair {
	if lo > hi {
		return nil
	}
	n := len(idx.dstSorted)
	start := sort.Search(n, func(i int) bool { return idx.dstSorted[i] >= lo })
	end := sort.Search(n, func(i int) bool { return idx.dstSorted[i] > hi })
	if start >= end {
		return nil
	}
	out := make([]Pair, end-start)
	for i := start; i < end; i++ {
		out[i-start] = Pair{Dst: idx.dstSorted[i], Src: idx.srcForDst[i]}
	}
	return out
}

// RegionFor returns the region covering addr, if any.
func (idx *Index) RegionFor(addr uint64) *Region {
	i := sort.Search(len(idx.regions), func(i int) bool { return idx.regions[i].End > addr })
	if i < len(idx.regions) && idx.regions[i].Start <= addr {
		return &idx.regions[i]
	}
	return nil
}

// Close releases the index's backing storage (an mmap, or nothing for a
// heap-loaded index).
func (idx *Index) Close() error {
	if idx.closer == nil {
		return nil
	}
	err := idx.closer()
	idx.closer = nil
	return err
}

func (idx *Index) String() string {
	return fmt.Sprintf("Index{regions=%d pairs=%d width=%d}", len(idx.regions), idx.pairCount, idx.width)
}
