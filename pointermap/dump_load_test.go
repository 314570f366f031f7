package pointermap_test

import (
	"encoding/binary"
	"os"
	"testing"

	"ptrsx/pointermap"
	"ptrsx/process"
	"ptrsx/process/memory_map"
)

// fakeProc is a minimal pointermap.MemoryReader backed by a fixed set of
// regions and bytes, standing in for a live process.
type fakeProc struct {
	regions []memory_map.MemoryMapItem
	data    map[uint64][]byte // region start -> backing bytes
}

func (f *fakeProc) GetMemoryMap() ([]memory_map.MemoryMapItem, error) {
	return f.regions, nil
}

func (f *fakeProc) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	for start, buf := range f.data {
		if uint64(addr) >= start && uint64(addr)+uint64(size) <= start+uint64(len(buf)) {
			off := uint64(addr) - start
			return buf[off : off+uint64(size)], nil
		}
	}
	return nil, os.ErrInvalid
}

// newFakeProc builds two regions, R (module "m") and H ("[heap]"), with a
// chain of three 8-byte pointer words: R[0x10] -> H[0x20] -> H[0x50] -> H[0x80],
// matching the shape of spec.md's worked example.
func newFakeProc() *fakeProc {
	rStart, hStart := uint64(0x1000), uint64(0x3000)
	rSize, hSize := 0x1000, 0x1000

	rBuf := make([]byte, rSize)
	hBuf := make([]byte, hSize)
	binary.LittleEndian.PutUint64(rBuf[0x10:], hStart+0x20)
	binary.LittleEndian.PutUint64(hBuf[0x20:], hStart+0x50)
	binary.LittleEndian.PutUint64(hBuf[0x50:], hStart+0x80)

	return &fakeProc{
		regions: []memory_map.MemoryMapItem{
			{Address: rStart, Size: uint(rSize), Perms: "rw-p", Path: "m"},
			{Address: hStart, Size: uint(hSize), Perms: "rw-p", Path: "[heap]"},
		},
		data: map[uint64][]byte{
			rStart: rBuf,
			hStart: hBuf,
		},
	}
}

func dumpToTemp(t *testing.T, proc pointermap.MemoryReader, opts pointermap.DumpOptions) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "ptrsx-*.map")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()

	if _, err := pointermap.Dump(proc, f, opts); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	return f.Name()
}

func TestDumpLoadRoundTrip(t *testing.T) {
	proc := newFakeProc()
	path := dumpToTemp(t, proc, pointermap.DumpOptions{PtrWidth: pointermap.Width64})

	idx, err := pointermap.Load(path, pointermap.LoadOptions{Lazy: false})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer idx.Close()

	if idx.Width() != pointermap.Width64 {
		t.Fatalf("Width() = %d, want %d", idx.Width(), pointermap.Width64)
	}
	if got := len(idx.Regions()); got != 2 {
		t.Fatalf("Regions() len = %d, want 2", got)
	}

	anchors := idx.RegionsByPath("m")
	if len(anchors) != 1 || anchors[0].Start != 0x1000 {
		t.Fatalf("RegionsByPath(%q) = %+v, want one region at 0x1000", "m", anchors)
	}

	// R+0x10 holds a pointer to H+0x20.
	dst, ok := idx.Forward(0x1010)
	if !ok || dst != 0x3020 {
		t.Fatalf("Forward(0x1010) = (%#x, %v), want (0x3020, true)", dst, ok)
	}

	// RangeQuery(0x3020, 0x3020) must return exactly the one pair pointing
	// at H+0x20, which is R+0x10.
	pairs := idx.RangeQuery(0x3020, 0x3020)
	if len(pairs) != 1 || pairs[0].Src != 0x1010 {
		t.Fatalf("RangeQuery(0x3020,0x3020) = %+v, want [{Dst:0x3020 Src:0x1010}]", pairs)
	}
}

func TestDumpLoadLazyMatchesEager(t *testing.T) {
	proc := newFakeProc()
	path := dumpToTemp(t, proc, pointermap.DumpOptions{PtrWidth: pointermap.Width64})

	eager, err := pointermap.Load(path, pointermap.LoadOptions{Lazy: false})
	if err != nil {
		t.Fatalf("Load(eager): %v", err)
	}
	defer eager.Close()

	lazy, err := pointermap.Load(path, pointermap.LoadOptions{Lazy: true})
	if err != nil {
		t.Fatalf("Load(lazy): %v", err)
	}
	defer lazy.Close()

	if eager.PairCount() != lazy.PairCount() {
		t.Fatalf("PairCount mismatch: eager=%d lazy=%d", eager.PairCount(), lazy.PairCount())
	}
	for _, hi := range []uint64{0x3020, 0x3050, 0x3080} {
		got, gotOK := lazy.RangeQuery(hi, hi), eager.RangeQuery(hi, hi)
		if len(got) != len(gotOK) {
			t.Fatalf("RangeQuery(%#x,%#x) mismatch between lazy and eager", hi, hi)
		}
	}
}

func TestLoadRejectsUnsortedPairs(t *testing.T) {
	proc := newFakeProc()
	path := dumpToTemp(t, proc, pointermap.DumpOptions{PtrWidth: pointermap.Width64})

	// Corrupt the freshly-dumped file in place: swap two 16-byte pairs so
	// src descends, if there are at least two pairs.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	idx, err := pointermap.Load(path, pointermap.LoadOptions{Lazy: false})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	n := idx.PairCount()
	idx.Close()
	if n < 2 {
		t.Skip("fixture does not produce enough pairs to exercise ordering check")
	}

	pairStart := len(raw) - int(n)*16
	first := make([]byte, 16)
	second := make([]byte, 16)
	copy(first, raw[pairStart:pairStart+16])
	copy(second, raw[pairStart+16:pairStart+32])
	copy(raw[pairStart:pairStart+16], second)
	copy(raw[pairStart+16:pairStart+32], first)

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := pointermap.Load(path, pointermap.LoadOptions{Lazy: false}); err == nil {
		t.Fatalf("Load: expected an unsorted-pairs error, got nil")
	}
}
