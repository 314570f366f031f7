package chainsearch_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"reflect"
	"strings"
	"testing"

	"ptrsx/chainsearch"
	"ptrsx/pointermap"
	"ptrsx/process/memory_map"
)

// assertChainSound re-walks a parsed chain forward through idx, starting
// from its root anchor, and checks the final address lands in params's
// match window. This is the "forward re-walk oracle" for soundness: every
// chain the reverse engine emits must describe a real forward path from an
// anchor to the target.
func assertChainSound(t *testing.T, idx *pointermap.Index, params chainsearch.Params, line string) {
	t.Helper()

	c, err := chainsearch.ParseChain(line)
	if err != nil {
		t.Fatalf("ParseChain(%q): %v", line, err)
	}

	candidates := idx.RegionsByPath(c.RootPath)
	if len(candidates) == 0 {
		t.Fatalf("chain %q: root path %q not present in map", line, c.RootPath)
	}

	var addr uint64
	found := false
	for _, r := range candidates {
		if c.RootOffset < r.Len() {
			addr = r.Start + c.RootOffset
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("chain %q: root offset %#x out of range for %q", line, c.RootOffset, c.RootPath)
	}

	for _, o := range c.Offsets {
		dst, ok := idx.Forward(addr)
		if !ok {
			t.Fatalf("chain %q: no forward pointer recorded at %#x", line, addr)
		}
		addr = uint64(int64(dst) + o)
	}

	lo := params.Target - params.RangeRight
	hi := params.Target + params.RangeLeft
	if addr < lo || addr > hi {
		t.Fatalf("chain %q re-walks to %#x, want in [%#x, %#x]", line, addr, lo, hi)
	}
}

func runAndSplitLines(t *testing.T, idx *pointermap.Index, params chainsearch.Params) []string {
	t.Helper()
	var out bytes.Buffer
	if _, err := chainsearch.Search(context.Background(), idx, params, &out); err != nil {
		t.Fatalf("Search: %v", err)
	}
	trimmed := strings.TrimSpace(out.String())
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

// TestSearchSoundness is property 2 from spec.md §8: every emitted chain,
// re-walked forward from its anchor, must land back in the target's match
// window. Exercised against the package's existing fixtures plus the wider
// offset-window scenario, so the oracle covers both exact and windowed
// matching.
func TestSearchSoundness(t *testing.T) {
	cases := []struct {
		name   string
		idx    *pointermap.Index
		params chainsearch.Params
	}{
		{"exact chain", newFixtureIndex(t), baseParams()},
		{"offset window", newFixtureIndex(t), chainsearch.Params{
			Target: 0x3088, Depth: 3, MinLength: 1,
			RangeLeft: 0, RangeRight: 8, Anchors: []string{"m"}, Workers: 1,
		}},
		{"cyclic graph", newCyclicFixtureIndex(t), func() chainsearch.Params {
			p := baseParams()
			p.Depth = 5
			return p
		}()},
		{"branching fixture", newBranchingFixture(t).idx, branchingParams()},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			lines := runAndSplitLines(t, c.idx, c.params)
			if len(lines) == 0 {
				t.Fatalf("expected at least one emitted chain")
			}
			for _, line := range lines {
				assertChainSound(t, c.idx, c.params, line)
			}
		})
	}
}

// rawPair is a known-good (src, dst) edge used to build a synthetic fixture
// and, independently, to drive a brute-force forward enumerator — the
// ground truth the reverse engine's output is checked against.
type rawPair struct {
	src, dst uint64
}

// branchingFixture is a small synthetic index with two anchor modules and
// converging intermediate nodes, built to exercise completeness: several
// distinct roots share intermediate hops on the way to a common target.
type branchingFixture struct {
	idx     *pointermap.Index
	pairs   []rawPair
	anchors []pointermap.Region
}

// newBranchingFixture builds:
//
//	m1+0x10, m1+0x20 -> heap+0x100 \
//	m2+0x10           -> heap+0x100 -> heap+0x300 -> heap+0x400 (target)
//	m1+0x30, m1+0x40 -> heap+0x200 /
//	m2+0x20           -> heap+0x200 -> heap+0x300 -------------^
//
// six roots across two anchor modules, all reaching the same target at
// depth exactly 3 through one of two shared intermediate nodes.
func newBranchingFixture(t *testing.T) branchingFixture {
	t.Helper()

	m1 := pointermap.Region{Start: 0x1000, End: 0x2000, Path: "m1"}
	m2 := pointermap.Region{Start: 0x2000, End: 0x3000, Path: "m2"}
	heapStart := uint64(0x5000)
	heapSize := 0x1000

	pairs := []rawPair{
		{m1.Start + 0x10, heapStart + 0x100},
		{m1.Start + 0x20, heapStart + 0x100},
		{m1.Start + 0x30, heapStart + 0x200},
		{m1.Start + 0x40, heapStart + 0x200},
		{m2.Start + 0x10, heapStart + 0x100},
		{m2.Start + 0x20, heapStart + 0x200},
		{heapStart + 0x100, heapStart + 0x300},
		{heapStart + 0x200, heapStart + 0x300},
		{heapStart + 0x300, heapStart + 0x400},
	}

	m1Buf := make([]byte, m1.Len())
	m2Buf := make([]byte, m2.Len())
	heapBuf := make([]byte, heapSize)

	for _, p := range pairs {
		switch {
		case p.src >= m1.Start && p.src < m1.End:
			binary.LittleEndian.PutUint64(m1Buf[p.src-m1.Start:], p.dst)
		case p.src >= m2.Start && p.src < m2.End:
			binary.LittleEndian.PutUint64(m2Buf[p.src-m2.Start:], p.dst)
		default:
			binary.LittleEndian.PutUint64(heapBuf[p.src-heapStart:], p.dst)
		}
	}

	proc := &fakeProc{
		regions: []memory_map.MemoryMapItem{
			{Address: m1.Start, Size: uint(m1.Len()), Perms: "rw-p", Path: m1.Path},
			{Address: m2.Start, Size: uint(m2.Len()), Perms: "rw-p", Path: m2.Path},
			{Address: heapStart, Size: uint(heapSize), Perms: "rw-p", Path: "[heap]"},
		},
		data: map[uint64][]byte{m1.Start: m1Buf, m2.Start: m2Buf, heapStart: heapBuf},
	}

	f, err := os.CreateTemp(t.TempDir(), "ptrsx-branch-*.map")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()

	if _, err := pointermap.Dump(proc, f, pointermap.DumpOptions{PtrWidth: pointermap.Width64}); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	idx, err := pointermap.Load(f.Name(), pointermap.LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	return branchingFixture{idx: idx, pairs: pairs, anchors: []pointermap.Region{m1, m2}}
}

func branchingParams() chainsearch.Params {
	return chainsearch.Params{
		Target:     0x5400,
		Depth:      3,
		MinLength:  1,
		RangeLeft:  0,
		RangeRight: 0,
		Anchors:    []string{"m1", "m2"},
		Workers:    1,
	}
}

// bruteForceChains is property 3's independent oracle: a brute-force
// forward enumerator that starts from every known root src inside an anchor
// region and walks the recorded forward edges, trying every offset in the
// match window at each step, emitting a chain whenever the walk is within
// [MinLength, Depth] hops and lands in the target window. It shares no code
// with the reverse engine in chainsearch/search.go.
func bruteForceChains(pairs []rawPair, anchors []pointermap.Region, params chainsearch.Params) map[string]bool {
	forward := make(map[uint64]uint64, len(pairs))
	for _, p := range pairs {
		forward[p.src] = p.dst
	}

	out := make(map[string]bool)

	var walk func(region pointermap.Region, rootOff uint64, addr uint64, offsets []int64)
	walk = func(region pointermap.Region, rootOff uint64, addr uint64, offsets []int64) {
		if len(offsets) >= params.MinLength {
			lo := params.Target - params.RangeRight
			hi := params.Target + params.RangeLeft
			if addr >= lo && addr <= hi {
				c := chainsearch.Chain{RootPath: region.Path, RootOffset: rootOff, Offsets: append([]int64(nil), offsets...)}
				out[c.Format()] = true
			}
		}
		if len(offsets) == params.Depth {
			return
		}
		dst, ok := forward[addr]
		if !ok {
			return
		}
		for o := -int64(params.RangeLeft); o <= int64(params.RangeRight); o++ {
			next := uint64(int64(dst) + o)
			walk(region, rootOff, next, append(append([]int64(nil), offsets...), o))
		}
	}

	for _, r := range anchors {
		for _, p := range pairs {
			if p.src < r.Start || p.src >= r.End {
				continue
			}
			walk(r, p.src-r.Start, p.src, nil)
		}
	}
	return out
}

// TestSearchCompletenessMatchesBruteForce is property 3 from spec.md §8: on
// a small synthetic index (9 pairs, depth 3, 2 anchors, well under the
// ≤1,000/≤5/≤3 bound), the reverse engine's output set must equal a
// brute-force forward enumerator's output set.
func TestSearchCompletenessMatchesBruteForce(t *testing.T) {
	fx := newBranchingFixture(t)
	params := branchingParams()

	lines := runAndSplitLines(t, fx.idx, params)
	got := make(map[string]bool, len(lines))
	for _, line := range lines {
		got[line] = true
	}

	want := bruteForceChains(fx.pairs, fx.anchors, params)

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("reverse engine set != brute-force set:\nengine (%d): %v\nbrute  (%d): %v", len(got), got, len(want), want)
	}
	if len(got) != 6 {
		t.Fatalf("got %d chains, want 6 (this fixture's known root count)", len(got))
	}
}

// cancelAfterWriter calls cancel once it has observed `after` completed
// writes. sink.writeLine flushes exactly once per emitted line, so each
// underlying Write call here corresponds to exactly one complete line —
// cancellation always lands between lines, never mid-line.
type cancelAfterWriter struct {
	w      io.Writer
	cancel context.CancelFunc
	after  int
	count  int
}

func (c *cancelAfterWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.count++
	if c.count >= c.after {
		c.cancel()
	}
	return n, err
}

// TestSearchCancellationPreservesCompleteLines is property 6 from spec.md
// §8: a search cancelled mid-run must still produce only complete, parsable
// lines (no torn line from sink.writeLine's partial write path) and those
// lines must be a prefix-consistent subset of what an uncancelled run over
// the same index would produce — never a line a full run wouldn't emit.
func TestSearchCancellationPreservesCompleteLines(t *testing.T) {
	fx := newBranchingFixture(t)
	params := branchingParams()

	full := runAndSplitLines(t, fx.idx, params)
	if len(full) < 4 {
		t.Fatalf("fixture only produced %d lines, need enough to cancel mid-run", len(full))
	}
	fullSet := make(map[string]bool, len(full))
	for _, l := range full {
		fullSet[l] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	var buf bytes.Buffer
	cw := &cancelAfterWriter{w: &buf, cancel: cancel, after: 3}

	stats, err := chainsearch.Search(ctx, fx.idx, params, cw)
	if err != chainsearch.ErrCancelled {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if stats.State != chainsearch.StateAborted {
		t.Fatalf("State = %v, want Aborted", stats.State)
	}

	raw := buf.String()
	if raw == "" || !strings.HasSuffix(raw, "\n") {
		t.Fatalf("output does not end with a complete line: %q", raw)
	}

	lines := strings.Split(strings.TrimRight(raw, "\n"), "\n")
	if uint64(len(lines)) != stats.ChainsEmitted {
		t.Fatalf("got %d lines, stats say %d emitted", len(lines), stats.ChainsEmitted)
	}
	if len(lines) == 0 || len(lines) >= len(full) {
		t.Fatalf("got %d lines, want a non-empty strict subset of the %d full-run lines", len(lines), len(full))
	}

	for _, line := range lines {
		if !fullSet[line] {
			t.Fatalf("cancelled run emitted %q, which a full run never produces", line)
		}
		assertChainSound(t, fx.idx, params, line)
	}
}
