package chainsearch

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"ptrsx/pointermap"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// Search runs the reverse, depth-bounded pointer chain search described in
// spec.md §4.D against a loaded pointer map and streams every matching
// chain to out in the §6 line format. It is safe to run multiple searches
// concurrently against the same *pointermap.Index (the index is an
// immutable, read-only borrow).
func Search(ctx context.Context, idx *pointermap.Index, params Params, out io.Writer) (Stats, error) {
	stats := Stats{State: StatePreparing}

	if idx == nil {
		return Stats{State: StateAborted}, ErrNoMapLoaded
	}
	if err := params.validate(); err != nil {
		return Stats{State: StateAborted}, err
	}
	if out == nil {
		return Stats{State: StateAborted}, wrapf(ErrInvalidArgument, "output sink is nil")
	}

	anchors, err := resolveAnchors(idx, params.Anchors)
	if err != nil {
		return Stats{State: StateAborted}, err
	}

	log := logger.NewLogger(coloransi.Color(coloransi.ColorGreen, coloransi.ColorOrange, "chainsearch"))

	workers := params.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers < 1 {
		workers = 1
	}

	log.Infoln("search starting: target", fmt.Sprintf("0x%x", params.Target), "depth", params.Depth, "anchors", params.Anchors, "workers", workers)

	out_ := newSink(out)
	var emitted atomic.Uint64

	eng := &engine{
		idx:     idx,
		anchors: anchors,
		params:  params,
		sink:    out_,
		emitted: &emitted,
		ctx:     ctx,
	}

	stats.State = StateSearching

	if workers <= 1 {
		eng.visited = make(map[visitKey]bool)
		eng.expand(params.Target, nil, params.Depth)
	} else {
		eng.runParallel(workers)
	}

	if flushErr := out_.flush(); flushErr != nil && eng.firstErr() == nil {
		eng.setErr(wrapf(ErrIOFailure, "flush output sink: %v", flushErr))
	}

	stats.ChainsEmitted = emitted.Load()

	switch {
	case eng.firstErr() != nil:
		stats.State = StateAborted
		log.Infoln("search aborted:", eng.firstErr())
		return stats, eng.firstErr()
	case ctxDone(ctx):
		stats.State = StateAborted
		log.Infoln("search cancelled,", stats.ChainsEmitted, "chains emitted before cancellation")
		return stats, ErrCancelled
	default:
		stats.State = StateCompleted
		log.Infoln("search complete:", stats.ChainsEmitted, "chains emitted")
		return stats, nil
	}
}

func ctxDone(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// resolveAnchors flattens every region matching one of the requested
// anchor paths and sorts the result by Start for binary-search
// containment checks.
func resolveAnchors(idx *pointermap.Index, paths []string) ([]pointermap.Region, error) {
	var anchors []pointermap.Region
	for _, p := range paths {
		matches := idx.RegionsByPath(p)
		if len(matches) == 0 {
			return nil, wrapf(ErrInvalidArgument, "anchor module %q not found in map", p)
		}
		anchors = append(anchors, matches...)
	}
	sort.Slice(anchors, func(i, j int) bool { return anchors[i].Start < anchors[j].Start })
	return anchors, nil
}

// anchorFor returns the anchor region containing addr, if any.
func anchorFor(anchors []pointermap.Region, addr uint64) *pointermap.Region {
	i := sort.Search(len(anchors), func(i int) bool { return anchors[i].End > addr })
	if i < len(anchors) && anchors[i].Start <= addr {
		return &anchors[i]
	}
	return nil
}

// visitKey is the depth-keyed visited-set entry preventing unbounded
// revisits of cyclic pointer graphs (spec.md §4.D "Loop prevention").
type visitKey struct {
	addr           uint64
	depthRemaining int
}

// engine holds the shared, read-only state for one Search call plus the
// handful of synchronized fields workers touch.
type engine struct {
	idx     *pointermap.Index
	anchors []pointermap.Region
	params  Params
	sink    *sink
	emitted *atomic.Uint64
	ctx     context.Context

	// visited is per-worker: set to a fresh map before each top-level
	// frontier subtree runs. Accepting duplicate work across subtrees
	// buys zero lock contention on the hot expansion path (spec.md §5);
	// correctness holds because distinct first-level frontier nodes can
	// never reach the same visitKey as a sibling subtree without also
	// being reachable within their own subtree's recursion.
	visited map[visitKey]bool

	errOnce sync.Once
	err     error
}

func (e *engine) setErr(err error) {
	e.errOnce.Do(func() { e.err = err })
}

func (e *engine) firstErr() error {
	e.errOnce.Do(func() {})
	return e.err
}

// runParallel computes the immediate predecessors of the target (the
// first-level frontier) and hands each one to a bounded worker pool, one
// fresh visited map per job (spec.md §5 "parallelization splits at the
// first-level frontier... each subtree worked independently").
func (e *engine) runParallel(workers int) {
	firstLevel := e.idx.RangeQuery(subUint64(e.params.Target, e.params.RangeRight), e.params.Target+e.params.RangeLeft)

	type job struct {
		addr   uint64
		suffix []int64
	}
	jobs := make([]job, 0, len(firstLevel))
	for _, pair := range firstLevel {
		o := int64(e.params.Target) - int64(pair.Dst)
		jobs = append(jobs, job{addr: pair.Src, suffix: []int64{o}})
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, j := range jobs {
		if e.cancelledOrErrored() {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(j job) {
			defer func() {
				<-sem
				wg.Done()
			}()
			worker := &engine{
				idx: e.idx, anchors: e.anchors, params: e.params,
				sink: e.sink, emitted: e.emitted, ctx: e.ctx,
				visited: make(map[visitKey]bool),
			}
			worker.expand(j.addr, j.suffix, e.params.Depth-1)
			if worker.firstErr() != nil {
				e.setErr(worker.firstErr())
			}
		}(j)
	}

	wg.Wait()
}

func (e *engine) cancelledOrErrored() bool {
	return ctxDone(e.ctx) || e.firstErr() != nil
}

// expand is the recursive reverse-search step (spec.md §4.D, steps 1-3).
// In single-threaded mode, calling it directly from Search with the full
// (addr=Target, suffix=nil, depth=Depth) starting point yields the
// canonical depth-first, ascending-frontier emission order because each
// range-query result is recursed into immediately, in ascending order,
// before the next sibling result is considered.
func (e *engine) expand(addr uint64, suffix []int64, depthRemaining int) {
	if e.cancelledOrErrored() {
		return
	}

	if r := anchorFor(e.anchors, addr); r != nil {
		if len(suffix) >= e.params.MinLength {
			e.emit(Chain{RootPath: r.Path, RootOffset: addr - r.Start, Offsets: suffix})
			if e.firstErr() != nil {
				return
			}
		}
	}

	if depthRemaining <= 0 {
		return
	}

	key := visitKey{addr: addr, depthRemaining: depthRemaining}
	if e.visited[key] {
		return
	}
	e.visited[key] = true

	lo := subUint64(addr, e.params.RangeRight)
	hi := addr + e.params.RangeLeft
	pairs := e.idx.RangeQuery(lo, hi)

	for _, pair := range pairs {
		if e.cancelledOrErrored() {
			return
		}

		// Every recorded dst must lie in a dumped region; one that does not
		// is a bug in the map, not a runtime condition to recover from, so
		// this is the module's one deliberate panic.
		if e.idx.RegionFor(pair.Dst) == nil {
			panic(fmt.Sprintf("chainsearch: pointer map invariant violated: dst %#x (src %#x) is not in any region", pair.Dst, pair.Src))
		}

		o := int64(addr) - int64(pair.Dst)

		newSuffix := make([]int64, 0, len(suffix)+1)
		newSuffix = append(newSuffix, o)
		newSuffix = append(newSuffix, suffix...)

		e.expand(pair.Src, newSuffix, depthRemaining-1)
	}
}

func (e *engine) emit(c Chain) {
	if err := e.sink.writeLine(c.Format()); err != nil {
		e.setErr(err)
		return
	}
	e.emitted.Add(1)
}

// subUint64 subtracts b from a, saturating at 0 instead of wrapping, since
// addresses near the bottom of the address space must not underflow when
// the window is wider than the address itself.
func subUint64(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
