// Package chainsearch implements the reverse, depth-bounded pointer chain
// search engine (spec.md §4.D): given a loaded pointer map, a target
// address, an anchor set, a depth bound and an offset window, it enumerates
// every pointer chain rooted in an anchor region that reaches the target
// and streams each one to an output sink.
package chainsearch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidArgument covers a nil/empty anchor set, depth 0, an anchor
	// path absent from the loaded map, min length out of [1, depth], or a
	// nil output sink. Reported before any work starts.
	ErrInvalidArgument = errors.New("chainsearch: invalid argument")

	// ErrNoMapLoaded is returned when Search is called without a loaded
	// pointermap.Index.
	ErrNoMapLoaded = errors.New("chainsearch: no pointer map loaded")

	// ErrIOFailure is returned when the output sink fails mid-scan after
	// exhausting retries. Partial output may remain.
	ErrIOFailure = errors.New("chainsearch: output sink write failed")

	// ErrCancelled is returned when an external cancellation was observed
	// before the search finished. Not a failure in the abstract sense: a
	// distinct outcome so callers can tell completed apart from aborted.
	ErrCancelled = errors.New("chainsearch: search cancelled")
)

// Params is the full set of inputs to a chain search (spec.md §4.D),
// directly grounded on the upstream C FFI's Params{target, depth, node,
// rangel, ranger, file_name} struct (original_source/ffi/ptrsx_unix.h).
type Params struct {
	// Target is the address every emitted chain must land near.
	Target uint64

	// Depth is D, the maximum chain length.
	Depth int

	// MinLength is N, the minimum chain length eligible for emission.
	// Must satisfy 1 <= MinLength <= Depth.
	MinLength int

	// RangeRight is the FFI's "ranger": subtracted from the current address
	// to form the lower bound of the match window at each step.
	RangeRight uint64

	// RangeLeft is the FFI's "rangel": added to the current address to
	// form the upper bound of the match window at each step.
	RangeLeft uint64

	// Anchors are the module paths chains may start inside (the "base
	// modules" the user selected). Matched by exact path, per spec.md §9
	// open question (iii).
	Anchors []string

	// Workers bounds the parallel worker pool; <= 0 selects
	// runtime.NumCPU(). 1 runs single-threaded, which also yields the
	// canonical deterministic emission order.
	Workers int
}

func (p Params) validate() error {
	if p.Depth < 1 {
		return wrapf(ErrInvalidArgument, "depth must be >= 1, got %d", p.Depth)
	}
	if p.MinLength < 1 || p.MinLength > p.Depth {
		return wrapf(ErrInvalidArgument, "min length %d must be in [1, %d]", p.MinLength, p.Depth)
	}
	if len(p.Anchors) == 0 {
		return wrapf(ErrInvalidArgument, "anchor set is empty")
	}
	return nil
}

// Chain is a root region identity + root offset + ordered list of signed
// offsets, the ephemeral result of one successful search path (spec.md §3).
type Chain struct {
	RootPath   string
	RootOffset uint64
	Offsets    []int64
}

// Format renders the chain in the §6 scan-output line format:
// <module_path>+<root_off_hex>-><o1_signed_hex>->...-><ok_signed_hex>
func (c Chain) Format() string {
	var b strings.Builder
	b.WriteString(c.RootPath)
	b.WriteByte('+')
	b.WriteString(strconv.FormatUint(c.RootOffset, 16))
	for _, o := range c.Offsets {
		b.WriteString("->")
		if o < 0 {
			b.WriteByte('-')
			b.WriteString(strconv.FormatUint(uint64(-o), 16))
		} else {
			b.WriteByte('+')
			b.WriteString(strconv.FormatUint(uint64(o), 16))
		}
	}
	return b.String()
}

// ParseChain parses one line previously produced by Chain.Format, the
// inverse of that method. Used by post-processing tools that re-resolve a
// printed chain against a live process, and by tests as a soundness oracle.
func ParseChain(line string) (Chain, error) {
	parts := strings.Split(line, "->")
	if len(parts) == 0 || parts[0] == "" {
		return Chain{}, wrapf(ErrInvalidArgument, "empty chain line")
	}

	head := parts[0]
	hi := strings.LastIndex(head, "+")
	if hi < 0 {
		return Chain{}, wrapf(ErrInvalidArgument, "missing root offset separator in %q", head)
	}
	rootPath := head[:hi]
	rootOffset, err := strconv.ParseUint(head[hi+1:], 16, 64)
	if err != nil {
		return Chain{}, wrapf(ErrInvalidArgument, "bad root offset %q: %v", head[hi+1:], err)
	}

	offsets := make([]int64, 0, len(parts)-1)
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		sign := int64(1)
		digits := p
		switch p[0] {
		case '+':
			digits = p[1:]
		case '-':
			sign = -1
			digits = p[1:]
		default:
			return Chain{}, wrapf(ErrInvalidArgument, "offset %q missing sign", p)
		}
		v, err := strconv.ParseUint(digits, 16, 64)
		if err != nil {
			return Chain{}, wrapf(ErrInvalidArgument, "bad offset %q: %v", p, err)
		}
		offsets = append(offsets, sign*int64(v))
	}

	return Chain{RootPath: rootPath, RootOffset: rootOffset, Offsets: offsets}, nil
}

// Stats reports what happened during a Search call.
type Stats struct {
	ChainsEmitted uint64
	State         State
}

// State is the search session's state machine (spec.md §4.D).
type State int

const (
	StateIdle State = iota
	StatePreparing
	StateSearching
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateSearching:
		return "searching"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

func wrapf(base error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), base)
}
