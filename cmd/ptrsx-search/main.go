package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"ptrsx/chainsearch"
	"ptrsx/pod"
	"ptrsx/pointermap"
	"ptrsx/process"
	"ptrsx/process/memory_map"
)

func main() {
	mapFlag := flag.String("map", "", "Path to a pointer-map file written by ptrsx-dump")
	targetFlag := flag.String("target", "", "Target address, hex (e.g. 0x7f1234560000)")
	depthFlag := flag.Int("depth", 5, "Maximum chain length")
	minLenFlag := flag.Int("min-length", 1, "Minimum chain length eligible for emission")
	rangeLeftFlag := flag.Uint64("range-left", 0, "Offset window added above the current address at each step")
	rangeRightFlag := flag.Uint64("range-right", 0x1000, "Offset window subtracted below the current address at each step")
	anchorsFlag := flag.String("anchors", "", "Comma-separated anchor module paths to root chains in")
	workersFlag := flag.Int("workers", 0, "Parallel worker count; 0 selects the number of CPUs")
	lazyFlag := flag.Bool("lazy", true, "Memory-map the pair stream instead of loading it onto the heap")
	outputFlag := flag.String("output", "", "Output .scandata path; defaults to <map>.scandata")
	hexdumpPidFlag := flag.Int("hexdump-pid", 0, "Re-attach to this live PID and hexdump the first hexdump-count resolved chains")
	hexdumpCountFlag := flag.Int("hexdump-count", 5, "Number of resolved chains to hexdump when hexdump-pid is set")
	hexdumpSizeFlag := flag.Uint("hexdump-size", 64, "Bytes to read and hexdump at each resolved chain's final address")
	flag.Parse()

	if *mapFlag == "" {
		fmt.Println("Error: --map is required")
		flag.Usage()
		os.Exit(1)
	}
	if *targetFlag == "" {
		fmt.Println("Error: --target is required")
		flag.Usage()
		os.Exit(1)
	}
	if *anchorsFlag == "" {
		fmt.Println("Error: --anchors is required")
		flag.Usage()
		os.Exit(1)
	}

	target, err := strconv.ParseUint(strings.TrimPrefix(*targetFlag, "0x"), 16, 64)
	if err != nil {
		fmt.Printf("Error: --target is not a valid hex address: %v\n", err)
		os.Exit(1)
	}

	idx, err := pointermap.Load(*mapFlag, pointermap.LoadOptions{Lazy: *lazyFlag})
	if err != nil {
		fmt.Printf("Error loading pointer map %s: %v\n", *mapFlag, err)
		os.Exit(1)
	}
	defer idx.Close()

	fmt.Printf("Loaded %s\n", idx)
	printRegionTable(idx)

	outputPath := *outputFlag
	if outputPath == "" {
		outputPath = *mapFlag + ".scandata"
	}
	out, err := os.Create(outputPath)
	if err != nil {
		fmt.Printf("Error creating %s: %v\n", outputPath, err)
		os.Exit(1)
	}

	params := chainsearch.Params{
		Target:     target,
		Depth:      *depthFlag,
		MinLength:  *minLenFlag,
		RangeLeft:  *rangeLeftFlag,
		RangeRight: *rangeRightFlag,
		Anchors:    strings.Split(*anchorsFlag, ","),
		Workers:    *workersFlag,
	}

	fmt.Printf("Searching for 0x%x, depth=%d, anchors=%v...\n", target, params.Depth, params.Anchors)

	stats, err := chainsearch.Search(context.Background(), idx, params, out)
	out.Close()
	if err != nil {
		fmt.Printf("Error searching: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Search %s: %d chains written to %s\n", stats.State, stats.ChainsEmitted, outputPath)

	if *hexdumpPidFlag != 0 {
		if err := hexdumpResolvedChains(*hexdumpPidFlag, outputPath, *hexdumpCountFlag, process.ProcessMemorySize(*hexdumpSizeFlag)); err != nil {
			fmt.Printf("Error hexdumping resolved chains: %v\n", err)
			os.Exit(1)
		}
	}
}

func printRegionTable(idx *pointermap.Index) {
	t := pod.NewTable(
		pod.ColumnSpec{Header: "START", MinWidth: 18},
		pod.ColumnSpec{Header: "END", MinWidth: 18},
		pod.ColumnSpec{Header: "SIZE", MinWidth: 10},
		pod.ColumnSpec{Header: "PATH"},
	)
	for _, r := range idx.Regions() {
		t.AddRow(
			fmt.Sprintf("0x%x", r.Start),
			fmt.Sprintf("0x%x", r.End),
			fmt.Sprintf("0x%x", r.Len()),
			r.Path,
		)
	}
	t.Render(os.Stdout)
}

// hexdumpResolvedChains re-attaches to a live process and, for the first
// count lines of a .scandata file, re-resolves the chain against the live
// process's current module base and prints the trace + final bytes via
// ReadPointerChainDebug.
func hexdumpResolvedChains(pid int, scandataPath string, count int, size process.ProcessMemorySize) error {
	proc, err := getProcess(pid)
	if err != nil {
		return fmt.Errorf("attach to pid %d: %w", pid, err)
	}
	defer proc.Close()

	if err := proc.UpdateMemoryMap(); err != nil {
		return fmt.Errorf("read memory map: %w", err)
	}
	mm, err := proc.GetMemoryMap()
	if err != nil {
		return fmt.Errorf("get memory map: %w", err)
	}

	f, err := os.Open(scandataPath)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() && n < count {
		line := sc.Text()
		if line == "" {
			continue
		}
		chain, err := chainsearch.ParseChain(line)
		if err != nil {
			fmt.Printf("skip unparsable line %q: %v\n", line, err)
			continue
		}

		base, ok := findModuleBase(mm, chain.RootPath)
		if !ok {
			fmt.Printf("module %q not present in live process, skipping: %s\n", chain.RootPath, line)
			continue
		}

		fmt.Printf("--- %s ---\n", line)
		// The root offset goes first so that the word at base+root is
		// dereferenced before o1 is added, as the chain format defines.
		memOffsets := make([]process.ProcessMemorySize, 0, len(chain.Offsets)+1)
		memOffsets = append(memOffsets, process.ProcessMemorySize(chain.RootOffset))
		for _, o := range chain.Offsets {
			memOffsets = append(memOffsets, process.ProcessMemorySize(uint64(o)))
		}
		if _, err := proc.ReadPointerChainDebug(process.ProcessMemoryAddress(base), size, memOffsets...); err != nil {
			fmt.Printf("resolve failed: %v\n", err)
		}
		n++
	}
	return sc.Err()
}

// findModuleBase returns the lowest address among the live regions backed
// by path, the module's current load base.
func findModuleBase(mm []memory_map.MemoryMapItem, path string) (uint64, bool) {
	found := false
	var base uint64
	for _, item := range mm {
		if item.Path != path {
			continue
		}
		if !found || item.Address < base {
			base = item.Address
			found = true
		}
	}
	return base, found
}
