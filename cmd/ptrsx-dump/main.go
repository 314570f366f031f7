package main

import (
	"flag"
	"fmt"
	"os"

	"ptrsx/pointermap"
)

func main() {
	pidFlag := flag.Int("pid", 0, "Process ID to attach to")
	nameFlag := flag.String("name", "", "Process name to find and attach to (alternative to --pid)")
	outputFlag := flag.String("output", "", "Path to write the pointer-map file to")
	widthFlag := flag.Int("width", 8, "Pointer width in bytes (4 or 8)")
	alignOnlyFlag := flag.Bool("align-only", true, "Restrict the scan to heap/stack/anon/writable regions")
	chunkFlag := flag.Uint("chunk-size", uint(pointermap.DefaultChunkSize), "Region read granularity in bytes")
	flag.Parse()

	if *pidFlag == 0 && *nameFlag == "" {
		fmt.Println("Error: one of --pid or --name is required")
		flag.Usage()
		os.Exit(1)
	}
	if *outputFlag == "" {
		fmt.Println("Error: --output is required")
		flag.Usage()
		os.Exit(1)
	}

	width := pointermap.Width(*widthFlag)
	if width != pointermap.Width32 && width != pointermap.Width64 {
		fmt.Printf("Error: --width must be 4 or 8, got %d\n", *widthFlag)
		os.Exit(1)
	}

	pid := *pidFlag
	if pid == 0 {
		found, err := resolvePID(*nameFlag)
		if err != nil {
			fmt.Printf("Error finding process named %q: %v\n", *nameFlag, err)
			os.Exit(1)
		}
		pid = found
	}

	proc, err := getProcess(pid)
	if err != nil {
		fmt.Printf("Error attaching to process %d: %v\n", pid, err)
		os.Exit(1)
	}
	defer proc.Close()

	fmt.Printf("Attached to process %d\n", pid)

	if err := proc.UpdateMemoryMap(); err != nil {
		fmt.Printf("Error reading memory map: %v\n", err)
		os.Exit(1)
	}

	out, err := os.Create(*outputFlag)
	if err != nil {
		fmt.Printf("Error creating %s: %v\n", *outputFlag, err)
		os.Exit(1)
	}
	defer out.Close()

	fmt.Printf("Scanning process %d into %s...\n", pid, *outputFlag)

	stats, err := pointermap.Dump(proc, out, pointermap.DumpOptions{
		PtrWidth:  width,
		AlignOnly: *alignOnlyFlag,
		ChunkSize: *chunkFlag,
	})
	if err != nil {
		fmt.Printf("Error dumping pointer map: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf(
		"Dump complete: %d regions scanned, %d skipped, %d pairs written\n",
		stats.RegionsScanned, stats.RegionsSkipped, stats.PairsWritten,
	)
}
