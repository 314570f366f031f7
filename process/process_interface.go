package process

import (
	"ptrsx/process/memory_map"
)

// Process is the interface for reading a live, attached process. It is
// deliberately read-only: a process backend never patches or writes back
// into the target.
type Process interface {
	// Open opens a process with the given PID for memory operations
	Open(pid ProcessID) error

	// Close closes the process and releases resources
	Close() error

	// GetPID returns the process ID
	GetPID() ProcessID

	// UpdateMemoryMap refreshes the memory map for the process
	UpdateMemoryMap() error

	// IsValidAddress checks if the given memory address is valid and readable
	IsValidAddress(addr ProcessMemoryAddress) bool

	// GetMemoryMap returns a copy of the current memory map
	GetMemoryMap() ([]memory_map.MemoryMapItem, error)

	// ReadMemory reads memory from the process at the specified address
	ReadMemory(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error)

	// ReadPointerChain walks offsets[:len(offsets)-1] as pointer
	// dereferences and reads size bytes at the final offset.
	ReadPointerChain(base ProcessMemoryAddress, size ProcessMemorySize, offsets ...ProcessMemorySize) ([]byte, error)

	// ReadPointerChainDebug does the same as ReadPointerChain but prints
	// the hop trace and a hexdump of the final bytes.
	ReadPointerChainDebug(base ProcessMemoryAddress, size ProcessMemorySize, offsets ...ProcessMemorySize) ([]byte, error)
}
