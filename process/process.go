// Package process provides interfaces and types for process manipulation
package process

import "errors"

// The package is split by concern:
// - types.go: ProcessID
// - memory_types.go: ProcessMemoryAddress, ProcessMemorySize
// - process_interface.go: Process interface

var (
	// ErrAddressNotMapped is returned when a memory address is not found within any mapped region of a process.
	ErrAddressNotMapped = errors.New("address not mapped")

	// ErrProcessNotOpen is returned when an operation requiring an open process is attempted
	// before the process has been successfully opened or after it has been closed.
	ErrProcessNotOpen = errors.New("process not open")

	// ErrInvalidPointer is returned when a pointer-chain hop dereferences to
	// a null or unmapped address.
	ErrInvalidPointer = errors.New("invalid pointer read")
)
