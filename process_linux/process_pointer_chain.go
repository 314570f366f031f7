//go:build linux

package process_linux

import (
	"encoding/binary"
	"fmt"

	"ptrsx/hexdump"
	"ptrsx/process"
)

// readPointer dereferences the 8-byte pointer word at addr. A read failure
// or an address outside any mapped region both surface as a zero pointer,
// the same "no further hop possible" signal.
func (p *LinuxProcess) readPointer(addr process.ProcessMemoryAddress) process.ProcessMemoryAddress {
	data, err := p.ReadMemory(addr, 8)
	if err != nil || len(data) < 8 {
		return 0
	}
	return process.ProcessMemoryAddress(binary.LittleEndian.Uint64(data))
}

// ReadPointerChain walks pointer fields at all offsets except the last,
// which is treated as a raw byte offset into the final struct, and then
// reads `size` bytes starting there.
//
// Example:
//
//	// base -> [ +0 ]ptrA -> [ +24 ]ptrB -> [ +144 ]ptrC
//	// final read at (ptrC + 504), length 0x10
//	data, err := proc.ReadPointerChain(process.ProcessMemoryAddress(room1Ptr),
//	                                   0x10, 0, 24, 144, 504)
func (p *LinuxProcess) ReadPointerChain(
	base process.ProcessMemoryAddress,
	size process.ProcessMemorySize,
	offsets ...process.ProcessMemorySize,
) ([]byte, error) {
	current, err := p.walkChain(base, offsets)
	if err != nil {
		return nil, err
	}
	return p.ReadMemory(current, size)
}

// ReadPointerChainDebug does the same as ReadPointerChain but prints the hop
// trace and a hexdump of the final bytes.
func (p *LinuxProcess) ReadPointerChainDebug(
	base process.ProcessMemoryAddress,
	size process.ProcessMemorySize,
	offsets ...process.ProcessMemorySize,
) ([]byte, error) {
	if len(offsets) == 0 {
		fmt.Printf("[chain] base=%#x read size=%#x\n", uint64(base), uint64(size))
		return p.readAndDump(base, size)
	}

	current := base
	fmt.Printf("[chain] base=%#x\n", uint64(current))

	for i := 0; i < len(offsets)-1; i++ {
		off := offsets[i]
		addr := current + process.ProcessMemoryAddress(off)
		ptr := p.readPointer(addr)
		fmt.Printf("[chain] step %d: *(%#x + %#x) => %#x\n", i, uint64(current), uint64(off), uint64(ptr))
		if ptr == 0 {
			return nil, fmt.Errorf("ReadPointerChainDebug: %w at step %d (addr=%#x + off=%#x)", process.ErrInvalidPointer, i, uint64(current), uint64(off))
		}
		if !p.IsValidAddress(ptr) {
			return nil, fmt.Errorf("ReadPointerChainDebug: %w %#x at step %d", process.ErrInvalidPointer, uint64(ptr), i)
		}
		current = ptr
	}

	finalOff := offsets[len(offsets)-1]
	start := current + process.ProcessMemoryAddress(finalOff)
	fmt.Printf("[chain] final: read size=%#x at (%#x + %#x) => %#x\n",
		uint64(size), uint64(current), uint64(finalOff), uint64(start))

	return p.readAndDump(start, size)
}

// walkChain dereferences offsets[:len(offsets)-1] as pointer hops starting
// from base, returning the address the final offset should be applied to.
func (p *LinuxProcess) walkChain(base process.ProcessMemoryAddress, offsets []process.ProcessMemorySize) (process.ProcessMemoryAddress, error) {
	if len(offsets) == 0 {
		return base, nil
	}

	current := base
	for i := 0; i < len(offsets)-1; i++ {
		off := offsets[i]
		addr := current + process.ProcessMemoryAddress(off)

		ptr := p.readPointer(addr)
		if ptr == 0 {
			return 0, fmt.Errorf("ReadPointerChain: %w at step %d (addr=%#x + off=%#x)", process.ErrInvalidPointer, i, uint64(current), uint64(off))
		}
		if !p.IsValidAddress(ptr) {
			return 0, fmt.Errorf("ReadPointerChain: %w %#x at step %d (addr=%#x + off=%#x)", process.ErrInvalidPointer, uint64(ptr), i, uint64(current), uint64(off))
		}
		current = ptr
	}

	return current + process.ProcessMemoryAddress(offsets[len(offsets)-1]), nil
}

func (p *LinuxProcess) readAndDump(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	data, err := p.ReadMemory(addr, size)
	if err != nil {
		return nil, fmt.Errorf("ReadPointerChainDebug: read %#x (size=%#x) failed: %w", uint64(addr), uint64(size), err)
	}

	mm, _ := p.GetMemoryMap()
	fmt.Println(hexdump.HexdumpBasic(data, uint64(addr), uint(size), mm))

	return data, nil
}
