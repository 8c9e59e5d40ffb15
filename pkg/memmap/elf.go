// Copyright 2026 leakscope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package memmap

import (
	"debug/elf"
	"encoding/binary"
	"unsafe"
)

// wordField constrains readMem to the fixed-width ELF field types.
type wordField interface {
	~uint16 | ~uint32 | ~uintptr
}

// readMem reads one fixed-width value from raw process memory.
// This is the only point in the package that dereferences an address the
// caller does not otherwise own; every header field read goes through it.
// The read happens only if the entry is readable, [addr, addr+size) lies
// fully inside [Start, End) with overflow-safe arithmetic, and addr is
// naturally aligned for the type.
func readMem[T wordField](e *Entry, addr uintptr) (T, bool) {
	var val T
	size := unsafe.Sizeof(val)
	end := addr + size
	if !e.Readable() || addr < e.Start || end > e.End || end < addr {
		return val, false
	}
	if addr&(size-1) != 0 {
		return val, false
	}
	return *(*T)(unsafe.Pointer(addr)), true
}

var elfMagicWord = binary.NativeEndian.Uint32([]byte(elf.ELFMAG))

// validElf reports whether the entry starts with the ELF magic number.
// The magic must end strictly before the end of the mapping, so a mapping
// that is exactly the size of the magic (or wraps the address space) is
// rejected before any memory is touched.
func (e *Entry) validElf() bool {
	end := e.Start + uintptr(len(elf.ELFMAG))
	if end < e.Start || end >= e.End {
		return false
	}
	magic, ok := readMem[uint32](e, e.Start)
	return ok && magic == elfMagicWord
}

// computeLoadBias scans the program headers mapped at Start for the first
// executable PT_LOAD segment and returns p_vaddr - p_offset. It returns
// false if any header field is unreadable or no such segment exists;
// the mapping is then treated as non-ELF for biasing purposes.
func (e *Entry) computeLoadBias() (uintptr, bool) {
	var ehdr elfEhdr
	var phdr elfPhdr
	phnum, ok := readMem[uint16](e, e.Start+unsafe.Offsetof(ehdr.Phnum))
	if !ok {
		return 0, false
	}
	phoff, ok := readMem[uintptr](e, e.Start+unsafe.Offsetof(ehdr.Phoff))
	if !ok {
		return 0, false
	}
	addr := e.Start + phoff
	for i := 0; i < int(phnum); i++ {
		ptype, ok := readMem[uint32](e, addr+unsafe.Offsetof(phdr.Type))
		if !ok {
			return 0, false
		}
		pflags, ok := readMem[uint32](e, addr+unsafe.Offsetof(phdr.Flags))
		if !ok {
			return 0, false
		}
		poff, ok := readMem[uintptr](e, addr+unsafe.Offsetof(phdr.Off))
		if !ok {
			return 0, false
		}
		if elf.ProgType(ptype) == elf.PT_LOAD && elf.ProgFlag(pflags)&elf.PF_X != 0 {
			vaddr, ok := readMem[uintptr](e, addr+unsafe.Offsetof(phdr.Vaddr))
			if !ok {
				return 0, false
			}
			return vaddr - poff, true
		}
		addr += unsafe.Sizeof(phdr)
	}
	return 0, false
}

// inspect validates the ELF header and computes the load bias, exactly once
// per entry. Must be called with the owning Map's lock held.
func (e *Entry) inspect() {
	if e.inited {
		return
	}
	e.inited = true
	if !e.validElf() {
		return
	}
	bias, ok := e.computeLoadBias()
	if !ok {
		return
	}
	e.loadBias = bias
	e.valid = true
}
