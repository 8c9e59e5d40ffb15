// Copyright 2026 leakscope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package memmap maintains a queryable snapshot of the current process's
// memory mappings and resolves raw instruction addresses to module-relative
// ones. It reads /proc/self/maps and inspects ELF headers directly in mapped
// memory, so Entry state is only meaningful inside the described process.
package memmap

import "golang.org/x/sys/unix"

// Entry describes one contiguous mapping of the process address space.
// Start/End form a half-open range. Entries are created by Map and handed
// out as borrowed references: they are only valid until the next rebuild.
type Entry struct {
	Start  uintptr
	End    uintptr
	Offset uintptr // file offset at Start
	Name   string  // mapped file path, possibly empty
	Prot   int     // unix.PROT_READ/unix.PROT_EXEC bits only

	// Header inspection state, filled lazily by inspect.
	inited         bool
	valid          bool    // Start points at a parsable loadable ELF image
	loadBias       uintptr // delta from mapped address to file virtual address
	elfStartOffset uintptr // set when the bias came from a preceding read-only mapping
}

func (e *Entry) Readable() bool   { return e.Prot&unix.PROT_READ != 0 }
func (e *Entry) Executable() bool { return e.Prot&unix.PROT_EXEC != 0 }

// Inspected reports whether ELF header inspection was attempted.
func (e *Entry) Inspected() bool { return e.inited }

// Valid reports whether inspection found a loadable ELF image at Start.
// Meaningful only once Inspected returns true.
func (e *Entry) Valid() bool { return e.valid }

// LoadBias is the delta added to a module-relative raw address to obtain
// the address the binary's own symbols are expressed against. Zero unless
// the entry is valid.
func (e *Entry) LoadBias() uintptr { return e.loadBias }

func (e *Entry) contains(addr uintptr) bool {
	return addr >= e.Start && addr < e.End
}
