// Copyright 2026 leakscope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build 386 || arm || mips || mipsle

package memmap

// Native-word ELF structures, matching Elf32_Ehdr/Elf32_Phdr. Only field
// offsets and sizes are consumed (via unsafe.Offsetof in elf.go); the
// structures are never read as a whole.
type elfEhdr struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uintptr
	Phoff     uintptr
	Shoff     uintptr
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type elfPhdr struct {
	Type   uint32
	Off    uintptr
	Vaddr  uintptr
	Paddr  uintptr
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}
