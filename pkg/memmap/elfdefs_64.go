// Copyright 2026 leakscope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build amd64 || arm64 || loong64 || mips64 || mips64le || ppc64 || ppc64le || riscv64 || s390x

package memmap

// Native-word ELF structures, matching Elf64_Ehdr/Elf64_Phdr. Only field
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
	Flags  uint32
	Off    uintptr
	Vaddr  uintptr
	Paddr  uintptr
	Filesz uintptr
	Memsz  uintptr
	Align  uintptr
}
