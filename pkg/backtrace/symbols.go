// Copyright 2026 leakscope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package backtrace

import (
	"debug/elf"
	"sort"
	"sync"

	"github.com/leakscope/leakscope/pkg/log"
	"github.com/leakscope/leakscope/pkg/memmap"
)

// Symbol is a nearest-preceding exported symbol match for one address:
// name, absolute start address, and the path of the mapping containing
// the address.
type Symbol struct {
	Name string
	Addr uintptr
	File string
}

// SymbolSource is the fallback symbol lookup consulted for every frame.
// Lookup is a pure query and may report no match.
type SymbolSource interface {
	Lookup(pc uintptr) (Symbol, bool)
}

// FileSymbols resolves symbols by reading the symbol tables of the mapped
// files themselves (symtab merged with dynsym). Tables are loaded once per
// file and kept for the lifetime of the process; negative results are
// cached too, so an unreadable or stripped file is only probed once.
type FileSymbols struct {
	maps  *memmap.Map
	mu    sync.Mutex
	files map[string][]elf.Symbol // function symbols sorted by value
}

func NewFileSymbols(maps *memmap.Map) *FileSymbols {
	return &FileSymbols{
		maps:  maps,
		files: make(map[string][]elf.Symbol),
	}
}

func (s *FileSymbols) Lookup(pc uintptr) (Symbol, bool) {
	res, err := s.maps.ResolvePC(pc)
	if err != nil || res.Entry.Name == "" {
		return Symbol{}, false
	}
	relPC := res.RelPC
	syms := s.load(res.Entry.Name)
	idx := sort.Search(len(syms), func(i int) bool {
		return syms[i].Value > uint64(relPC)
	})
	if idx == 0 {
		return Symbol{}, false
	}
	sym := syms[idx-1]
	// A symbol with zero size extends to the start of the next symbol.
	limit := sym.Value + sym.Size
	if sym.Size == 0 {
		if idx < len(syms) {
			limit = syms[idx].Value
		} else {
			limit = sym.Value + 4096
		}
	}
	if uint64(relPC) >= limit {
		return Symbol{}, false
	}
	return Symbol{
		Name: sym.Name,
		Addr: pc - (relPC - uintptr(sym.Value)),
		File: res.Entry.Name,
	}, true
}

func (s *FileSymbols) load(path string) []elf.Symbol {
	s.mu.Lock()
	defer s.mu.Unlock()
	if syms, ok := s.files[path]; ok {
		return syms
	}
	syms := readFuncSymbols(path)
	s.files[path] = syms
	return syms
}

func readFuncSymbols(path string) []elf.Symbol {
	ef, err := elf.Open(path)
	if err != nil {
		log.Logf(2, "backtrace: failed to open %v: %v", path, err)
		return nil
	}
	defer ef.Close()
	symtab, _ := ef.Symbols()
	dynsym, _ := ef.DynamicSymbols()
	var syms []elf.Symbol
	for _, sym := range append(symtab, dynsym...) {
		if sym.Value == 0 || elf.ST_TYPE(sym.Info) != elf.STT_FUNC {
			continue
		}
		syms = append(syms, sym)
	}
	sort.Slice(syms, func(i, j int) bool {
		return syms[i].Value < syms[j].Value
	})
	return syms
}
