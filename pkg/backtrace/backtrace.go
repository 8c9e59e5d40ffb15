// Copyright 2026 leakscope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package backtrace renders raw native stack frames captured in this
// process into human-readable report lines.
package backtrace

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/leakscope/leakscope/pkg/log"
	"github.com/leakscope/leakscope/pkg/memmap"
)

// ptrDigits is the number of hex digits in a zero-padded pointer.
const ptrDigits = bits.UintSize / 4

const unknownModule = "<unknown>"

// Formatter renders sequences of raw instruction addresses into the fixed
// frame layout used in leak reports:
//
//	#00  pc 00000000000321ec  /usr/lib/libfoo.so (offset 0x1000) (foo()+24)
type Formatter struct {
	// Maps is the mapping table of this process; required.
	Maps *memmap.Map
	// Symbols supplies the nearest-symbol fallback layer.
	// Optional; without it frames carry no symbol name.
	Symbols SymbolSource
	// Ignore, when set, is evaluated on every resolved entry; once it
	// matches, the remaining frames are dropped. This is how the
	// monitoring engine keeps its own internals out of reported stacks.
	Ignore func(*memmap.Entry) bool

	demangled cache
}

// Format symbolizes frames in order and returns the concatenated report
// lines. A frame that cannot be resolved degrades to an unknown-module
// line with the raw address; it never aborts the remaining frames.
func (f *Formatter) Format(frames []uintptr) string {
	buf := new(strings.Builder)
	for i, pc := range frames {
		var sym Symbol
		symOK := false
		if f.Symbols != nil {
			sym, symOK = f.Symbols.Lookup(pc)
		}
		relPC := pc
		soname := ""
		var elfOffset uintptr
		if res, err := f.Maps.ResolvePC(pc); err == nil {
			if f.Ignore != nil && f.Ignore(res.Entry) {
				break
			}
			relPC = res.RelPC
			soname = res.Entry.Name
			elfOffset = res.ElfStartOffset
		} else {
			log.Logf(2, "backtrace: %v", err)
		}
		if soname == "" && symOK {
			soname = sym.File
		}
		if soname == "" {
			soname = unknownModule
		}
		offsetBuf := ""
		if elfOffset != 0 {
			offsetBuf = fmt.Sprintf(" (offset 0x%x)", elfOffset)
		}
		if symOK && sym.Name != "" {
			fmt.Fprintf(buf, "          #%02d  pc %0*x  %s%s (%s+%d)\n",
				i, ptrDigits, relPC, soname, offsetBuf,
				f.demangled.demangle(sym.Name), pc-sym.Addr)
		} else {
			fmt.Fprintf(buf, "          #%02d  pc %0*x  %s%s\n",
				i, ptrDigits, relPC, soname, offsetBuf)
		}
	}
	return buf.String()
}

// IgnoreModules returns an Ignore predicate matching entries whose mapped
// file path contains any of the given substrings.
func IgnoreModules(names ...string) func(*memmap.Entry) bool {
	return func(e *memmap.Entry) bool {
		for _, name := range names {
			if name != "" && strings.Contains(e.Name, name) {
				return true
			}
		}
		return false
	}
}
