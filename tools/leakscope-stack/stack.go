// Copyright 2026 leakscope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// leakscope-stack symbolizes its own native stack against the live
// /proc/self/maps, printing the same frame layout leak reports use.
// With -maps it dumps the parsed mapping table with computed load biases
// instead. Everything runs in-process; mapped memory is only meaningful
// inside the process the table describes.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/leakscope/leakscope/pkg/backtrace"
	"github.com/leakscope/leakscope/pkg/log"
	"github.com/leakscope/leakscope/pkg/memmap"
	"github.com/leakscope/leakscope/pkg/tool"
)

var (
	flagMaps   = flag.Bool("maps", false, "dump the parsed mapping table instead of a backtrace")
	flagFrames = flag.Int("frames", 32, "maximum number of stack frames to capture")
)

func main() {
	flag.Parse()
	log.EnableLogCaching(128, 1<<16)
	maps := memmap.NewSelf()
	if err := maps.Rebuild(); err != nil {
		tool.Failf("%v\nrecent log output:\n%s", err, log.CachedLogOutput())
	}
	if *flagMaps {
		dumpMaps(maps)
		return
	}
	pcs := make([]uintptr, *flagFrames)
	n := runtime.Callers(1, pcs)
	formatter := &backtrace.Formatter{
		Maps:    maps,
		Symbols: backtrace.NewFileSymbols(maps),
	}
	os.Stdout.WriteString(formatter.Format(pcs[:n]))
}

func dumpMaps(maps *memmap.Map) {
	for _, e := range maps.Entries() {
		// Resolving the entry's own start forces header inspection.
		if _, err := maps.ResolvePC(e.Start); err != nil {
			log.Logf(1, "leakscope-stack: %v", err)
		}
		perms := [2]byte{'-', '-'}
		if e.Readable() {
			perms[0] = 'r'
		}
		if e.Executable() {
			perms[1] = 'x'
		}
		bias := "-"
		if e.Valid() {
			bias = fmt.Sprintf("0x%x", e.LoadBias())
		}
		fmt.Printf("%x-%x %s offset 0x%x bias %s %s\n",
			e.Start, e.End, perms[:], e.Offset, bias, e.Name)
	}
}
