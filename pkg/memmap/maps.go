// Copyright 2026 leakscope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package memmap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/leakscope/leakscope/pkg/log"
)

// ErrUnresolvedAddress is returned by ResolvePC when an address is not
// covered by any mapping even after a table rebuild.
var ErrUnresolvedAddress = errors.New("address not covered by any mapping")

// ParseError is returned by Rebuild when a mapping line is malformed.
// The whole build fails; the previous snapshot is left in place.
type ParseError struct {
	Line string
	Err  error
}

func (err *ParseError) Error() string {
	return fmt.Sprintf("malformed mapping line %q: %v", err.Line, err.Err)
}

func (err *ParseError) Unwrap() error { return err.Err }

// Map is a snapshot of the process memory mappings, ordered by start
// address. The snapshot is rebuilt wholesale when a lookup misses, since
// the live table may have changed since it was last read (e.g. a library
// was just loaded). All methods are safe for concurrent use.
type Map struct {
	mu      sync.Mutex
	source  func() (io.ReadCloser, error)
	entries []*Entry
}

// NewSelf returns a Map over the current process's own mapping table.
func NewSelf() *Map {
	return New(func() (io.ReadCloser, error) {
		return os.Open("/proc/self/maps")
	})
}

// New returns a Map built from an arbitrary maps-format source.
// The source is reopened on every rebuild.
func New(source func() (io.ReadCloser, error)) *Map {
	return &Map{source: source}
}

// Rebuild replaces the snapshot with a freshly parsed one.
// On failure the previous snapshot is kept.
func (m *Map) Rebuild() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rebuild()
}

func (m *Map) rebuild() error {
	r, err := m.source()
	if err != nil {
		return fmt.Errorf("failed to open mappings: %w", err)
	}
	defer r.Close()
	entries, err := parseMaps(r)
	if err != nil {
		return err
	}
	log.Logf(2, "memmap: parsed %v mappings", len(entries))
	m.entries = entries
	return nil
}

// Find returns the entry containing addr, rebuilding the snapshot once if
// the initial lookup misses. Returns nil if the address is not mapped.
// The entry is a borrowed reference, valid only until the next rebuild.
func (m *Map) Find(addr uintptr) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx := m.find(addr); idx >= 0 {
		return m.entries[idx]
	}
	return nil
}

// Entries returns the current snapshot in ascending start order.
func (m *Map) Entries() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]*Entry, len(m.entries))
	copy(entries, m.entries)
	return entries
}

func (m *Map) find(addr uintptr) int {
	if idx := m.lookup(addr); idx >= 0 {
		return idx
	}
	if err := m.rebuild(); err != nil {
		log.Logf(1, "memmap: rebuild failed: %v", err)
		return -1
	}
	return m.lookup(addr)
}

func (m *Map) lookup(addr uintptr) int {
	idx := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].End > addr
	})
	if idx < len(m.entries) && m.entries[idx].contains(addr) {
		return idx
	}
	return -1
}

// Resolution is the outcome of resolving one raw instruction address.
// Entry is borrowed from the table and stays alive until the next rebuild;
// the scalar fields are computed under the table lock, so callers can use
// them without further synchronization.
type Resolution struct {
	Entry *Entry
	// RelPC is the address relative to the module's load address.
	RelPC uintptr
	// ElfStartOffset is non-zero only when the load bias was inherited from
	// a preceding read-only mapping of the same file; it is that mapping's
	// file offset.
	ElfStartOffset uintptr
}

// ResolvePC maps one raw instruction address to its owning entry and the
// address relative to the module's load address.
//
// The common case is a mapping whose own ELF header supplies the load bias.
// Modern loaders, however, split a shared object into a read-only
// header/data mapping and a separate read-execute code mapping; the code
// mapping never validates on its own (it does not contain the ELF header),
// so the bias is inherited from the immediately preceding read-only mapping
// of the same file with a lower file offset. Anything else degrades to the
// raw in-mapping offset with zero bias.
func (m *Map) ResolvePC(pc uintptr) (Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.find(pc)
	if idx < 0 {
		return Resolution{}, fmt.Errorf("%w: %#x", ErrUnresolvedAddress, pc)
	}
	e := m.entries[idx]
	e.inspect()
	if !e.valid && idx > 0 {
		prev := m.entries[idx-1]
		if prev.Prot == unix.PROT_READ && prev.Offset < e.Offset && prev.Name == e.Name {
			prev.inspect()
			if prev.valid {
				if e.elfStartOffset == 0 {
					e.elfStartOffset = prev.Offset
				}
				return Resolution{
					Entry:          e,
					RelPC:          pc - e.Start + e.Offset + prev.loadBias,
					ElfStartOffset: prev.Offset,
				}, nil
			}
		}
	}
	return Resolution{Entry: e, RelPC: pc - e.Start + e.loadBias}, nil
}

func parseMaps(r io.Reader) ([]*Entry, error) {
	var entries []*Entry
	seen := make(map[uintptr]bool)
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := s.Text()
		if line == "" {
			continue
		}
		e, err := parseLine(line)
		if err != nil {
			return nil, err
		}
		// The first-seen entry wins for duplicate ranges.
		if seen[e.Start] {
			continue
		}
		seen[e.Start] = true
		entries = append(entries, e)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mappings: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Start < entries[j].Start
	})
	return entries, nil
}

// Format of /proc/self/maps:
// 7f5c4b001000-7f5c4b1e0000 r-xp 00001000 08:01 131073   /usr/lib/libfoo.so
func parseLine(line string) (*Entry, error) {
	fields, path, ok := splitLine(line)
	if !ok {
		return nil, &ParseError{line, errors.New("too few fields")}
	}
	lo, hi, ok := strings.Cut(fields[0], "-")
	if !ok {
		return nil, &ParseError{line, errors.New("no start-end address range")}
	}
	start, err := strconv.ParseUint(lo, 16, 64)
	if err != nil {
		return nil, &ParseError{line, fmt.Errorf("bad start address: %w", err)}
	}
	end, err := strconv.ParseUint(hi, 16, 64)
	if err != nil {
		return nil, &ParseError{line, fmt.Errorf("bad end address: %w", err)}
	}
	perms := fields[1]
	if len(perms) != 4 {
		return nil, &ParseError{line, fmt.Errorf("bad permission string %q", perms)}
	}
	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return nil, &ParseError{line, fmt.Errorf("bad file offset: %w", err)}
	}
	prot := 0
	if perms[0] == 'r' {
		prot |= unix.PROT_READ
	}
	if perms[2] == 'x' {
		prot |= unix.PROT_EXEC
	}
	e := &Entry{
		Start:  uintptr(start),
		End:    uintptr(end),
		Offset: uintptr(offset),
		Name:   path,
		Prot:   prot,
	}
	if prot&unix.PROT_READ == 0 {
		// Can never be read safely, so header inspection is never
		// attempted and the entry keeps a zero load bias.
		e.inited = true
	}
	return e, nil
}

// splitLine splits a maps line into its first five fields and the trailing
// path. The path is optional and may itself contain spaces.
func splitLine(line string) ([5]string, string, bool) {
	var fields [5]string
	rest := line
	for i := range fields {
		rest = strings.TrimLeft(rest, " \t")
		n := strings.IndexAny(rest, " \t")
		if n < 0 {
			n = len(rest)
		}
		if n == 0 {
			return fields, "", false
		}
		fields[i] = rest[:n]
		rest = rest[n:]
	}
	return fields, strings.TrimLeft(rest, " \t"), true
}
