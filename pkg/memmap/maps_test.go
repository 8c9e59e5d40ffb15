// Copyright 2026 leakscope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package memmap

import (
	"errors"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/leakscope/leakscope/pkg/testutil"
)

// mapSource returns a rebuildable source over the pointed-to string, so a
// test can change the described table between rebuilds.
func mapSource(text *string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(*text)), nil
	}
}

func buildMap(t *testing.T, text string) *Map {
	m := New(mapSource(&text))
	require.NoError(t, m.Rebuild())
	return m
}

func TestParse(t *testing.T) {
	m := buildMap(t, `
00400000-00452000 r-xp 00000000 08:02 173521   /usr/bin/dbus-daemon
7f5c4b000000-7f5c4b001000 r--p 00000000 08:01 131073   /data/app/My App/libfoo.so
7f5c4b001000-7f5c4b1e0000 r-xp 00001000 08:01 131073   /data/app/My App/libfoo.so
7ffc04b54000-7ffc04b75000 rw-p 00000000 00:00 0    [stack]
7ffc04bc0000-7ffc04bc2000 ---p 00000000 00:00 0
`)
	type view struct {
		Start, End, Offset uintptr
		Name               string
		Prot               int
	}
	var got []view
	for _, e := range m.Entries() {
		got = append(got, view{e.Start, e.End, e.Offset, e.Name, e.Prot})
	}
	want := []view{
		{0x400000, 0x452000, 0, "/usr/bin/dbus-daemon", unix.PROT_READ | unix.PROT_EXEC},
		{0x7f5c4b000000, 0x7f5c4b001000, 0, "/data/app/My App/libfoo.so", unix.PROT_READ},
		{0x7f5c4b001000, 0x7f5c4b1e0000, 0x1000, "/data/app/My App/libfoo.so", unix.PROT_READ | unix.PROT_EXEC},
		{0x7ffc04b54000, 0x7ffc04b75000, 0, "[stack]", unix.PROT_READ},
		{0x7ffc04bc0000, 0x7ffc04bc2000, 0, "", 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("parsed table mismatch (-want +got):\n%v", diff)
	}
}

func TestParseUnreadable(t *testing.T) {
	m := buildMap(t, "7ffc04bc0000-7ffc04bc2000 ---p 00000000 00:00 0\n")
	entries := m.Entries()
	require.Len(t, entries, 1)
	e := entries[0]
	// Never readable, so the entry is permanently invalid with no inspection.
	assert.True(t, e.Inspected())
	assert.False(t, e.Valid())
	assert.EqualValues(t, 0, e.LoadBias())
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"r-xp 00000000 00:00 0 /lib/libc.so",      // no address range
		"00400000 r-xp 00000000 00:00 0",          // no range separator
		"00400000-0045z000 r-xp 00000000 00:00 0", // bad end address
		"00400000-00452000 r-xp xxyyzz 00:00 0",   // bad offset
		"00400000-00452000 r-x 00000000 00:00 0",  // short permission string
		"00400000-00452000",                       // too few fields
	}
	for _, line := range tests {
		m := New(mapSource(&line))
		err := m.Rebuild()
		require.Error(t, err, "line %q", line)
		var parseErr *ParseError
		assert.True(t, errors.As(err, &parseErr), "line %q: %v", line, err)
	}
}

func TestRebuildKeepsOldSnapshot(t *testing.T) {
	text := "00400000-00452000 r-xp 00000000 08:02 173521 /usr/bin/dbus-daemon\n"
	m := New(mapSource(&text))
	require.NoError(t, m.Rebuild())
	text = "garbage\n"
	require.Error(t, m.Rebuild())
	entries := m.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "/usr/bin/dbus-daemon", entries[0].Name)
}

func TestDuplicateStart(t *testing.T) {
	m := buildMap(t, `
00400000-00452000 r-xp 00000000 08:02 1 /first/one.so
00400000-00460000 r--p 00000000 08:02 2 /second/one.so
`)
	entries := m.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "/first/one.so", entries[0].Name)
	assert.EqualValues(t, 0x452000, entries[0].End)
}

func TestFind(t *testing.T) {
	m := buildMap(t, `
00400000-00452000 r-xp 00000000 08:02 1 /bin/a
00600000-00601000 r--p 00000000 08:02 1 /bin/a
7f5c4b000000-7f5c4b1e0000 r-xp 00000000 08:01 2 /lib/b.so
`)
	tests := []struct {
		addr uintptr
		name string // "" means not found
	}{
		{0x400000, "/bin/a"},
		{0x451fff, "/bin/a"},
		{0x452000, ""}, // end is exclusive
		{0x3fffff, ""},
		{0x600800, "/bin/a"},
		{0x601000, ""},
		{0x7f5c4b000000, "/lib/b.so"},
		{0x7f5c4b123456, "/lib/b.so"},
		{0x7f5c4b1e0000, ""},
		{0, ""},
		{^uintptr(0), ""},
	}
	for _, test := range tests {
		e := m.Find(test.addr)
		if test.name == "" {
			assert.Nil(t, e, "addr %#x", test.addr)
			continue
		}
		require.NotNil(t, e, "addr %#x", test.addr)
		assert.Equal(t, test.name, e.Name, "addr %#x", test.addr)
	}
}

// A lookup miss must trigger exactly one rebuild, picking up mappings that
// appeared after the snapshot was taken.
func TestFindRebuildOnMiss(t *testing.T) {
	text := "00400000-00452000 r-xp 00000000 08:02 1 /bin/a\n"
	m := New(mapSource(&text))
	require.NoError(t, m.Rebuild())
	require.Nil(t, m.Find(0x7f5c4b000123))

	text += "7f5c4b000000-7f5c4b1e0000 r-xp 00000000 08:01 2 /lib/late.so\n"
	e := m.Find(0x7f5c4b000123)
	require.NotNil(t, e)
	assert.Equal(t, "/lib/late.so", e.Name)
}

// A miss retries the rebuild; when the source turned bad, the failure is
// reported through the log rather than through Find's result.
func TestFindRebuildFailureLogged(t *testing.T) {
	stdlog.SetOutput(&testutil.Writer{TB: t})
	require.NoError(t, flag.Set("vv", "1"))
	defer func() {
		flag.Set("vv", "0")
		stdlog.SetOutput(os.Stderr)
	}()

	text := "garbage\n"
	m := New(mapSource(&text))
	require.Error(t, m.Rebuild())
	assert.Nil(t, m.Find(0x1234))
}

func TestFindConcurrent(t *testing.T) {
	m := buildMap(t, `
00400000-00452000 r-xp 00000000 08:02 1 /bin/a
7f5c4b000000-7f5c4b1e0000 r-xp 00000000 08:01 2 /lib/b.so
`)
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for j := 0; j < 1000; j++ {
				if e := m.Find(0x400100); e == nil || e.Name != "/bin/a" {
					return errors.New("lost /bin/a")
				}
				if e := m.Find(0x7f5c4b000100); e == nil || e.Name != "/lib/b.so" {
					return errors.New("lost /lib/b.so")
				}
				m.Find(0x12345) // miss, forces a rebuild
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func BenchmarkFind(b *testing.B) {
	var sb strings.Builder
	for i := 1; i <= 256; i++ {
		start := i << 20
		fmt.Fprintf(&sb, "%x-%x r-xp 00000000 08:01 1 /lib/lib%d.so\n",
			start, start+0x80000, i)
	}
	text := sb.String()
	m := New(mapSource(&text))
	if err := m.Rebuild(); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if m.Find(uintptr(1+i%256)<<20) == nil {
			b.Fatal("lookup missed")
		}
	}
}
