// Copyright 2026 leakscope project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package backtrace

import (
	"sync"

	"github.com/ianlancetaylor/demangle"
)

// cache memoizes demangle results in a thread-safe way; the same mangled
// names repeat heavily across the frames of one leak report.
type cache struct {
	mu sync.RWMutex
	m  map[string]string
}

// demangle returns the demangled form of name, or name itself if it is not
// in a recognized mangling scheme.
func (c *cache) demangle(name string) string {
	c.mu.RLock()
	val, ok := c.m[name]
	c.mu.RUnlock()
	if ok {
		return val
	}
	val = demangle.Filter(name)
	c.mu.Lock()
	if c.m == nil {
		c.m = make(map[string]string)
	}
	c.m[name] = val
	c.mu.Unlock()
	return val
}
