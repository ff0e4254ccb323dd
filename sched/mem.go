// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

/*
 * Simulated physical memory: a bounded pool of pages under its own
 * lock. Page contents are out of scope; only the accounting matters,
 * so that kernel stack allocation, fork's image copy, and Grow have
 * real exhaustion paths.
 */

// kalloc takes one page for a kernel stack. Returns false if the pool
// is empty.
func (sys *System) kalloc(c *CPU) bool {
	return sys.allocPages(c, 1)
}

// kfree returns a kernel stack page.
func (sys *System) kfree(c *CPU) {
	sys.freePages(c, 1)
}

func (sys *System) allocPages(c *CPU, n int) bool {
	sys.kmem.acquire(c)
	if sys.freepages < n {
		sys.kmem.release(c)
		return false
	}
	sys.freepages -= n
	sys.kmem.release(c)
	return true
}

func (sys *System) freePages(c *CPU, n int) {
	sys.kmem.acquire(c)
	sys.freepages += n
	if sys.freepages > NPAGE {
		panic("freePages")
	}
	sys.kmem.release(c)
}
