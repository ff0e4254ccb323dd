// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import "sync"

// A Spinlock is the simulated kernel spinlock. The mutual exclusion is
// a sync.Mutex; around it the lock keeps the bookkeeping a real kernel
// needs and this package's invariant checks depend on: which CPU holds
// the lock, and the pushcli/popcli interrupt-disable depth on that CPU.
//
// Unlike a sync.Mutex alone, the lock is allowed to change goroutines
// while held: a process acquires it, parks in sched, and the scheduler
// that resumes releases it. Both sides run "on" the same CPU, so the
// owner recorded here stays consistent across the handoff.
type Spinlock struct {
	name string
	mu   sync.Mutex
	cpu  *CPU // cpu holding the lock, nil if unheld
}

func (lk *Spinlock) acquire(c *CPU) {
	c.pushcli()
	if lk.holding(c) {
		panic("acquire " + lk.name)
	}
	lk.mu.Lock()
	lk.cpu = c
}

func (lk *Spinlock) release(c *CPU) {
	if !lk.holding(c) {
		panic("release " + lk.name)
	}
	lk.cpu = nil
	lk.mu.Unlock()
	c.popcli()
}

func (lk *Spinlock) holding(c *CPU) bool {
	return lk.cpu == c
}

// pushcli and popcli simulate the cli/sti nesting of the hardware
// interrupt flag. popcli restores interrupts only when the depth
// returns to the outermost level and they were enabled there.

func (c *CPU) pushcli() {
	intson := c.intson
	c.intson = false
	if c.ncli == 0 {
		c.intena = intson
	}
	c.ncli++
}

func (c *CPU) popcli() {
	if c.intson {
		panic("popcli - interruptible")
	}
	c.ncli--
	if c.ncli < 0 {
		panic("popcli")
	}
	if c.ncli == 0 && c.intena {
		c.intson = true
	}
}

// sti enables interrupts on the CPU, as the scheduler does at the top
// of every iteration so that timer and device interrupts are not
// starved while it loops.
func (c *CPU) sti() {
	c.intson = true
}
