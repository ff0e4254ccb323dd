// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetCPUShare(t *testing.T) {
	sys := NewSystem(nil)
	a := spawn(t, sys, "a")
	b := spawn(t, sys, "b")

	// Out of range.
	assert.Error(t, a.SetCPUShare(0))
	assert.Error(t, a.SetCPUShare(100-RESERVE+1))
	assert.Equal(t, 100, sys.mlfq.tickets)
	assert.Equal(t, MLFQ, a.class)

	// A takes 70; the MLFQ keeps 30.
	require.NoError(t, a.SetCPUShare(70))
	assert.Equal(t, STRIDE, a.class)
	assert.Equal(t, 70, a.tickets)
	assert.Equal(t, 30, sys.mlfq.tickets)

	// 15 more would leave the MLFQ below its floor; 10 is fine.
	assert.ErrorIs(t, b.SetCPUShare(15), EINVAL)
	assert.Equal(t, MLFQ, b.class)
	require.NoError(t, b.SetCPUShare(10))
	assert.Equal(t, 20, sys.mlfq.tickets)

	// Reassigning the same share is a semantic no-op: the old tickets
	// count toward the budget.
	require.NoError(t, a.SetCPUShare(70))
	assert.Equal(t, 70, a.tickets)
	assert.Equal(t, 20, sys.mlfq.tickets)

	// Shrinking a reservation gives tickets back.
	require.NoError(t, a.SetCPUShare(30))
	assert.Equal(t, 60, sys.mlfq.tickets)
}

// A fresh stride process joins at the current virtual time frontier.
func TestSetCPUShareJoinsAtFrontier(t *testing.T) {
	sys := NewSystem(nil)
	m := spawn(t, sys, "mlfq")
	for i := 0; i < 10; i++ {
		require.Same(t, m, stepGreedy(sys))
	}
	mlfqpass := sys.mlfq.pass
	require.Greater(t, mlfqpass, 0)

	a := spawn(t, sys, "a")
	require.NoError(t, a.SetCPUShare(20))
	assert.Equal(t, mlfqpass, a.pass, "empty heap: frontier is the MLFQ clock")

	// With a slower heap minimum, the newcomer adopts that instead.
	c := sys.extCPU()
	sys.lock.acquire(c)
	a.queue.del()
	a.pass = mlfqpass / 2
	sys.pushheap(a)
	sys.lock.release(c)

	b := spawn(t, sys, "b")
	require.NoError(t, b.SetCPUShare(20))
	assert.Equal(t, mlfqpass/2, b.pass)
}

// Process A holds a 20% share against one MLFQ process: over 1000
// ticks it runs 200, within quantization error.
func TestStrideProportion(t *testing.T) {
	sys := NewSystem(nil)
	a := spawn(t, sys, "a")
	b := spawn(t, sys, "b")
	setShare(t, sys, a, 20)

	runs := 0
	for i := 0; i < 1000; i++ {
		p := stepGreedy(sys)
		require.NotNil(t, p)
		if p == a {
			runs++
		}
	}
	assert.InDelta(t, 200, runs, 2, "20%% share of 1000 ticks")
	assert.Equal(t, 1000-runs, b.utime)
	checkInvariants(t, sys)
}

// Two stride processes split the reserved share by ticket ratio while
// the MLFQ keeps its remainder.
func TestStrideTwoClients(t *testing.T) {
	sys := NewSystem(nil)
	a := spawn(t, sys, "a")
	b := spawn(t, sys, "b")
	m := spawn(t, sys, "m")
	setShare(t, sys, a, 60)
	setShare(t, sys, b, 20)

	for i := 0; i < 1000; i++ {
		require.NotNil(t, stepGreedy(sys))
	}
	assert.Equal(t, 1000, a.utime+b.utime+m.utime)
	assert.InDelta(t, 600, a.utime, 10)
	assert.InDelta(t, 200, b.utime, 10)
	assert.InDelta(t, 200, m.utime, 10)
	checkInvariants(t, sys)
}

// Ties between the heap minimum and the MLFQ clock go to the MLFQ.
func TestTieGoesToMLFQ(t *testing.T) {
	sys := NewSystem(nil)
	a := spawn(t, sys, "a")
	m := spawn(t, sys, "m")
	setShare(t, sys, a, 20)

	c := sys.extCPU()
	sys.lock.acquire(c)
	sys.popheap()
	a.pass = sys.mlfq.pass
	sys.pushheap(a)
	sys.lock.release(c)

	assert.Same(t, m, stepGreedy(sys))
}

// Crossing the barrier shifts every clock down by the minimum,
// preserving order, including the process that just ran and processes
// asleep on the sleep list.
func TestRenormalization(t *testing.T) {
	sys := NewSystem(nil)
	a := spawn(t, sys, "a")
	b := spawn(t, sys, "b")
	slp := spawn(t, sys, "slp")
	setShare(t, sys, a, 30)
	setShare(t, sys, b, 20)
	setShare(t, sys, slp, 10)

	ch := new(int)
	c := sys.extCPU()
	sys.lock.acquire(c)
	for sys.stride.size > 0 {
		sys.popheap()
	}
	a.pass = BARRIER + 100
	b.pass = BARRIER + 200
	sys.pushheap(a)
	sys.pushheap(b)
	slp.pass = BARRIER + 120
	slp.wchan = ch
	slp.state = SLEEPING
	sys.sleep.add(&slp.queue)
	sys.mlfq.pass = BARRIER + 150
	sys.lock.release(c)

	// A has the minimum pass and runs; its own pass triggers the
	// renormalization.
	require.Same(t, a, stepGreedy(sys))

	assert.Equal(t, STRD(30), a.pass, "shifted to zero, then advanced")
	assert.Equal(t, 100, b.pass)
	assert.Equal(t, 20, slp.pass)
	assert.Equal(t, 50, sys.mlfq.pass)
	checkInvariants(t, sys)
}

// A woken stride process goes back into the heap where selection can
// find it; a woken MLFQ process rejoins its recorded level.
func TestWakeupReinsertion(t *testing.T) {
	sys := NewSystem(nil)
	s := spawn(t, sys, "s")
	m := spawn(t, sys, "m")
	setShare(t, sys, s, 20)

	ch := new(int)
	c := sys.extCPU()
	sys.lock.acquire(c)
	require.Same(t, s, sys.popheap())
	s.wchan = ch
	s.state = SLEEPING
	sys.sleep.add(&s.queue)

	sys.dequeue(m)
	m.privlevel = 1
	m.wchan = ch
	m.state = SLEEPING
	sys.sleep.add(&m.queue)
	sys.lock.release(c)

	sys.Wakeup(ch)

	assert.Equal(t, RUNNABLE, s.state)
	assert.Equal(t, 1, sys.stride.size)
	assert.Same(t, s, sys.stride.minheap[1])

	assert.Equal(t, RUNNABLE, m.state)
	assert.Equal(t, []string{"m"}, names(&sys.mlfq.queue[1]))
}
