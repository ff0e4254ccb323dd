// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

// Sleep atomically releases lk and suspends the process on wchan,
// reacquiring lk once awakened. Channels are compared by identity;
// any pointer the sleeper and waker agree on will do.
//
// Wakeups between releasing lk and parking are not missed: the state
// change happens under the process table lock, which wakeup also
// takes.
func (p *Proc) Sleep(wchan any, lk *Spinlock) {
	sys := p.sys

	if wchan == nil {
		panic("sleep")
	}
	if lk == nil {
		panic("sleep without lk")
	}

	// Must hold the process table lock to change p.state and then
	// call sched; once we do, it is safe to let go of lk.
	if lk != &sys.lock {
		sys.lock.acquire(p.cpu)
		lk.release(p.cpu)
	}

	// Go to sleep.
	p.wchan = wchan
	if p.class == MLFQ {
		sys.dequeue(p)
	} else {
		p.queue.del()
	}
	p.state = SLEEPING
	sys.sleep.add(&p.queue)

	p.sched()

	// Tidy up.
	p.wchan = nil

	// Reacquire original lock.
	if lk != &sys.lock {
		sys.lock.release(p.cpu)
		lk.acquire(p.cpu)
	}
}

// wakeup1 wakes every process sleeping on wchan. Caller holds the
// process table lock. An MLFQ process rejoins the queue of its
// recorded level; a stride process goes back into the heap, where the
// selection rule will find it.
func (sys *System) wakeup1(wchan any) {
	if wchan == nil {
		return
	}
	q := &sys.sleep
	for itr := q.next; itr != q; itr = itr.next {
		p := itr.proc
		if p.wchan == wchan {
			prev := itr.prev
			itr.del()
			p.state = RUNNABLE
			if p.class == MLFQ {
				sys.enqueue(p.privlevel, p)
			} else {
				sys.pushheap(p)
			}
			itr = prev
		}
	}
}

// Wakeup wakes every process sleeping on wchan.
func (sys *System) Wakeup(wchan any) {
	c := sys.extCPU()
	sys.lock.acquire(c)
	sys.wakeup1(wchan)
	sys.lock.release(c)
}

// SleepTicks suspends the process for at least n ticks of the global
// clock. It charges one tick of consumed time each time it goes back
// to sleep on the clock, so a sleeper cannot bank MLFQ quantum; when
// the process is not dispatched between two clock ticks, that is fewer
// charges than elapsed ticks. Returns EINTR if the process is killed
// while sleeping.
func (p *Proc) SleepTicks(n int) error {
	sys := p.sys

	sys.lock.acquire(p.cpu)
	t0 := sys.clock
	for sys.clock-t0 < n {
		if p.killed {
			sys.lock.release(p.cpu)
			return EINTR
		}
		p.ticks++
		p.Sleep(&sys.clock, &sys.lock)
	}
	sys.lock.release(p.cpu)
	return nil
}
