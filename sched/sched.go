// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import (
	"fmt"
	"os"
	"runtime"
)

// A CPU is one simulated processor: a scheduler goroutine plus the
// state a kernel keeps in hardware-local storage.
type CPU struct {
	id        int
	proc      *Proc     /* process currently dispatched, or nil */
	scheduler chan bool /* the scheduler's parked context */
	ncli      int       /* pushcli nesting depth */
	intena    bool      /* were interrupts on at the outermost pushcli */
	intson    bool      /* simulated interrupt flag */
}

// Boot starts ncpu scheduler goroutines. The system runs until Halt or
// until the init program returns.
func (sys *System) Boot(ncpu int) {
	if ncpu < 1 || ncpu > NCPU {
		panic("boot: bad ncpu")
	}
	if sys.cpus != nil {
		panic("boot: already booted")
	}
	for i := 0; i < ncpu; i++ {
		sys.cpus = append(sys.cpus, &CPU{id: i, scheduler: make(chan bool)})
	}
	for _, c := range sys.cpus {
		sys.wg.Add(1)
		go func(c *CPU) {
			defer sys.wg.Done()
			sys.scheduler(c)
		}(c)
	}
}

// Wait blocks until every scheduler goroutine has stopped.
func (sys *System) Wait() {
	sys.wg.Wait()
}

// Halt stops the schedulers at their next iteration. Parked processes
// stay parked; the system cannot be rebooted.
func (sys *System) Halt() {
	c := sys.extCPU()
	sys.lock.acquire(c)
	sys.halted = true
	sys.lock.release(c)
}

// scheduler is the per-CPU loop: pick the side whose virtual clock is
// behind, dispatch, account. Never returns until the system halts.
func (sys *System) scheduler(c *CPU) {
	c.proc = nil

	for {
		// Let simulated interrupts in between iterations.
		c.sti()
		runtime.Gosched()

		sys.lock.acquire(c)

		if sys.halted {
			sys.lock.release(c)
			return
		}

		// CPU 0 drives the global clock; every tick wakes sleepers
		// on the clock channel.
		if c.id == 0 {
			sys.clock++
			sys.wakeup1(&sys.clock)
		}

		// Select next process: the stride heap when its minimum pass
		// is strictly behind the MLFQ's clock, the MLFQ otherwise.
		var p *Proc
		if sys.minpass() < sys.mlfq.pass {
			p = sys.popheap()
		} else {
			p = sys.mlfqselect()
		}

		// Run process.
		if p != nil && p.state == RUNNABLE {
			// A stride process leaves the heap for the run list
			// while it executes.
			if p.class == STRIDE {
				sys.stride.run.add(&p.queue)
			}

			c.proc = p
			p.cpu = c
			p.state = RUNNING

			if sys.Trace {
				fmt.Fprintf(os.Stderr, "cpu%d: run %d %s\n", c.id, p.pid, p.name)
			}

			// swtch to the process; it returns the CPU through
			// sched or Exit.
			p.context <- true
			<-c.scheduler

			p.utime++
			if p.class == MLFQ {
				sys.mlfqlogic(p)
			}
			c.proc = nil
		}

		sys.stridelogic(p)

		sys.lock.release(c)
	}
}

// sched hands the CPU back to its scheduler and parks until the next
// dispatch. Must be called with the process table lock held, exactly
// one level of pushcli, interrupts off, and the state already changed
// away from RUNNING.
func (p *Proc) sched() {
	sys := p.sys
	c := p.cpu

	if !sys.lock.holding(c) {
		panic("sched ptable lock")
	}
	if c.ncli != 1 {
		panic("sched locks")
	}
	if p.state == RUNNING {
		panic("sched running")
	}
	if c.intson {
		panic("sched interruptible")
	}
	intena := c.intena

	// swtch: wake the scheduler context, park on our own. The lock
	// travels with the CPU, not this goroutine.
	c.scheduler <- true
	<-p.context

	// intena is a property of this kernel thread, not of the CPU it
	// woke up on.
	p.cpu.intena = intena
}

// Yield gives up the CPU for one scheduling round.
func (p *Proc) Yield() {
	sys := p.sys

	sys.lock.acquire(p.cpu)
	// A yielding stride process leaves the run list; stridelogic
	// pushes it back into the heap with an advanced pass.
	if p.class == STRIDE {
		p.queue.del()
	}
	p.state = RUNNABLE
	p.sched()
	sys.lock.release(p.cpu)
}

// shutdown ends the simulation when the init program returns. Unlike
// Exit it does not reparent or wake anyone: nothing is left to reap
// init. Does not return.
func (sys *System) shutdown(p *Proc) {
	c := p.cpu

	sys.lock.acquire(c)
	sys.halted = true
	sys.acct = append(sys.acct, Acct{Pid: p.pid, Name: p.name, UTime: p.utime})
	if p.class == MLFQ {
		sys.dequeue(p)
	} else {
		sys.mlfq.tickets += p.tickets
		p.queue.del()
	}
	p.state = ZOMBIE
	c.scheduler <- true
	runtime.Goexit()
}
