// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sched simulates a preemptive multi-CPU kernel scheduler that
// combines a multi-level feedback queue for ordinary processes with a
// stride scheduler for processes holding a reserved CPU share.
//
// Each simulated process is a goroutine running a Program; each
// simulated CPU is a goroutine running the scheduler loop. The context
// switch is a channel handoff, and all scheduler state is guarded by a
// single process table spinlock that travels across the handoff, the
// way a real kernel passes its scheduler lock from the yielding thread
// to the scheduler and on to the next thread.
package sched

import (
	"fmt"
	"io"
	"runtime"
	"sync"
)

// A Program is the body of a simulated process. It runs on the
// process's own goroutine once the scheduler first dispatches it.
// When it returns, the process exits.
type Program func(p *Proc)

type procState int8

const (
	UNUSED procState = iota
	EMBRYO
	SLEEPING
	RUNNABLE
	RUNNING
	ZOMBIE
)

var statenames = [...]string{
	UNUSED:   "unused",
	EMBRYO:   "embryo",
	SLEEPING: "sleep",
	RUNNABLE: "runble",
	RUNNING:  "run",
	ZOMBIE:   "zombie",
}

func (s procState) String() string {
	if 0 <= int(s) && int(s) < len(statenames) {
		return statenames[s]
	}
	return fmt.Sprintf("procState(%d)", int8(s))
}

// schedClass says which discipline owns a process: the MLFQ by
// default, or the stride scheduler once the process reserves a share.
type schedClass int8

const (
	MLFQ schedClass = iota
	STRIDE
)

// A Proc is one process table slot.
type Proc struct {
	state  procState
	pid    int
	parent *Proc

	class     schedClass
	privlevel int /* MLFQ level, 0 is highest */
	ticks     int /* ticks consumed at the current level */
	tickets   int /* stride share, 0 for MLFQ */
	pass      int /* stride virtual time */

	wchan  any  /* sleep channel, nil unless sleeping */
	killed bool

	queue    node /* free list, MLFQ queue, stride run list, or sleep list */
	sibling  node /* link in parent's children */
	children node

	sz     int  /* address space size in pages */
	kstack bool /* kernel stack page held */
	utime  int  /* total ticks run, for accounting */
	name   string
	files  [NOFILE]*File
	cwd    *inode

	context chan bool /* parked goroutine waits here */
	cpu     *CPU      /* cpu the process last ran on */
	body    Program
	sys     *System
}

// Pid returns the process id.
func (p *Proc) Pid() int {
	return p.pid
}

// An Acct is one process accounting record, written when a process
// exits.
type Acct struct {
	Pid   int
	Name  string
	UTime int
}

// A System is one simulated machine: the process table and everything
// the scheduler arbitrates over.
type System struct {
	lock   Spinlock
	proc   [NPROC]Proc
	mlfq   mlfq
	stride stride
	sleep  node
	free   node

	initproc *Proc
	nextpid  int
	clock    int /* advanced by cpu0; the sleep channel for SleepTicks */
	halted   bool

	kmem      Spinlock
	freepages int

	fsys   sync.Mutex
	inodes map[string]*inode

	cpus []*CPU
	wg   sync.WaitGroup

	acct []Acct

	Trace   bool
	Console io.Writer
}

// NewSystem returns a system with an empty process table and no CPUs
// running; Boot starts it.
// Console receives procdump output; nil discards it.
func NewSystem(console io.Writer) *System {
	if console == nil {
		console = io.Discard
	}
	sys := &System{
		nextpid:   1,
		freepages: NPAGE,
		inodes:    make(map[string]*inode),
		Console:   console,
	}
	sys.lock.name = "ptable"
	sys.kmem.name = "kmem"

	for i := 0; i < QSIZE; i++ {
		sys.mlfq.queue[i].init()
		sys.mlfq.pin[i] = &sys.mlfq.queue[i]
	}
	sys.stride.run.init()
	sys.sleep.init()
	sys.free.init()
	for i := range sys.proc {
		p := &sys.proc[i]
		p.sys = sys
		p.queue.proc = p
		p.sibling.proc = p
		p.queue.init()
		p.sibling.init()
		p.children.init()
		sys.free.addTail(&p.queue)
	}
	sys.mlfq.tickets = 100
	return sys
}

// extCPU returns a pseudo-CPU for lock acquisition from outside the
// simulation (tests, the terminal driver). Each caller gets its own so
// that the interrupt-depth bookkeeping never races.
func (sys *System) extCPU() *CPU {
	return &CPU{id: -1}
}

// allocproc takes a slot off the free list, assigns a fresh pid, and
// starts the parked goroutine that will become the process. The
// goroutine waits to be dispatched, the way a new context resumes at
// forkret. Returns nil if the table is full or no kernel stack page is
// available, with the slot back on the free list.
func (sys *System) allocproc(c *CPU) *Proc {
	sys.lock.acquire(c)
	p := sys.free.first()
	if p == nil {
		sys.lock.release(c)
		return nil
	}
	p.queue.del()
	p.state = EMBRYO
	p.pid = sys.nextpid
	sys.nextpid++
	sys.lock.release(c)

	p.children.init()

	// Allocate kernel stack.
	if !sys.kalloc(c) {
		sys.lock.acquire(c)
		p.state = UNUSED
		p.pid = 0
		sys.free.add(&p.queue)
		sys.lock.release(c)
		return nil
	}
	p.kstack = true

	p.context = make(chan bool)
	go sys.run(p)

	return p
}

// run is the outermost frame of every process goroutine. It parks
// until the scheduler first dispatches the process, drops the process
// table lock the scheduler handed over, and enters the program body.
// A closed context means the fork that created the process failed
// after allocproc and the slot went back unused.
func (sys *System) run(p *Proc) {
	if !<-p.context {
		return
	}
	p.forkret()
	if p.body != nil {
		p.body(p)
	}
	if p == sys.initproc {
		sys.shutdown(p)
	}
	p.Exit()
}

// forkret is the first thing a newly dispatched process runs. The
// scheduler transferred the process table lock with the CPU; release
// it before the program body starts.
func (p *Proc) forkret() {
	p.sys.lock.release(p.cpu)
}

// Start sets up a process outside the fork path, the way userinit
// builds the first process. The first process started becomes init:
// orphans are reparented to it and its program's return halts the
// system. Later Start calls make children of init.
func (sys *System) Start(name string, body Program) (*Proc, error) {
	c := sys.extCPU()
	p := sys.allocproc(c)
	if p == nil {
		return nil, EAGAIN
	}
	if !sys.allocPages(c, 1) {
		panic("userinit: out of memory?")
	}
	p.sz = 1
	p.name = name
	p.cwd = sys.namei("/")
	p.body = body

	sys.lock.acquire(c)
	if sys.initproc == nil {
		sys.initproc = p
	} else {
		p.parent = sys.initproc
		sys.initproc.children.addTail(&p.sibling)
	}
	p.state = RUNNABLE
	sys.enqueue(p.privlevel, p)
	sys.lock.release(c)

	return p, nil
}

// Fork creates a child process running body. The child starts in the
// MLFQ at the highest level regardless of the parent's discipline.
// Returns the child pid, or an error with no state change if the
// table is full or memory for the child's image runs out.
func (p *Proc) Fork(name string, body Program) (int, error) {
	sys := p.sys
	c := p.cpu

	np := sys.allocproc(c)
	if np == nil {
		return 0, EAGAIN
	}

	// Copy the address space.
	if !sys.allocPages(c, p.sz) {
		close(np.context)
		np.context = nil
		sys.kfree(c)
		np.kstack = false
		sys.lock.acquire(c)
		np.state = UNUSED
		np.pid = 0
		sys.free.add(&np.queue)
		sys.lock.release(c)
		return 0, ENOMEM
	}
	np.sz = p.sz

	for i, f := range p.files {
		if f != nil {
			np.files[i] = sys.filedup(f)
		}
	}
	np.cwd = sys.idup(p.cwd)
	np.name = name
	np.body = body
	np.class = MLFQ

	pid := np.pid

	sys.lock.acquire(c)
	np.parent = p
	p.children.addTail(&np.sibling)
	np.state = RUNNABLE
	sys.enqueue(np.privlevel, np)
	sys.lock.release(c)

	return pid, nil
}

// Exit ends the current process: files and cwd are released, the
// parent is woken, children are handed to init, and the slot goes
// zombie until the parent reaps it. Does not return.
func (p *Proc) Exit() {
	sys := p.sys
	if p == sys.initproc {
		panic("init exiting")
	}

	// Close all open files.
	for fd, f := range p.files {
		if f != nil {
			sys.fileclose(f)
			p.files[fd] = nil
		}
	}
	sys.iput(p.cwd)
	p.cwd = nil

	c := p.cpu
	sys.lock.acquire(c)

	sys.acct = append(sys.acct, Acct{Pid: p.pid, Name: p.name, UTime: p.utime})

	// Parent might be sleeping in Wait.
	sys.wakeup1(p.parent)

	// Pass abandoned children to init.
	children := &p.children
	for itr := children.next; itr != children; itr = itr.next {
		q := itr.proc
		q.parent = sys.initproc
		if q.state == ZOMBIE {
			sys.wakeup1(sys.initproc)
		}
	}
	children.moveAllTail(&sys.initproc.children)

	// Leave the runnable structure for good.
	if p.class == MLFQ {
		sys.dequeue(p)
	} else {
		sys.mlfq.tickets += p.tickets
		p.queue.del()
	}
	p.state = ZOMBIE

	// Hand the CPU back to its scheduler. A zombie is never resumed,
	// so the goroutine ends here; the parent reclaims the slot.
	c.scheduler <- true
	runtime.Goexit()
}

// freeproc reclaims a zombie's slot. Caller holds the process table
// lock.
func (sys *System) freeproc(c *CPU, p *Proc) {
	p.kstack = false
	sys.kfree(c)
	sys.freePages(c, p.sz)
	p.sz = 0
	p.pid = 0
	p.parent = nil
	p.name = ""
	p.killed = false
	p.tickets = 0
	p.pass = 0
	p.ticks = 0
	p.utime = 0
	p.privlevel = 0
	p.class = MLFQ
	p.body = nil
	p.context = nil
	p.state = UNUSED
	sys.free.add(&p.queue)
}

// Wait blocks until a child exits, reaps it, and returns its pid.
// Returns ECHILD if the process has no children or has been killed.
func (p *Proc) Wait() (int, error) {
	sys := p.sys

	sys.lock.acquire(p.cpu)
	for {
		// Scan the children for zombies.
		children := &p.children
		for itr := children.next; itr != children; itr = itr.next {
			q := itr.proc
			if q.state == ZOMBIE {
				pid := q.pid
				itr.del()
				sys.freeproc(p.cpu, q)
				sys.lock.release(p.cpu)
				return pid, nil
			}
		}

		// No point waiting without children.
		if children.empty() || p.killed {
			sys.lock.release(p.cpu)
			return 0, ECHILD
		}

		// Wait for a child to exit. (See the wakeup1 call in Exit.)
		p.Sleep(p, &sys.lock)
	}
}

// kill marks the process and, if it is sleeping, makes it runnable so
// it can notice. The victim exits on its next trap return.
func (sys *System) kill(c *CPU, pid int) error {
	sys.lock.acquire(c)
	for i := range sys.proc {
		p := &sys.proc[i]
		if p.pid == pid {
			p.killed = true
			// Wake the process from sleep if necessary.
			if p.state == SLEEPING {
				p.queue.del()
				p.state = RUNNABLE
				if p.class == MLFQ {
					sys.enqueue(p.privlevel, p)
				} else {
					sys.pushheap(p)
				}
			}
			sys.lock.release(c)
			return nil
		}
	}
	sys.lock.release(c)
	return ESRCH
}

// Kill marks the process with the given pid as killed.
func (p *Proc) Kill(pid int) error {
	return p.sys.kill(p.cpu, pid)
}

// Kill marks the process with the given pid as killed, from outside
// the simulation.
func (sys *System) Kill(pid int) error {
	return sys.kill(sys.extCPU(), pid)
}

// Killed reports whether the process has been marked killed.
func (p *Proc) Killed() bool {
	sys := p.sys
	sys.lock.acquire(p.cpu)
	k := p.killed
	sys.lock.release(p.cpu)
	return k
}

// IncTick charges the process one tick of consumed time at its MLFQ
// level without running it. It is the same charge SleepTicks makes,
// inline under the lock, each time it goes back to sleep on the clock.
func (p *Proc) IncTick() {
	sys := p.sys
	sys.lock.acquire(p.cpu)
	p.ticks++
	sys.lock.release(p.cpu)
}

// Grow changes the process's address space by n pages. Returns ENOMEM
// with no state change if the page pool cannot cover the growth.
func (p *Proc) Grow(n int) error {
	sys := p.sys
	if n > 0 {
		if !sys.allocPages(p.cpu, n) {
			return ENOMEM
		}
		p.sz += n
	} else if n < 0 {
		if p.sz+n < 0 {
			return EINVAL
		}
		sys.freePages(p.cpu, -n)
		p.sz += n
	}
	return nil
}

// Run burns n ticks of CPU, taking one timer preemption per tick. If
// the process has been killed, it exits at the next preemption
// instead, the way the trap return path does.
func (p *Proc) Run(n int) {
	for i := 0; i < n; i++ {
		if p.Killed() {
			p.Exit()
		}
		p.Yield()
	}
}

// Lookup returns the pid of a live process with the given name.
func (sys *System) Lookup(name string) (int, error) {
	c := sys.extCPU()
	sys.lock.acquire(c)
	for i := range sys.proc {
		p := &sys.proc[i]
		if p.state != UNUSED && p.state != ZOMBIE && p.name == name {
			pid := p.pid
			sys.lock.release(c)
			return pid, nil
		}
	}
	sys.lock.release(c)
	return 0, ESRCH
}

// Accounting returns a copy of the exit records so far.
func (sys *System) Accounting() []Acct {
	c := sys.extCPU()
	sys.lock.acquire(c)
	acct := append([]Acct(nil), sys.acct...)
	sys.lock.release(c)
	return acct
}

// Procdump prints a process listing to the console. For debugging;
// takes no lock, to avoid wedging a stuck machine further.
func (sys *System) Procdump() {
	for i := range sys.proc {
		p := &sys.proc[i]
		if p.state == UNUSED {
			continue
		}
		var class string
		if p.class == STRIDE {
			class = fmt.Sprintf("stride/%d", p.tickets)
		} else {
			class = fmt.Sprintf("mlfq/%d", p.privlevel)
		}
		fmt.Fprintf(sys.Console, "%d %s %s %s %d\n", p.pid, class, p.state, p.name, p.utime)
	}
}
