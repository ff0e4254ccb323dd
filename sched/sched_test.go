// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spawn takes a slot, names it, and makes it runnable in the MLFQ,
// without ever dispatching it. Direct-drive tests step the scheduler
// logic by hand instead of running process goroutines.
func spawn(t *testing.T, sys *System, name string) *Proc {
	t.Helper()
	p := sys.allocproc(sys.extCPU())
	require.NotNil(t, p, "allocproc")
	p.name = name
	p.cpu = sys.extCPU()

	c := sys.extCPU()
	sys.lock.acquire(c)
	p.state = RUNNABLE
	sys.enqueue(p.privlevel, p)
	sys.lock.release(c)
	return p
}

// setShare reserves a stride share for a process that is not actually
// running, then moves it from the run list into the heap where the
// selection rule can see it.
func setShare(t *testing.T, sys *System, p *Proc, share int) {
	t.Helper()
	require.NoError(t, p.SetCPUShare(share))
	c := sys.extCPU()
	sys.lock.acquire(c)
	p.queue.del()
	sys.pushheap(p)
	sys.lock.release(c)
}

// stepGreedy simulates one scheduler iteration in which the selected
// process burns its whole tick and is preempted by the timer. Returns
// the process that ran, or nil.
func stepGreedy(sys *System) *Proc {
	c := sys.extCPU()
	sys.lock.acquire(c)

	var p *Proc
	if sys.minpass() < sys.mlfq.pass {
		p = sys.popheap()
	} else {
		p = sys.mlfqselect()
	}

	if p != nil && p.state == RUNNABLE {
		if p.class == STRIDE {
			sys.stride.run.add(&p.queue)
		}
		p.state = RUNNING

		// The timer fires; the process yields.
		if p.class == STRIDE {
			p.queue.del()
		}
		p.state = RUNNABLE

		p.utime++
		if p.class == MLFQ {
			sys.mlfqlogic(p)
		}
	}
	sys.stridelogic(p)

	sys.lock.release(c)
	return p
}

// checkInvariants asserts, under the process table lock, the
// structural invariants the scheduler must preserve at every quiescent
// point.
func checkInvariants(t *testing.T, sys *System) {
	t.Helper()
	c := sys.extCPU()
	sys.lock.acquire(c)
	defer sys.lock.release(c)

	// Where is every process linked?
	where := make(map[*Proc][]string)
	walk := func(q *node, label string) {
		for itr := q.next; itr != q; itr = itr.next {
			where[itr.proc] = append(where[itr.proc], label)
		}
	}
	walk(&sys.free, "free")
	for l := 0; l < QSIZE; l++ {
		walk(&sys.mlfq.queue[l], fmt.Sprintf("mlfq%d", l))
	}
	walk(&sys.stride.run, "run")
	walk(&sys.sleep, "sleep")
	for i := 1; i <= sys.stride.size; i++ {
		p := sys.stride.minheap[i]
		where[p] = append(where[p], "heap")
	}

	for i := range sys.proc {
		p := &sys.proc[i]
		w := where[p]
		var want []string
		switch p.state {
		case UNUSED:
			want = []string{"free"}
		case EMBRYO, ZOMBIE:
			want = nil
		case RUNNABLE, RUNNING:
			if p.class == MLFQ {
				want = []string{fmt.Sprintf("mlfq%d", p.privlevel)}
			} else if p.state == RUNNABLE {
				want = []string{"heap"}
			} else {
				want = []string{"run"}
			}
		case SLEEPING:
			want = []string{"sleep"}
			assert.NotNil(t, p.wchan, "pid %d sleeping with nil chan", p.pid)
		}
		assert.Equal(t, want, w, "pid %d (%v %v) membership", p.pid, p.state, p.class)
	}

	// Ticket conservation and the MLFQ floor.
	total := sys.mlfq.tickets
	for i := range sys.proc {
		p := &sys.proc[i]
		if p.class == STRIDE && p.state != UNUSED && p.state != ZOMBIE {
			total += p.tickets
		}
	}
	assert.Equal(t, 100, total, "ticket conservation")
	assert.GreaterOrEqual(t, sys.mlfq.tickets, RESERVE, "MLFQ reserve floor")

	// Min-heap property on pass.
	for i := 2; i <= sys.stride.size; i++ {
		assert.LessOrEqual(t, sys.stride.minheap[i/2].pass, sys.stride.minheap[i].pass,
			"heap property at %d", i)
	}

	// Every pin is its queue's head or a node still linked there.
	for l := 0; l < QSIZE; l++ {
		q := &sys.mlfq.queue[l]
		pin := sys.mlfq.pin[l]
		ok := pin == q
		for itr := q.next; itr != q; itr = itr.next {
			if pin == itr {
				ok = true
			}
		}
		assert.True(t, ok, "pin %d dangling", l)
	}
}

func TestInvariantsUnderStress(t *testing.T) {
	sys := NewSystem(nil)

	worker := func(kind int) Program {
		return func(p *Proc) {
			switch kind {
			case 0:
				p.Run(60)
			case 1:
				p.SetCPUShare(5)
				p.Run(60)
			case 2:
				for i := 0; i < 10; i++ {
					p.SleepTicks(2)
					p.Run(3)
				}
			case 3:
				for i := 0; i < 3; i++ {
					p.Fork("grandchild", func(gp *Proc) { gp.Run(5) })
				}
				for i := 0; i < 3; i++ {
					p.Wait()
				}
			}
		}
	}

	const nworker = 8
	initBody := func(p *Proc) {
		for i := 0; i < nworker; i++ {
			_, err := p.Fork(fmt.Sprintf("worker%d", i), worker(i%4))
			if err != nil {
				panic("stress fork: " + err.Error())
			}
		}
		for i := 0; i < nworker; i++ {
			p.Wait()
		}
	}

	_, err := sys.Start("init", initBody)
	require.NoError(t, err)
	sys.Boot(2)

	done := make(chan struct{})
	go func() {
		sys.Wait()
		close(done)
	}()
	running := true
	for i := 0; i < 100 && running; i++ {
		checkInvariants(t, sys)
		select {
		case <-done:
			running = false
		case <-time.After(500 * time.Microsecond):
		}
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		sys.Halt()
		t.Fatal("stress workload did not finish")
	}
	checkInvariants(t, sys)

	// init, the workers, and the grandchildren of the two forking
	// workers all left exit records.
	acct := sys.Accounting()
	assert.Len(t, acct, 1+nworker+2*3, "exit records")
}
