// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

/*
 * The stride scheduler: processes that reserved a CPU share, ordered
 * by pass value in a binary min-heap. A process's pass advances by
 * STRIDE1/tickets each time it runs, so larger shares advance slower
 * and are selected more often. The MLFQ competes as one aggregate
 * client with the unreserved tickets.
 *
 * The heap holds RUNNABLE stride processes only. A running stride
 * process sits on the run list until stridelogic pushes it back with
 * an advanced pass; a sleeping one sits on the sleep list until
 * wakeup1 pushes it back.
 */
type stride struct {
	minheap [NPROC + 1]*Proc /* 1-indexed */
	size    int
	run     node
}

// minpass returns the minimum pass in the heap, or MAXINT if the heap
// is empty so that the MLFQ always wins the comparison.
func (sys *System) minpass() int {
	if sys.stride.size > 0 {
		return sys.stride.minheap[1].pass
	}
	return MAXINT
}

// pushheap inserts a process, sifting up while its pass is smaller
// than its parent's.
func (sys *System) pushheap(p *Proc) {
	st := &sys.stride
	st.size++
	i := st.size
	for i != 1 && p.pass < st.minheap[i/2].pass {
		st.minheap[i] = st.minheap[i/2]
		i /= 2
	}
	st.minheap[i] = p
}

// popheap removes and returns the minimum-pass process, moving the
// last element to the root and sifting down toward the smaller child;
// ties go to the lower index.
func (sys *System) popheap() *Proc {
	st := &sys.stride
	min := st.minheap[1]
	last := st.minheap[st.size]
	st.size--

	parent, child := 1, 2
	for child <= st.size {
		if child < st.size && st.minheap[child].pass > st.minheap[child+1].pass {
			child++
		}
		if last.pass <= st.minheap[child].pass {
			break
		}
		st.minheap[parent] = st.minheap[child]
		parent, child = child, child*2
	}
	st.minheap[parent] = last
	st.minheap[st.size+1] = nil

	return min
}

// stridelogic settles the virtual clocks after every scheduler
// iteration, whichever side ran. Called with the process table lock
// held; p is the process that just ran, or nil if none did.
func (sys *System) stridelogic(p *Proc) {
	st := &sys.stride

	// Pass overflow handling: when the minimum pass crosses the
	// barrier, shift every clock down by it. Order is preserved.
	minpass := sys.mlfq.pass
	if p != nil && p.class == STRIDE {
		minpass = p.pass
	}
	if minpass > BARRIER {
		for i := 1; i <= st.size; i++ {
			st.minheap[i].pass -= minpass
		}
		q := &st.run
		for itr := q.next; itr != q; itr = itr.next {
			itr.proc.pass -= minpass
		}
		// Sleeping stride processes keep their pass on the sleep
		// list; shift them too so order holds when they wake.
		q = &sys.sleep
		for itr := q.next; itr != q; itr = itr.next {
			if itr.proc.class == STRIDE {
				itr.proc.pass -= minpass
			}
		}
		// A stride process that just yielded is in no structure
		// until the push below; shift it by hand or it would rejoin
		// a whole epoch ahead of everyone.
		if p != nil && p.class == STRIDE && p.state == RUNNABLE {
			p.pass -= minpass
		}
		sys.mlfq.pass -= minpass
	}

	// Pass increases by stride.
	if p == nil || p.class == MLFQ {
		sys.mlfq.pass += STRD(sys.mlfq.tickets)
	} else if p.state == RUNNABLE {
		p.pass += STRD(p.tickets)
		sys.pushheap(p)
	} else if p.state == SLEEPING {
		// Charge the tick it consumed; wakeup1 reinserts it.
		p.pass += STRD(p.tickets)
	}
}

// STRD is the pass increment per tick for a given ticket count.
func STRD(tickets int) int {
	return STRIDE1 / tickets
}

// SetCPUShare reserves share tickets of guaranteed CPU time for the
// calling process, moving it from the MLFQ to the stride scheduler if
// it is not there already. Fails with EINVAL if the share is out of
// range or would leave the MLFQ below its reserved floor. Calling
// again reassigns the share; the old tickets count toward the budget.
func (p *Proc) SetCPUShare(share int) error {
	sys := p.sys

	if share < 1 || share > 100-RESERVE {
		return EINVAL
	}

	sys.lock.acquire(p.cpu)
	remain := sys.mlfq.tickets
	if p.class == STRIDE {
		remain += p.tickets
	}
	if remain-share < RESERVE {
		sys.lock.release(p.cpu)
		return EINVAL
	}

	if p.class == MLFQ {
		sys.dequeue(p)
		// Join at the current virtual time frontier: no free credit,
		// no instant starvation.
		pass := sys.minpass()
		if sys.mlfq.pass < pass {
			pass = sys.mlfq.pass
		}
		p.pass = pass
		p.class = STRIDE
		// The caller is running, so it belongs on the run list, not
		// in the heap.
		sys.stride.run.add(&p.queue)
	}
	sys.mlfq.tickets = remain - share
	p.tickets = share
	sys.lock.release(p.cpu)

	return nil
}
