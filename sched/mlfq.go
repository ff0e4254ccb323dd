// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

/*
 * The multi-level feedback queue: QSIZE FIFO queues, level 0 highest,
 * each with a rotation pin marking where the next selection starts.
 * The pin is what rotates RUNNABLE processes fairly within a level
 * while skipping processes that are linked here but not runnable.
 *
 * Processes in an MLFQ queue are RUNNING or RUNNABLE. A process leaves
 * its queue only on sleep, exit, demotion, or conversion to stride.
 */
type mlfq struct {
	queue   [QSIZE]node
	pin     [QSIZE]*node
	ticks   int /* global tick counter, drives the boost */
	tickets int /* share not reserved by any stride process */
	pass    int /* the MLFQ aggregate's virtual time */
}

// enqueue pushes a process onto the tail of an MLFQ level.
func (sys *System) enqueue(level int, p *Proc) {
	sys.mlfq.queue[level].addTail(&p.queue)
}

// dequeue removes a process from its level. If the level's pin is on
// the process, the pin moves to the next node so rotation survives the
// removal.
func (sys *System) dequeue(p *Proc) {
	ppin := &sys.mlfq.pin[p.privlevel]
	if *ppin == &p.queue {
		*ppin = p.queue.next
	}
	p.queue.del()
}

// concatqueue splices all of level src onto the tail of level dst,
// preserving order. It is the only way a process moves upward, and is
// called only by the priority boost. If dst was empty, its pin adopts
// src's pin so the cursor keeps its position among the moved nodes;
// src's pin returns to its own now-empty head.
func (sys *System) concatqueue(src, dst int) {
	srcq := &sys.mlfq.queue[src]
	dstq := &sys.mlfq.queue[dst]
	spin := &sys.mlfq.pin[src]
	dpin := &sys.mlfq.pin[dst]

	if dstq.empty() && *spin != srcq {
		*dpin = *spin
	}
	*spin = srcq

	srcq.moveAllTail(dstq)
}

// mlfqselect returns the next runnable MLFQ process: at the highest
// level with one, the first RUNNABLE process at or after the pin,
// wrapping around. The pin stays on the returned process until its
// quantum expires. Returns nil if no MLFQ process is runnable.
func (sys *System) mlfqselect() *Proc {
	for l := 0; l < QSIZE; l++ {
		q := &sys.mlfq.queue[l]
		ppin := &sys.mlfq.pin[l]
		itr := *ppin
		for {
			if itr != q {
				p := itr.proc
				if p.state == RUNNABLE {
					*ppin = itr
					return p
				}
			}
			itr = itr.next
			if itr == *ppin {
				break
			}
		}
	}
	return nil
}

// mlfqlogic charges the process that just ran one tick and applies the
// queue discipline: demotion when the allotment is used up, pin
// rotation when the quantum is, and the periodic priority boost.
// Called with the process table lock held, only for MLFQ processes.
func (sys *System) mlfqlogic(p *Proc) {
	baselevel := QSIZE - 1

	sys.mlfq.ticks++
	switch p.state {
	case RUNNABLE:
		p.ticks++
		if p.privlevel < baselevel && p.ticks%TA(p.privlevel) == 0 {
			sys.dequeue(p)
			p.privlevel++
			sys.enqueue(p.privlevel, p)
			p.ticks = 0
		} else if p.ticks%TQ(p.privlevel) == 0 {
			sys.mlfq.pin[p.privlevel] = p.queue.next
		}
	case SLEEPING:
		if p.privlevel < baselevel && p.ticks >= TA(p.privlevel) {
			p.privlevel++
			p.ticks = 0
		} else {
			// Forget the partial quantum: a brief sleep must not
			// bank quantum credit.
			p.ticks = p.ticks / TQ(p.privlevel) * TQ(p.privlevel)
		}
	case ZOMBIE:
		// exit already dequeued it; nothing to account.
	default:
		panic("mlfq wrong state")
	}

	// Priority boost.
	if sys.mlfq.ticks%BOOSTINTERVAL == 0 {
		// RUNNABLE, RUNNING
		for l := 1; l <= baselevel; l++ {
			q := &sys.mlfq.queue[l]
			for itr := q.next; itr != q; itr = itr.next {
				itr.proc.privlevel = 0
				itr.proc.ticks = 0
			}
			sys.concatqueue(l, 0)
		}
		// SLEEPING: reset in place; they re-enter at level 0 on wake.
		q := &sys.sleep
		for itr := q.next; itr != q; itr = itr.next {
			itr.proc.privlevel = 0
			itr.proc.ticks = 0
		}
	}
}
