// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

/*
 * tunable variables
 */
const (
	NPROC  = 64   /* max number of processes */
	NCPU   = 8    /* max number of simulated CPUs */
	NOFILE = 16   /* max open files per process */
	NPAGE  = 1024 /* pages in the physical page pool */

	QSIZE         = 3   /* MLFQ priority levels; 0 is highest */
	BOOSTINTERVAL = 100 /* global ticks between priority boosts */

	RESERVE = 20 /* ticket share the MLFQ always keeps */

	STRIDE1 = 10000 /* stride numerator; stride = STRIDE1/tickets */
)

const (
	MAXINT  = int(^uint32(0) >> 1) /* pass values stay in 32-bit range */
	BARRIER = MAXINT / 2           /* renormalize passes past this */
)

// TQ is the time quantum at an MLFQ level: the number of ticks a
// process runs before the level's pin rotates past it.
func TQ(level int) int {
	return 1 << level
}

// TA is the time allotment at an MLFQ level: the total ticks a process
// may consume there before it is demoted.
func TA(level int) int {
	return 5 * TQ(level)
}
