// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/tools/txtar"
)

/*
 * Workloads: a txtar archive of named programs in a little script
 * language, one program per archive file, "#" to end of line for
 * comments. The archive comment describes the workload.
 *
 * Statements:
 *
 *	run N        burn N ticks of CPU
 *	fork NAME    create a child running program NAME
 *	wait         reap one child
 *	sleep N      sleep N ticks of the global clock
 *	yield        give up the CPU for one round
 *	share N      reserve N tickets with the stride scheduler
 *	grow N       grow the address space by N pages
 *	open NAME    open a file
 *	kill NAME    kill the first live process named NAME
 *	exit         exit now
 *	loop N ... end    repeat the enclosed statements N times
 *
 * The program named "init" is the first process.
 */
type Workload struct {
	Comment string
	progs   map[string][]op
}

type opKind int8

const (
	opRun opKind = iota
	opFork
	opWait
	opSleep
	opYield
	opShare
	opGrow
	opOpen
	opKill
	opExit
	opLoop
)

type op struct {
	kind opKind
	n    int
	name string
	body []op
}

// ParseWorkload parses a txtar workload archive.
func ParseWorkload(data []byte) (*Workload, error) {
	ar := txtar.Parse(data)
	w := &Workload{
		Comment: strings.TrimSpace(string(ar.Comment)),
		progs:   make(map[string][]op),
	}
	for _, f := range ar.Files {
		ops, err := parseProgram(f.Name, string(f.Data))
		if err != nil {
			return nil, err
		}
		w.progs[f.Name] = ops
	}
	for name, ops := range w.progs {
		if err := w.checkRefs(name, ops); err != nil {
			return nil, err
		}
	}
	if _, ok := w.progs["init"]; !ok {
		return nil, fmt.Errorf("workload: no init program")
	}
	return w, nil
}

func (w *Workload) checkRefs(name string, ops []op) error {
	for _, o := range ops {
		if o.kind == opFork {
			if _, ok := w.progs[o.name]; !ok {
				return fmt.Errorf("workload: %s forks unknown program %q", name, o.name)
			}
		}
		if o.kind == opLoop {
			if err := w.checkRefs(name, o.body); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseProgram(name, text string) ([]op, error) {
	type frame struct {
		n   int
		ops []op
	}
	var stk []frame
	var ops []op

	emit := func(o op) {
		if len(stk) > 0 {
			stk[len(stk)-1].ops = append(stk[len(stk)-1].ops, o)
		} else {
			ops = append(ops, o)
		}
	}

	for lno, line := range strings.Split(text, "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}

		bad := func(format string, args ...any) error {
			return fmt.Errorf("workload: %s:%d: %s", name, lno+1, fmt.Sprintf(format, args...))
		}
		num := func() (int, error) {
			if len(f) != 2 {
				return 0, bad("%s needs a count", f[0])
			}
			n, err := strconv.Atoi(f[1])
			if err != nil || n < 0 {
				return 0, bad("bad count %q", f[1])
			}
			return n, nil
		}
		str := func() (string, error) {
			if len(f) != 2 {
				return "", bad("%s needs a name", f[0])
			}
			return f[1], nil
		}

		switch f[0] {
		case "run", "sleep", "share", "grow":
			n, err := num()
			if err != nil {
				return nil, err
			}
			kinds := map[string]opKind{"run": opRun, "sleep": opSleep, "share": opShare, "grow": opGrow}
			emit(op{kind: kinds[f[0]], n: n})
		case "fork", "open", "kill":
			s, err := str()
			if err != nil {
				return nil, err
			}
			kinds := map[string]opKind{"fork": opFork, "open": opOpen, "kill": opKill}
			emit(op{kind: kinds[f[0]], name: s})
		case "wait":
			emit(op{kind: opWait})
		case "yield":
			emit(op{kind: opYield})
		case "exit":
			emit(op{kind: opExit})
		case "loop":
			n, err := num()
			if err != nil {
				return nil, err
			}
			stk = append(stk, frame{n: n})
		case "end":
			if len(stk) == 0 {
				return nil, bad("end without loop")
			}
			fr := stk[len(stk)-1]
			stk = stk[:len(stk)-1]
			emit(op{kind: opLoop, n: fr.n, body: fr.ops})
		default:
			return nil, bad("unknown statement %q", f[0])
		}
	}
	if len(stk) > 0 {
		return nil, fmt.Errorf("workload: %s: loop without end", name)
	}
	return ops, nil
}

// Program returns the process body for the named program.
func (w *Workload) Program(name string) (Program, error) {
	ops, ok := w.progs[name]
	if !ok {
		return nil, fmt.Errorf("workload: no program %q", name)
	}
	return func(p *Proc) { w.exec(p, ops) }, nil
}

func (w *Workload) exec(p *Proc, ops []op) {
	for _, o := range ops {
		// The trap return path: a killed process exits instead of
		// going on.
		if p.Killed() {
			p.Exit()
		}
		switch o.kind {
		case opRun:
			p.Run(o.n)
		case opFork:
			body, err := w.Program(o.name)
			if err != nil {
				panic("workload: " + err.Error())
			}
			p.Fork(o.name, body)
		case opWait:
			p.Wait()
		case opSleep:
			p.SleepTicks(o.n)
		case opYield:
			p.Yield()
		case opShare:
			p.SetCPUShare(o.n)
		case opGrow:
			p.Grow(o.n)
		case opOpen:
			p.Open(o.name)
		case opKill:
			if pid, err := p.sys.Lookup(o.name); err == nil {
				p.Kill(pid)
			}
		case opExit:
			p.Exit()
		case opLoop:
			for i := 0; i < o.n; i++ {
				w.exec(p, o.body)
			}
		}
	}
}
