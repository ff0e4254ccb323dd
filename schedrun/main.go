// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Schedrun runs a scheduler workload archive.
//
// Usage:
//
//	schedrun [-ncpu N] [-trace] workload.txtar
//
// The workload format is described in package sched. While the
// workload runs, ^P prints a process listing and ^\ halts the system.
// At exit schedrun prints the process accounting records and a tick
// summary.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime/pprof"

	"github.com/montanaflynn/stats"
	"golang.org/x/term"

	"x6sched/sched"
)

var (
	ncpu       = flag.Int("ncpu", 1, "number of simulated CPUs")
	trace      = flag.Bool("trace", false, "trace every dispatch")
	cpuprofile = flag.String("cpuprofile", "", "write cpuprofile to `file`")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: schedrun [-ncpu N] [-trace] workload.txtar\n")
	os.Exit(2)
}

func main() {
	log.SetPrefix("schedrun: ")
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal(err)
		}
		defer pprof.StopCPUProfile()
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	w, err := sched.ParseWorkload(data)
	if err != nil {
		log.Fatal(err)
	}

	sys := sched.NewSystem(os.Stdout)
	sys.Trace = *trace

	initprog, err := w.Program("init")
	if err != nil {
		log.Fatal(err)
	}
	if _, err := sys.Start("init", initprog); err != nil {
		log.Fatal(err)
	}

	fixup := func() {}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			log.Fatal(err)
		}
		fixup = func() { term.Restore(int(os.Stdin.Fd()), oldState) }
		go func() {
			buf := make([]byte, 100)
			for {
				n, err := os.Stdin.Read(buf)
				for _, c := range buf[:n] {
					switch c {
					case 0x10: // ^P
						sys.Procdump()
					case 0x1c: // ^\
						sys.Halt()
						return
					}
				}
				if err == io.EOF {
					return
				}
				if err != nil {
					log.Fatalf("reading stdin: %v", err)
				}
			}
		}()
	}

	sys.Boot(*ncpu)
	sys.Wait()
	fixup()

	acct := sys.Accounting()
	if len(acct) == 0 {
		return
	}
	var utimes []float64
	for _, a := range acct {
		fmt.Printf("%6d %-12s %6d ticks\n", a.Pid, a.Name, a.UTime)
		utimes = append(utimes, float64(a.UTime))
	}
	mean, _ := stats.Mean(utimes)
	median, _ := stats.Percentile(utimes, 50)
	max, _ := stats.Max(utimes)
	fmt.Printf("%d procs, ticks mean %.1f median %.1f max %.0f\n", len(acct), mean, median, max)
}
