// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import "fmt"

// Errno is the scheduler-facing slice of the Unix error numbers.
// The zero Errno means no error.
type Errno int8

const (
	ESRCH  Errno = 3
	EINTR  Errno = 4
	EBADF  Errno = 9
	ECHILD Errno = 10
	EAGAIN Errno = 11
	ENOMEM Errno = 12
	EINVAL Errno = 22
	EMFILE Errno = 24
)

var enames = map[Errno]string{
	ESRCH:  "ESRCH",
	EINTR:  "EINTR",
	EBADF:  "EBADF",
	ECHILD: "ECHILD",
	EAGAIN: "EAGAIN",
	ENOMEM: "ENOMEM",
	EINVAL: "EINVAL",
	EMFILE: "EMFILE",
}

func (e Errno) Error() string {
	if name, ok := enames[e]; ok {
		return name
	}
	return fmt.Sprintf("errno %d", int(e))
}
