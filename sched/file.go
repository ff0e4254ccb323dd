// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

/*
 * Refcounted stubs for the file and inode subsystems, which are
 * external to the scheduler. The scheduler touches them only through
 * dup on fork and close on exit; Open and Close exist so workloads
 * can give those paths something to do.
 */

// A File is an open file table entry.
type File struct {
	count int
	name  string
}

// An inode is an in-core inode.
type inode struct {
	count int
	path  string
}

func (sys *System) filedup(f *File) *File {
	sys.fsys.Lock()
	f.count++
	sys.fsys.Unlock()
	return f
}

func (sys *System) fileclose(f *File) {
	sys.fsys.Lock()
	f.count--
	if f.count < 0 {
		panic("fileclose")
	}
	sys.fsys.Unlock()
}

// namei resolves a path to its inode, creating the in-core entry on
// first use. The reference is the caller's to put.
func (sys *System) namei(path string) *inode {
	sys.fsys.Lock()
	ip := sys.inodes[path]
	if ip == nil {
		ip = &inode{path: path}
		sys.inodes[path] = ip
	}
	ip.count++
	sys.fsys.Unlock()
	return ip
}

func (sys *System) idup(ip *inode) *inode {
	if ip == nil {
		return nil
	}
	sys.fsys.Lock()
	ip.count++
	sys.fsys.Unlock()
	return ip
}

func (sys *System) iput(ip *inode) {
	if ip == nil {
		return
	}
	sys.fsys.Lock()
	ip.count--
	if ip.count < 0 {
		panic("iput")
	}
	sys.fsys.Unlock()
}

// Open gives the process an open file on name and returns the fd.
func (p *Proc) Open(name string) (int, error) {
	for fd, f := range p.files {
		if f == nil {
			p.files[fd] = &File{count: 1, name: name}
			return fd, nil
		}
	}
	return 0, EMFILE
}

// Close releases the fd.
func (p *Proc) Close(fd int) error {
	if fd < 0 || fd >= NOFILE || p.files[fd] == nil {
		return EBADF
	}
	p.sys.fileclose(p.files[fd])
	p.files[fd] = nil
	return nil
}
