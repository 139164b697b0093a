// Package rdma implements the RDMA-capable RPC layer spec §1 treats as an
// external collaborator with the contract: "lookup(addr) → endpoint,
// expose(buffers, mode) → handle, post<RPC>(endp, in) → future<out>,
// async_push/pull(local, remote, req, cb), respond(req, out)". This is a
// concrete, loopback-capable realization of its buffer half: buffers are
// memory-mapped files exposed, looked up and released by handle, plus
// Preallocate and CrossProcessRead helpers. Endpoint lookup and the RPCs
// themselves are not here; internal/peer carries those over HTTP.
/*
 * Copyright (c) 2024, NGIOproject.
 */
package rdma

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/NGIOproject/norns-go/internal/cos"
	"github.com/NGIOproject/norns-go/internal/resource"
)

// Mode is the access mode an exposed buffer is registered under.
type Mode uint8

const (
	ReadOnly Mode = iota
	WriteOnly
	ReadWrite
)

// Buffer is a memory-mapped view over a backing file, exposed to the engine
// under a handle that can be named on the wire (resource.ExposedMemoryHandle).
type Buffer struct {
	Handle resource.ExposedMemoryHandle
	file   *os.File
	data   []byte
	mode   Mode
}

// Bytes returns the mapped region.
func (b *Buffer) Bytes() []byte { return b.data }

// Close unmaps and closes the backing file. Safe to call multiple times.
func (b *Buffer) Close() error {
	if b.data != nil {
		err := unix.Munmap(b.data)
		b.data = nil
		if err != nil {
			return err
		}
	}
	if b.file != nil {
		err := b.file.Close()
		b.file = nil
		return err
	}
	return nil
}

// Engine exposes, looks up, and moves buffers. A single Engine is shared by
// every transferor in a daemon instance.
type Engine struct {
	mu      sync.Mutex
	exposed map[string]*Buffer
}

func New() *Engine {
	return &Engine{exposed: make(map[string]*Buffer)}
}

// Expose memory-maps the existing file at path and registers it under a
// fresh handle. A positive size is first applied with Preallocate (which
// needs a writable mode); size 0 maps the file at its current length. A
// missing file is not created.
func (e *Engine) Expose(path string, size int64, mode Mode) (*Buffer, error) {
	flags := os.O_RDONLY
	if mode != ReadOnly {
		flags = os.O_RDWR
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, cos.NewError(cos.Snafu, err.Error())
	}
	if size > 0 {
		if err := Preallocate(f, size); err != nil {
			f.Close()
			return nil, cos.NewError(cos.Snafu, err.Error())
		}
	} else {
		fi, statErr := f.Stat()
		if statErr != nil {
			f.Close()
			return nil, cos.NewError(cos.Snafu, statErr.Error())
		}
		size = fi.Size()
	}
	prot := unix.PROT_READ
	if mode != ReadOnly {
		prot |= unix.PROT_WRITE
	}
	var data []byte
	if size > 0 {
		data, err = unix.Mmap(int(f.Fd()), 0, int(size), prot, unix.MAP_SHARED)
		if err != nil {
			f.Close()
			return nil, cos.NewError(cos.Snafu, err.Error())
		}
	}
	buf := &Buffer{
		Handle: resource.ExposedMemoryHandle{ID: cos.GenUUID(), Size: size},
		file:   f,
		data:   data,
		mode:   mode,
	}
	e.mu.Lock()
	e.exposed[buf.Handle.ID] = buf
	e.mu.Unlock()
	return buf, nil
}

// Lookup resolves a previously exposed handle back to its buffer, for the
// local side of a push/pull that already holds the handle.
func (e *Engine) Lookup(h resource.ExposedMemoryHandle) (*Buffer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.exposed[h.ID]
	return b, ok
}

// Release unregisters and closes a previously exposed buffer.
func (e *Engine) Release(h resource.ExposedMemoryHandle) error {
	e.mu.Lock()
	b, ok := e.exposed[h.ID]
	delete(e.exposed, h.ID)
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return b.Close()
}

// Preallocate grows f to size using fallocate, falling back to ftruncate
// when the filesystem does not support it (spec §4.7.1: "preferred-then-
// fallback fallocate/ftruncate").
func Preallocate(f *os.File, size int64) error {
	if err := unix.Fallocate(int(f.Fd()), 0, 0, size); err != nil {
		return f.Truncate(size)
	}
	return nil
}

// CrossProcessRead reads size bytes at address from the address space of
// pid into dst, using process_vm_readv. This is the mechanism spec §4.7.2
// calls "a cross-process read from the owner's pid".
func CrossProcessRead(pid int, address uint64, dst []byte) error {
	iov := unix.Iovec{Base: &dst[0]}
	iov.SetLen(len(dst))
	local := []unix.Iovec{iov}
	remote := []unix.RemoteIovec{{Base: uintptr(address), Len: len(dst)}}
	n, err := unix.ProcessVMReadv(pid, local, remote, 0)
	if err != nil {
		return cos.NewError(cos.Snafu, fmt.Sprintf("process_vm_readv: %v", err))
	}
	if n != len(dst) {
		return cos.NewError(cos.Snafu, "process_vm_readv: partial read")
	}
	return nil
}
