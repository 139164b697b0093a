// Package transfer implements spec §4.6/§4.7: the transferor registry (a
// (src_kind,dst_kind) dispatch table) and the five concrete strategies that
// move bytes for every supported combination.
/*
 * Copyright (c) 2024, NGIOproject.
 */
package transfer

import (
	"sync"

	"github.com/NGIOproject/norns-go/internal/resource"
	"github.com/NGIOproject/norns-go/internal/task"
)

// Transferor is the strategy interface spec §4.7 requires of every entry in
// the dispatch matrix.
type Transferor interface {
	// Validate reports whether src/dst are an acceptable pairing beyond
	// what kind dispatch already guarantees (e.g. a peer host for a remote
	// endpoint, a non-empty memory region).
	Validate(src, dst resource.Info) bool
	// Transfer moves the bytes described by ti, using the already-resolved
	// src/dst resources. It returns a human-readable task_error (empty on
	// success) and a sys_errnum (0 on success), matching TaskInfo's
	// terminal fields.
	Transfer(ti *task.Info, srcRes, dstRes resource.Resource) (taskError string, sysErrnum int32)
}

type key struct {
	src resource.Kind
	dst resource.Kind
}

// Registry is the (src_kind,dst_kind) → Transferor table of spec §4.6.
type Registry struct {
	mu      sync.RWMutex
	entries map[key]Transferor
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[key]Transferor)}
}

func (r *Registry) Register(src, dst resource.Kind, t Transferor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key{src, dst}] = t
}

// Lookup resolves a transferor for a locally-initiated task.
func (r *Registry) Lookup(src, dst resource.Kind) (Transferor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.entries[key{src, dst}]
	return t, ok
}

// LookupSwapped resolves a transferor for a remote-initiated task, which
// uses swapped (dst_kind, src_kind) order because the initiating side has
// already acted (spec §4.6): the table is keyed (src_kind,dst_kind), so a
// remote-initiated task with local kinds (srcKind,dstKind) looks up
// (dstKind,srcKind).
func (r *Registry) LookupSwapped(srcKind, dstKind resource.Kind) (Transferor, bool) {
	return r.Lookup(dstKind, srcKind)
}
