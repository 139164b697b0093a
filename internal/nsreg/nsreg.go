// Package nsreg implements the namespace registry (spec §4.2): a
// concurrent-read, exclusive-write map from nsid to Backend.
/*
 * Copyright (c) 2024, NGIOproject.
 */
package nsreg

import (
	"sync"

	"github.com/NGIOproject/norns-go/internal/cos"
	"github.com/NGIOproject/norns-go/internal/nlog"
	"github.com/NGIOproject/norns-go/internal/resource"
)

// InUseChecker lets the registry ask the task manager whether a namespace is
// still referenced by a live task before honoring Unregister (spec §4.2).
// The task manager implements this; nsreg only depends on the narrow slice
// of its interface it actually needs (avoids an import cycle).
type InUseChecker interface {
	NamespaceInUse(nsid string) bool
}

type Registry struct {
	mu    sync.RWMutex
	byID  map[string]resource.Backend
	inUse InUseChecker
}

func New() *Registry {
	return &Registry{byID: make(map[string]resource.Backend)}
}

// SetInUseChecker wires the task manager in after construction, breaking the
// natural cyclic dependency (task manager also needs to look up namespaces).
func (r *Registry) SetInUseChecker(c InUseChecker) { r.inUse = c }

func (r *Registry) Register(nsid string, b resource.Backend) error {
	if nsid == "" {
		return cos.NewError(cos.BadArgs, "nsid must be non-empty")
	}
	if b == nil {
		return cos.NewError(cos.BadArgs, "backend must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[nsid]; exists {
		return cos.NewError(cos.NamespaceExists, nsid)
	}
	r.byID[nsid] = b
	nlog.Infof("namespace registered: %s (%s)", nsid, b.String())
	return nil
}

// Update is reserved: the original implementation validates internally and
// then always returns not-supported (spec Design Notes "Open question").
// norns-go treats that as intentional rather than a partial implementation.
func (r *Registry) Update(nsid string, _ resource.Backend) error {
	r.mu.RLock()
	_, exists := r.byID[nsid]
	r.mu.RUnlock()
	if !exists {
		return cos.NewError(cos.NoSuchNamespace, nsid)
	}
	return cos.NewError(cos.NotSupported, "namespace update is not supported")
}

func (r *Registry) Unregister(nsid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[nsid]; !exists {
		return cos.NewError(cos.NoSuchNamespace, nsid)
	}
	if r.inUse != nil && r.inUse.NamespaceInUse(nsid) {
		return cos.NewError(cos.BadArgs, "namespace has live tasks referencing it")
	}
	delete(r.byID, nsid)
	nlog.Infof("namespace unregistered: %s", nsid)
	return nil
}

func (r *Registry) Lookup(nsid string) (resource.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, exists := r.byID[nsid]
	if !exists {
		return nil, cos.NewError(cos.NoSuchNamespace, nsid)
	}
	return b, nil
}
