// Package jobreg implements the job registry (spec §3 Job, §4.3): a map
// from jobid to {hosts, quotas, processes}, with credential admission keyed
// on jobid presence.
/*
 * Copyright (c) 2024, NGIOproject.
 */
package jobreg

import (
	"sync"

	"github.com/NGIOproject/norns-go/internal/cos"
	"github.com/NGIOproject/norns-go/internal/nlog"
)

type Host string

type Limit struct {
	Nsid  string
	Quota uint32
}

type Credentials struct {
	UID uint32
	GID uint32
	PID uint32
}

type Job struct {
	ID        uint32
	Hosts     []Host
	Limits    []Limit
	processes map[Credentials]struct{}
	mu        sync.RWMutex
}

func (j *Job) Processes() []Credentials {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Credentials, 0, len(j.processes))
	for c := range j.processes {
		out = append(out, c)
	}
	return out
}

func (j *Job) hasProcess(c Credentials) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	_, ok := j.processes[c]
	return ok
}

type Registry struct {
	mu  sync.RWMutex
	byID map[uint32]*Job
}

func New() *Registry {
	return &Registry{byID: make(map[uint32]*Job)}
}

// Register admits a job. Hosts and limits must be non-empty (spec §3 Job
// invariant).
func (r *Registry) Register(id uint32, hosts []Host, limits []Limit) error {
	if len(hosts) == 0 || len(limits) == 0 {
		return cos.NewError(cos.BadArgs, "hosts and limits must be non-empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[id]; exists {
		return cos.NewError(cos.BadArgs, "job already registered")
	}
	r.byID[id] = &Job{ID: id, Hosts: hosts, Limits: limits, processes: make(map[Credentials]struct{})}
	nlog.Infof("job registered: %d (%d hosts, %d limits)", id, len(hosts), len(limits))
	return nil
}

// Update replaces hosts/limits for an existing job; both must again be
// non-empty (spec §3 Job invariant applies at registration AND update).
func (r *Registry) Update(id uint32, hosts []Host, limits []Limit) error {
	if len(hosts) == 0 || len(limits) == 0 {
		return cos.NewError(cos.BadArgs, "hosts and limits must be non-empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	j, exists := r.byID[id]
	if !exists {
		return cos.NewError(cos.NoSuchJob, "")
	}
	j.Hosts = hosts
	j.Limits = limits
	return nil
}

// Unregister removes a job even if processes remain attached (spec §4.3).
func (r *Registry) Unregister(id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[id]; !exists {
		return cos.NewError(cos.NoSuchJob, "")
	}
	delete(r.byID, id)
	nlog.Infof("job unregistered: %d", id)
	return nil
}

func (r *Registry) AddProcess(id uint32, c Credentials) error {
	r.mu.RLock()
	j, exists := r.byID[id]
	r.mu.RUnlock()
	if !exists {
		return cos.NewError(cos.NoSuchJob, "")
	}
	j.mu.Lock()
	j.processes[c] = struct{}{}
	j.mu.Unlock()
	return nil
}

func (r *Registry) RemoveProcess(id uint32, c Credentials) error {
	r.mu.RLock()
	j, exists := r.byID[id]
	r.mu.RUnlock()
	if !exists {
		return cos.NewError(cos.NoSuchJob, "")
	}
	j.mu.Lock()
	delete(j.processes, c)
	j.mu.Unlock()
	return nil
}

func (r *Registry) Lookup(id uint32) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, exists := r.byID[id]
	if !exists {
		return nil, cos.NewError(cos.NoSuchJob, "")
	}
	return j, nil
}

// Authorized reports whether the given credentials belong to a registered
// process of job id. Admission keys on jobid presence first, matching the
// spec §4.3 contract ("MUST key on jobid presence").
func (r *Registry) Authorized(id uint32, c Credentials) bool {
	j, err := r.Lookup(id)
	if err != nil {
		return false
	}
	return j.hasProcess(c)
}
