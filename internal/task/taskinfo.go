// Package task implements spec §4.8, the task manager: TaskInfo bookkeeping,
// creation, dispatch onto the worker pool, bandwidth/ETA accounting, and the
// bounded finished-task retention store.
/*
 * Copyright (c) 2024, NGIOproject.
 */
package task

import (
	"sync"
	"time"

	"github.com/NGIOproject/norns-go/internal/cos"
	"github.com/NGIOproject/norns-go/internal/resource"
)

// Kind is the tagged TaskKind of spec §3.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindCopy
	KindMove
	KindRemove
	KindRemoteTransfer
	KindNoop
)

func (k Kind) String() string {
	switch k {
	case KindCopy:
		return "copy"
	case KindMove:
		return "move"
	case KindRemove:
		return "remove"
	case KindRemoteTransfer:
		return "remote-transfer"
	case KindNoop:
		return "noop"
	default:
		return "unknown"
	}
}

// Status is the tagged TaskStatus of spec §3; transitions form the DAG
// Pending → Running → {Finished, FinishedWithError} (invariant 3).
type Status uint8

const (
	StatusPending Status = iota
	StatusRunning
	StatusFinished
	StatusFinishedWithError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusFinished:
		return "finished"
	case StatusFinishedWithError:
		return "finished-with-error"
	default:
		return "unknown"
	}
}

// ErrCode maps a terminal Status onto the wire error taxonomy (spec §6).
func (s Status) ErrCode() cos.ErrCode {
	switch s {
	case StatusPending:
		return cos.TaskPending
	case StatusRunning:
		return cos.TaskInProgress
	case StatusFinished:
		return cos.TaskFinished
	case StatusFinishedWithError:
		return cos.TaskFinishedWithError
	default:
		return cos.Snafu
	}
}

// Credentials identifies the submitting process (spec §3 TaskInfo.credentials).
type Credentials struct {
	UID uint32
	GID uint32
	PID uint32
}

// Context is the opaque, move-only handle an in-flight RPC continuation
// stores on TaskInfo while a peer operation is outstanding (spec §9 "Opaque
// RPC continuation context"). It is owned exclusively by the active
// transferor until its callback fires; Release clears it, which happens on
// both the success path (after promoting results into TaskInfo) and on
// rollback.
type Context struct {
	mu   sync.Mutex
	data any
}

func (c *Context) Store(v any) {
	c.mu.Lock()
	c.data = v
	c.mu.Unlock()
}

func (c *Context) Load() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

func (c *Context) Release() {
	c.mu.Lock()
	c.data = nil
	c.mu.Unlock()
}

// Stats is the point-in-time snapshot spec §3 calls task_stats.
type Stats struct {
	TotalBytes   uint64
	PendingBytes uint64
	TaskError    string
	SysError     int32
}

// Info is TaskInfo (spec §3): the per-task shared state held by both the
// running closure and its completion epilog (spec §9 "Per-task shared state
// with callbacks") behind an internal reader-writer lock — never moved
// between goroutines, only referenced by pointer.
type Info struct {
	ID                uint64
	Kind              Kind
	IsRemoteInitiated bool
	Cred              Credentials

	SrcBackend resource.Backend
	SrcInfo    resource.Info
	DstBackend resource.Backend
	DstInfo    resource.Info

	Ctx Context

	SrcNsid string
	DstNsid string

	// elapsed is written once by the running closure right before Finish
	// and read by the completion epilog that follows it on the same
	// worker goroutine (spec §4.5's happens-before guarantee) — never
	// touched concurrently, so it needs no lock of its own.
	elapsed time.Duration

	mu         sync.RWMutex
	status     Status
	taskError  string
	sysError   int32
	totalBytes uint64
	sentBytes  uint64
	bandwidth  float64 // MiB/s, valid only once terminal
}

func New(id uint64, kind Kind, remote bool, cred Credentials, totalBytes uint64) *Info {
	return &Info{
		ID:                id,
		Kind:              kind,
		IsRemoteInitiated: remote,
		Cred:              cred,
		status:            StatusPending,
		totalBytes:        totalBytes,
	}
}

func (t *Info) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// SetRunning flips Pending → Running. Invariant 3 forbids any other
// transition into Running; callers (the worker goroutine on closure entry)
// are trusted to call this exactly once.
func (t *Info) SetRunning() {
	t.mu.Lock()
	t.status = StatusRunning
	t.mu.Unlock()
}

// Finish marks the task terminal. sysErr == 0 means clean success.
func (t *Info) Finish(taskErr string, sysErr int32) {
	t.mu.Lock()
	if taskErr == "" && sysErr == 0 {
		t.status = StatusFinished
	} else {
		t.status = StatusFinishedWithError
	}
	t.taskError = taskErr
	t.sysError = sysErr
	t.mu.Unlock()
}

// AddSent records progress; invariant 4 (sent_bytes ≤ total_bytes) is
// enforced by clamping rather than by asserting, since total_bytes may be a
// conservative estimate for directory packing.
func (t *Info) AddSent(n uint64) {
	t.mu.Lock()
	t.sentBytes += n
	if t.totalBytes != 0 && t.sentBytes > t.totalBytes {
		t.sentBytes = t.totalBytes
	}
	t.mu.Unlock()
}

func (t *Info) SetBandwidth(mibPerSec float64) {
	t.mu.Lock()
	t.bandwidth = mibPerSec
	t.mu.Unlock()
}

func (t *Info) Bandwidth() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bandwidth
}

func (t *Info) Snapshot() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pending := uint64(0)
	if t.totalBytes > t.sentBytes {
		pending = t.totalBytes - t.sentBytes
	}
	return Stats{
		TotalBytes:   t.totalBytes,
		PendingBytes: pending,
		TaskError:    t.taskError,
		SysError:     t.sysError,
	}
}
