// Package client is the user/control library of spec §1: a thin wrapper
// over a single Unix-domain-socket connection to normsd, speaking the
// length-prefixed internal/wire protocol (spec §6 "Both libraries (user and
// control) target the same socket in this design").
/*
 * Copyright (c) 2024, NGIOproject.
 */
package client

import (
	"net"
	"sync"
	"time"

	"github.com/NGIOproject/norns-go/internal/cos"
	"github.com/NGIOproject/norns-go/internal/wire"
)

// Client serializes every request over one connection; the daemon serves
// each connection on its own goroutine, so a caller that wants concurrent
// requests opens several Clients.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, cos.NewError(cos.ConnFailed, err.Error())
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) call(req *wire.Request) (*wire.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := wire.WriteRequest(c.conn, req); err != nil {
		return nil, cos.NewError(cos.RpcSendFailed, err.Error())
	}
	resp, err := wire.ReadResponse(c.conn)
	if err != nil {
		return nil, cos.NewError(cos.RpcRecvFailed, err.Error())
	}
	return resp, nil
}

// asError turns a response's ErrorCode into a Go error, or nil on Success.
func asError(code uint8) error {
	if cos.ErrCode(code) == cos.Success {
		return nil
	}
	return cos.NewError(cos.ErrCode(code), "")
}

func (c *Client) Ping() error {
	resp, err := c.call(&wire.Request{Kind: wire.KindPing})
	if err != nil {
		return err
	}
	return asError(resp.ErrorCode)
}

// ResourceSpec is the client-facing, friendlier mirror of wire.ResourceInfo.
type ResourceSpec struct {
	Kind         resourceKind
	Nsid         string
	Name         string
	Address      uint64
	Size         uint64
	PeerHost     string
	PeerPort     int32
	BufID        string
	BufSize      int64
	IsCollection bool
}

// resourceKind mirrors resource.Kind without importing internal/resource,
// keeping this package usable by an out-of-tree caller that only depends on
// the wire protocol's public surface.
type resourceKind = uint8

const (
	ResourceKindMemoryRegion resourceKind = 1
	ResourceKindLocalPath    resourceKind = 2
	ResourceKindRemote       resourceKind = 3
)

func (rs ResourceSpec) toWire() wire.ResourceInfo {
	return wire.ResourceInfo{
		Kind: rs.Kind, Nsid: rs.Nsid, Name: rs.Name,
		Address: rs.Address, Size: rs.Size,
		PeerHost: rs.PeerHost, PeerPort: rs.PeerPort,
		BufID: rs.BufID, BufSize: rs.BufSize,
		IsCollection: rs.IsCollection,
	}
}

// TaskKind mirrors task.Kind's wire encoding (Copy=1, Move=2, Remove=3 —
// Unknown=0, RemoteTransfer/Noop are daemon-internal and never submitted).
type TaskKind = uint8

const (
	TaskKindCopy   TaskKind = 1
	TaskKindMove   TaskKind = 2
	TaskKindRemove TaskKind = 3
)

// Submit implements IoTaskSubmit (spec §4.8's local-initiated path).
func (c *Client) Submit(cred wire.Credentials, kind TaskKind, src ResourceSpec, dst *ResourceSpec) (taskID uint64, err error) {
	req := &wire.Request{
		Kind: wire.KindIoTaskSubmit, Cred: cred, TaskKind: kind, Src: src.toWire(),
	}
	if dst != nil {
		req.Dst = dst.toWire()
		req.HasDst = true
	}
	resp, err := c.call(req)
	if err != nil {
		return 0, err
	}
	if err := asError(resp.ErrorCode); err != nil {
		return 0, err
	}
	return resp.TaskID, nil
}

// TaskStatus is the IoTaskStatus result (spec §3 task_stats, flattened with status).
type TaskStatus struct {
	Status    uint8
	TaskError string
	SysErrnum int32
}

func (s TaskStatus) IsTerminal() bool {
	return s.Status == statusFinished || s.Status == statusFinishedWithError
}

// Mirrors internal/task.Status's wire encoding without importing internal/task.
const (
	statusPending = iota
	statusRunning
	statusFinished
	statusFinishedWithError
)

func (c *Client) Status(taskID uint64) (TaskStatus, error) {
	resp, err := c.call(&wire.Request{Kind: wire.KindIoTaskStatus, TaskID: taskID})
	if err != nil {
		return TaskStatus{}, err
	}
	if err := asError(resp.ErrorCode); err != nil {
		return TaskStatus{}, err
	}
	return TaskStatus{Status: resp.Status, TaskError: resp.TaskError, SysErrnum: resp.SysErrnum}, nil
}

// ErrTimeout is returned by Wait when timeout elapses before the task
// reaches a terminal status (spec §5 "returns timeout").
var ErrTimeout = cos.NewError(cos.Timeout, "")

// Wait implements spec §5's wait(task, timeout): with a nil timeout it
// polls every 250µs indefinitely; otherwise it sleeps once for the full
// timeout and returns ErrTimeout if the task still isn't terminal — an
// interrupted sleep (Go's time.Sleep cannot be interrupted by a signal the
// way a libc nanosleep can) is modeled as "retry with remaining time" by
// recomputing the time left until the deadline after each sleep.
func (c *Client) Wait(taskID uint64, timeout *time.Duration) (TaskStatus, error) {
	if timeout == nil {
		for {
			st, err := c.Status(taskID)
			if err != nil {
				return st, err
			}
			if st.IsTerminal() {
				return st, nil
			}
			time.Sleep(250 * time.Microsecond)
		}
	}

	deadline := time.Now().Add(*timeout)
	for remaining := time.Until(deadline); remaining > 0; remaining = time.Until(deadline) {
		time.Sleep(remaining)
	}
	st, err := c.Status(taskID)
	if err != nil {
		return st, err
	}
	if !st.IsTerminal() {
		return st, ErrTimeout
	}
	return st, nil
}

// Command implements CtlCommand (spec §4.9).
func (c *Client) Command(cmd wire.CtlCmd) error {
	resp, err := c.call(&wire.Request{Kind: wire.KindCtlCommand, Ctl: cmd})
	if err != nil {
		return err
	}
	return asError(resp.ErrorCode)
}

// GlobalStatus implements CtlGlobalStatus (spec §3 GlobalStats).
type GlobalStatus struct {
	Running uint32
	Pending uint32
	ETA     float64
}

func (c *Client) GlobalStatus() (GlobalStatus, error) {
	resp, err := c.call(&wire.Request{Kind: wire.KindCtlGlobalStatus})
	if err != nil {
		return GlobalStatus{}, err
	}
	if err := asError(resp.ErrorCode); err != nil {
		return GlobalStatus{}, err
	}
	return GlobalStatus{Running: resp.Running, Pending: resp.Pending, ETA: resp.ETA}, nil
}

// RegisterNamespace implements NamespaceRegister (spec §4.2).
func (c *Client) RegisterNamespace(nsid string, backendKind uint8, mount string, quota uint64) error {
	resp, err := c.call(&wire.Request{
		Kind: wire.KindNamespaceRegister, Nsid: nsid, BackendKind: backendKind, Mount: mount, Quota: quota,
	})
	if err != nil {
		return err
	}
	return asError(resp.ErrorCode)
}

func (c *Client) UnregisterNamespace(nsid string) error {
	resp, err := c.call(&wire.Request{Kind: wire.KindNamespaceUnregister, Nsid: nsid})
	if err != nil {
		return err
	}
	return asError(resp.ErrorCode)
}

// RegisterJob implements JobRegister (spec §4.3).
func (c *Client) RegisterJob(jobID uint32, hosts []string, limits []wire.Limit) error {
	resp, err := c.call(&wire.Request{Kind: wire.KindJobRegister, JobID: jobID, Hosts: hosts, Limits: limits})
	if err != nil {
		return err
	}
	return asError(resp.ErrorCode)
}

func (c *Client) UnregisterJob(jobID uint32) error {
	resp, err := c.call(&wire.Request{Kind: wire.KindJobUnregister, JobID: jobID})
	if err != nil {
		return err
	}
	return asError(resp.ErrorCode)
}

func (c *Client) AddProcess(jobID uint32, cred wire.Credentials) error {
	resp, err := c.call(&wire.Request{Kind: wire.KindProcessAdd, JobID: jobID, Cred: cred})
	if err != nil {
		return err
	}
	return asError(resp.ErrorCode)
}

func (c *Client) RemoveProcess(jobID uint32, cred wire.Credentials) error {
	resp, err := c.call(&wire.Request{Kind: wire.KindProcessRemove, JobID: jobID, Cred: cred})
	if err != nil {
		return err
	}
	return asError(resp.ErrorCode)
}
