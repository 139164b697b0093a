// Package server implements the daemon side of spec §4.4's request/response
// protocol: a length-prefixed Unix-domain-socket listener that decodes each
// wire.Request, dispatches it against the namespace/job registries and the
// task manager, and encodes the matching wire.Response.
/*
 * Copyright (c) 2024, NGIOproject.
 */
package server

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"

	"github.com/NGIOproject/norns-go/internal/cos"
	"github.com/NGIOproject/norns-go/internal/ctl"
	"github.com/NGIOproject/norns-go/internal/jobreg"
	"github.com/NGIOproject/norns-go/internal/nlog"
	"github.com/NGIOproject/norns-go/internal/nsreg"
	"github.com/NGIOproject/norns-go/internal/resource"
	"github.com/NGIOproject/norns-go/internal/task"
	"github.com/NGIOproject/norns-go/internal/wire"
)

// Deps bundles the registries and managers a Server dispatches requests
// against. The wire protocol's namespace/job admin kinds are thin
// translations onto these; the task-engine kinds (IoTaskSubmit/Status,
// CtlCommand/GlobalStatus, Ping) are this package's real reason to exist.
type Deps struct {
	Nsreg  *nsreg.Registry
	Jobreg *jobreg.Registry
	Tasks  *task.Manager
	Ctl    *ctl.Controller
}

// Server accepts connections on a Unix-domain socket and serves the framed
// request/response protocol, one goroutine per connection (spec §4.4 draws
// no restriction on concurrent clients).
type Server struct {
	deps     Deps
	socket   string
	listener net.Listener
	wg       sync.WaitGroup
}

func New(deps Deps, socketPath string) *Server {
	return &Server{deps: deps, socket: socketPath}
}

// SetCtl wires the control surface in after construction: cmd/normsd builds
// the control surface from Server.Stop (its StopListener hook), which only
// exists once the Server itself does, so the two can't be constructed in a
// single step.
func (s *Server) SetCtl(c *ctl.Controller) { s.deps.Ctl = c }

// Listen binds the Unix-domain socket, removing a stale one left behind by a
// prior, uncleanly-terminated run.
func (s *Server) Listen() error {
	if _, err := os.Stat(s.socket); err == nil {
		if rmErr := os.Remove(s.socket); rmErr != nil {
			return rmErr
		}
	}
	ln, err := net.Listen("unix", s.socket)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Serve blocks accepting connections until Stop closes the listener.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Stop closes the listener, which unblocks Serve once in-flight connections
// finish their current request. It is the StopListener hook internal/ctl
// calls once CtlCommand(Shutdown) has confirmed the task manager is drained.
func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

// handleConn implements spec §6's framing contract: reads exactly one
// length-prefixed request at a time, tolerating short/interrupted reads
// (handled inside internal/wire), and closes the connection on the first
// protocol error without touching any in-flight task (spec §6 "Protocol
// errors on the control socket close the connection; they do not affect
// in-flight tasks").
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		req, err := wire.ReadRequest(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				nlog.Warningf("server: framing error, closing connection: %v", err)
			}
			return
		}
		resp := s.dispatch(req)
		if err := wire.WriteResponse(conn, resp); err != nil {
			nlog.Warningf("server: write response: %v", err)
			return
		}
	}
}

func (s *Server) dispatch(req *wire.Request) *wire.Response {
	switch req.Kind {
	case wire.KindPing:
		return s.handlePing()
	case wire.KindIoTaskSubmit:
		return s.handleSubmit(req)
	case wire.KindIoTaskStatus:
		return s.handleStatus(req)
	case wire.KindCtlCommand:
		return s.handleCtlCommand(req)
	case wire.KindCtlGlobalStatus:
		return s.handleGlobalStatus(req)
	case wire.KindJobRegister:
		return s.handleJobRegister(req)
	case wire.KindJobUpdate:
		return s.handleJobUpdate(req)
	case wire.KindJobUnregister:
		return s.handleJobUnregister(req)
	case wire.KindProcessAdd:
		return s.handleProcessAdd(req)
	case wire.KindProcessRemove:
		return s.handleProcessRemove(req)
	case wire.KindNamespaceRegister:
		return s.handleNamespaceRegister(req)
	case wire.KindNamespaceUpdate:
		return s.handleNamespaceUpdate(req)
	case wire.KindNamespaceUnregister:
		return s.handleNamespaceUnregister(req)
	default:
		return errResponse(req.Kind, cos.BadArgs)
	}
}

func errResponse(kind wire.Kind, code cos.ErrCode) *wire.Response {
	return &wire.Response{Kind: kind, ErrorCode: uint8(code)}
}

func (s *Server) handlePing() *wire.Response {
	_ = s.deps.Ctl.Ping()
	return &wire.Response{Kind: wire.KindPing, ErrorCode: uint8(cos.Success)}
}

func toResourceInfo(ri wire.ResourceInfo) resource.Info {
	return resource.Info{
		Kind:         resource.Kind(ri.Kind),
		Nsid:         ri.Nsid,
		Name:         ri.Name,
		Address:      ri.Address,
		Size:         ri.Size,
		Peer:         resource.NetAddr{Host: ri.PeerHost, Port: int(ri.PeerPort)},
		Buffers:      resource.ExposedMemoryHandle{ID: ri.BufID, Size: ri.BufSize},
		IsCollection: ri.IsCollection,
	}
}

// handleSubmit implements create_local_initiated_task (spec §4.8): resolve
// both backends (missing namespace is the first admission failure, spec
// §4.8 step 1), then hand the rest to the task manager.
func (s *Server) handleSubmit(req *wire.Request) *wire.Response {
	srcInfo := toResourceInfo(req.Src)
	srcBackend, err := s.deps.Nsreg.Lookup(srcInfo.Nsid)
	if err != nil {
		return errResponse(wire.KindIoTaskSubmit, cos.CodeOf(err))
	}

	var dstBackend resource.Backend
	var dstInfo resource.Info
	if req.HasDst {
		dstInfo = toResourceInfo(req.Dst)
		dstBackend, err = s.deps.Nsreg.Lookup(dstInfo.Nsid)
		if err != nil {
			return errResponse(wire.KindIoTaskSubmit, cos.CodeOf(err))
		}
	}

	ti, err := s.deps.Tasks.CreateTask(task.Submission{
		Kind:       task.Kind(req.TaskKind),
		Remote:     false,
		Cred:       task.Credentials(req.Cred),
		SrcBackend: srcBackend,
		SrcInfo:    srcInfo,
		DstBackend: dstBackend,
		DstInfo:    dstInfo,
		HasDst:     req.HasDst,
	})
	if err != nil {
		return errResponse(wire.KindIoTaskSubmit, cos.CodeOf(err))
	}
	return &wire.Response{Kind: wire.KindIoTaskSubmit, ErrorCode: uint8(cos.Success), TaskID: ti.ID}
}

// handleStatus implements IoTaskStatus: a terminal status carries the task's
// own error into the response rather than failing the RPC itself (spec §6
// "status queries return the task's terminal outcome").
func (s *Server) handleStatus(req *wire.Request) *wire.Response {
	ti, ok := s.deps.Tasks.Find(req.TaskID)
	if !ok {
		return errResponse(wire.KindIoTaskStatus, cos.BadArgs)
	}
	snap := ti.Snapshot()
	return &wire.Response{
		Kind:      wire.KindIoTaskStatus,
		ErrorCode: uint8(cos.Success),
		TaskID:    ti.ID,
		Status:    uint8(ti.Status()),
		TaskError: snap.TaskError,
		SysErrnum: snap.SysError,
	}
}

func (s *Server) handleCtlCommand(req *wire.Request) *wire.Response {
	err := s.deps.Ctl.Command(req.Ctl)
	return errResponse(wire.KindCtlCommand, cos.CodeOf(err))
}

func (s *Server) handleGlobalStatus(req *wire.Request) *wire.Response {
	stats := s.deps.Ctl.GlobalStatus()
	return &wire.Response{
		Kind:      wire.KindCtlGlobalStatus,
		ErrorCode: uint8(cos.Success),
		Running:   stats.Running,
		Pending:   stats.Pending,
		ETA:       stats.ETA,
	}
}

func toHosts(in []string) []jobreg.Host {
	out := make([]jobreg.Host, len(in))
	for i, h := range in {
		out[i] = jobreg.Host(h)
	}
	return out
}

func toJobLimits(in []wire.Limit) []jobreg.Limit {
	out := make([]jobreg.Limit, len(in))
	for i, l := range in {
		out[i] = jobreg.Limit{Nsid: l.Nsid, Quota: l.Quota}
	}
	return out
}

func (s *Server) handleJobRegister(req *wire.Request) *wire.Response {
	err := s.deps.Jobreg.Register(req.JobID, toHosts(req.Hosts), toJobLimits(req.Limits))
	return errResponse(wire.KindJobRegister, cos.CodeOf(err))
}

func (s *Server) handleJobUpdate(req *wire.Request) *wire.Response {
	err := s.deps.Jobreg.Update(req.JobID, toHosts(req.Hosts), toJobLimits(req.Limits))
	return errResponse(wire.KindJobUpdate, cos.CodeOf(err))
}

func (s *Server) handleJobUnregister(req *wire.Request) *wire.Response {
	err := s.deps.Jobreg.Unregister(req.JobID)
	return errResponse(wire.KindJobUnregister, cos.CodeOf(err))
}

func (s *Server) handleProcessAdd(req *wire.Request) *wire.Response {
	err := s.deps.Jobreg.AddProcess(req.JobID, jobreg.Credentials(req.Cred))
	return errResponse(wire.KindProcessAdd, cos.CodeOf(err))
}

func (s *Server) handleProcessRemove(req *wire.Request) *wire.Response {
	err := s.deps.Jobreg.RemoveProcess(req.JobID, jobreg.Credentials(req.Cred))
	return errResponse(wire.KindProcessRemove, cos.CodeOf(err))
}

func (s *Server) handleNamespaceRegister(req *wire.Request) *wire.Response {
	backend, err := newBackend(req)
	if err != nil {
		return errResponse(wire.KindNamespaceRegister, cos.CodeOf(err))
	}
	err = s.deps.Nsreg.Register(req.Nsid, backend)
	return errResponse(wire.KindNamespaceRegister, cos.CodeOf(err))
}

func (s *Server) handleNamespaceUpdate(req *wire.Request) *wire.Response {
	backend, err := newBackend(req)
	if err != nil {
		return errResponse(wire.KindNamespaceUpdate, cos.CodeOf(err))
	}
	err = s.deps.Nsreg.Update(req.Nsid, backend)
	return errResponse(wire.KindNamespaceUpdate, cos.CodeOf(err))
}

func (s *Server) handleNamespaceUnregister(req *wire.Request) *wire.Response {
	err := s.deps.Nsreg.Unregister(req.Nsid)
	return errResponse(wire.KindNamespaceUnregister, cos.CodeOf(err))
}

// newBackend realizes the requested BackendKind as a concrete driver. Only
// PosixFilesystem and Lustre are path-mount backends a remote client can ask
// for by (mount,quota); NvmlDax/ProcessMemory namespaces are host-local and
// registered by the daemon operator directly against internal/resource, not
// over the wire.
func newBackend(req *wire.Request) (resource.Backend, error) {
	switch resource.BackendKind(req.BackendKind) {
	case resource.BackendPosixFilesystem:
		return resource.NewPosixFilesystem(req.Nsid, req.Mount, req.Quota, true), nil
	case resource.BackendLustre:
		// The wire protocol carries no project-quota id; Lustre namespaces
		// registered this way rely on the project id already set up by
		// `lfs setquota` out of band, matching spec §3's Backend note that
		// quota enforcement detail is backend-specific.
		return resource.NewLustre(req.Nsid, req.Mount, req.Quota, 0), nil
	default:
		return nil, cos.NewError(cos.NotSupported, "backend kind not registrable over the wire")
	}
}
