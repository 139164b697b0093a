// Package peer implements the three remote-transfer RPCs of spec §6
// (component I): resource_stat, push_resource, pull_resource. It serves
// them over fasthttp — the concrete front-end for the "RDMA-capable RPC
// layer" spec §1 treats as an external collaborator — and dispatches
// incoming calls into the local namespace registry; the handlers move the
// bytes themselves rather than through the worker pool.
/*
 * Copyright (c) 2024, NGIOproject.
 */
package peer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/NGIOproject/norns-go/internal/cos"
	"github.com/NGIOproject/norns-go/internal/nlog"
)

// json is the teacher's drop-in jsoniter config for every marshal/unmarshal
// site in this package (spec §6 leaves the peer-RPC wire encoding
// implementation-defined).
var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	pathResourceStat = "/v1/resource_stat"
	pathPush         = "/v1/push_resource"
	pathPull         = "/v1/pull_resource"

	metaHeader   = "X-Norns-Meta"
	resultHeader = "X-Norns-Result"
)

// StatRequest/StatResponse realize resource_stat's contract (spec §6).
type StatRequest struct {
	SrcNsid string `json:"src_nsid"`
	SrcKind uint8  `json:"src_kind"`
	SrcName string `json:"src_name"`
}

type StatResponse struct {
	TaskError    string `json:"task_error"`
	SysErrnum    int32  `json:"sys_errnum"`
	IsCollection bool   `json:"is_collection"`
	PackedSize   int64  `json:"packed_size"`
}

// TransferMeta carries the naming fields common to push_resource and
// pull_resource (spec §6); the bulk payload rides in the HTTP body.
type TransferMeta struct {
	SrcNsid      string `json:"src_nsid"`
	DstNsid      string `json:"dst_nsid"`
	SrcKind      uint8  `json:"src_kind"`
	IsCollection bool   `json:"is_collection"`
	SrcName      string `json:"src_name"`
	DstName      string `json:"dst_name"`
}

// TransferResult is the {status, task_error, sys_errnum, elapsed_usecs}
// completion spec §6 specifies for both push_resource and pull_resource.
type TransferResult struct {
	Status       uint8  `json:"status"`
	TaskError    string `json:"task_error"`
	SysErrnum    int32  `json:"sys_errnum"`
	ElapsedUsecs int64  `json:"elapsed_usecs"`
}

// Handlers is implemented by the task-manager-facing side of this package
// (see accept.go) and invoked by the fasthttp server for each RPC.
type Handlers interface {
	HandleResourceStat(req StatRequest) StatResponse
	// HandlePushResource consumes body (the incoming pushed bytes) fully
	// before returning.
	HandlePushResource(meta TransferMeta, body io.Reader) TransferResult
	// HandlePullResource resolves and opens the requested resource before
	// returning, so the result envelope can be sent as a header ahead of
	// the body; src is nil when result.Status != cos.Success.
	HandlePullResource(meta TransferMeta) (result TransferResult, src io.ReadCloser)
}

// Server serves the three peer RPCs on a TCP listen address.
type Server struct {
	h    Handlers
	addr string
	srv  *fasthttp.Server
}

func NewServer(addr string, h Handlers) *Server {
	s := &Server{h: h, addr: addr}
	s.srv = &fasthttp.Server{Handler: s.route}
	return s
}

func (s *Server) ListenAndServe() error {
	nlog.Infof("peer RPC listener starting on %s", s.addr)
	return s.srv.ListenAndServe(s.addr)
}

func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case pathResourceStat:
		s.serveStat(ctx)
	case pathPush:
		s.servePush(ctx)
	case pathPull:
		s.servePull(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (s *Server) serveStat(ctx *fasthttp.RequestCtx) {
	var req StatRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	resp := s.h.HandleResourceStat(req)
	writeJSON(ctx, resp)
}

func (s *Server) servePush(ctx *fasthttp.RequestCtx) {
	var meta TransferMeta
	if err := json.Unmarshal(ctx.Request.Header.Peek(metaHeader), &meta); err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	result := s.h.HandlePushResource(meta, bytes.NewReader(ctx.PostBody()))
	writeJSON(ctx, result)
}

func (s *Server) servePull(ctx *fasthttp.RequestCtx) {
	var meta TransferMeta
	if err := json.Unmarshal(ctx.PostBody(), &meta); err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		return
	}
	result, src := s.h.HandlePullResource(meta)
	rb, _ := json.Marshal(result)
	ctx.Response.Header.Set(resultHeader, string(rb))
	if src == nil {
		return
	}
	// The stream writer runs after this handler returns, so src is closed
	// there rather than by a defer here.
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer src.Close()
		io.Copy(w, src)
		w.Flush()
	})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(b)
}

// RPCError wraps a transport-level failure (spec §7 taxonomy: protocol,
// system) as a cos.Error so callers can route it through the same
// error-code surface as everything else.
func RPCError(code cos.ErrCode, format string, args ...any) error {
	return cos.NewError(code, fmt.Sprintf(format, args...))
}
