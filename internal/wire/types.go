// Package wire implements spec §4.4: the request/response protocol and its
// length-prefixed framing. Encoding is MessagePack via github.com/tinylib/msgp's
// runtime helpers — the concrete realization of spec §1's "opaque encode/decode
// of request/response structs" contract.
/*
 * Copyright (c) 2024, NGIOproject.
 */
package wire

// Kind discriminates every request (and, symmetrically, every response).
type Kind uint8

const (
	KindIoTaskSubmit Kind = iota
	KindIoTaskStatus
	KindCtlCommand
	KindCtlGlobalStatus
	KindPing
	KindJobRegister
	KindJobUpdate
	KindJobUnregister
	KindProcessAdd
	KindProcessRemove
	KindNamespaceRegister
	KindNamespaceUpdate
	KindNamespaceUnregister
)

// CtlCmd enumerates the control commands carried inside a CtlCommand request
// (spec §6 "Control commands").
type CtlCmd uint8

const (
	CtlPing CtlCmd = iota
	CtlPauseAccept
	CtlResumeAccept
	CtlShutdown
)

// ResourceInfo is the wire form of resource.Info (spec §3 ResourceInfo):
// unresolved, as supplied by the client.
type ResourceInfo struct {
	Kind         uint8
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

type Limit struct {
	Nsid  string
	Quota uint32
}

type Credentials struct {
	UID uint32
	GID uint32
	PID uint32
}

// Request is the flattened union of every request kind's fields (spec §4.4:
// "implementations MAY use any schema that preserves the request enumeration").
type Request struct {
	Kind Kind
	Cred Credentials

	// IoTaskSubmit
	TaskKind uint8
	Src      ResourceInfo
	Dst      ResourceInfo
	HasDst   bool

	// IoTaskStatus
	TaskID uint64

	// CtlCommand
	Ctl CtlCmd

	// Job{Register,Update,Unregister}, Process{Add,Remove}
	JobID  uint32
	Hosts  []string
	Limits []Limit

	// Namespace{Register,Update,Unregister}
	Nsid        string
	BackendKind uint8
	Mount       string
	Quota       uint64
}

// Response mirrors Request symmetrically (spec §4.4).
type Response struct {
	Kind      Kind
	ErrorCode uint8

	// IoTaskSubmit
	TaskID uint64

	// IoTaskStatus
	Status    uint8
	TaskError string
	SysErrnum int32

	// CtlGlobalStatus
	Running uint32
	Pending uint32
	ETA     float64
}
