// Package cos provides common low-level types shared by every norns package:
// the wire error-code enum, id generation, and small path/byte utilities.
/*
 * Copyright (c) 2024, NGIOproject.
 */
package cos

import "fmt"

// ErrCode is the wire-level error enumeration from spec §6, plus the
// task-level status codes that double as terminal "errors" on the status RPC.
type ErrCode int

const (
	Success ErrCode = iota
	BadArgs
	ConnFailed
	RpcSendFailed
	RpcRecvFailed
	Snafu
	NoSuchJob
	NoSuchNamespace
	NamespaceExists
	NotSupported
	AcceptPaused
	TasksPending
	TooManyTasks
	Timeout

	// task-level (mirrored onto TaskStatus, never returned from an admission RPC)
	TaskPending
	TaskInProgress
	TaskFinished
	TaskFinishedWithError
)

var names = [...]string{
	Success:               "success",
	BadArgs:                "bad-args",
	ConnFailed:             "conn-failed",
	RpcSendFailed:          "rpc-send-failed",
	RpcRecvFailed:          "rpc-recv-failed",
	Snafu:                  "snafu",
	NoSuchJob:              "no-such-job",
	NoSuchNamespace:        "no-such-namespace",
	NamespaceExists:        "namespace-exists",
	NotSupported:           "not-supported",
	AcceptPaused:           "accept-paused",
	TasksPending:           "tasks-pending",
	TooManyTasks:           "too-many-tasks",
	Timeout:                "timeout",
	TaskPending:            "pending",
	TaskInProgress:         "in-progress",
	TaskFinished:           "finished",
	TaskFinishedWithError:  "finished-with-error",
}

func (c ErrCode) String() string {
	if int(c) < 0 || int(c) >= len(names) || names[c] == "" {
		return fmt.Sprintf("errcode(%d)", int(c))
	}
	return names[c]
}

// Error adapts an ErrCode to the error interface so it can flow through
// ordinary Go error-handling while still carrying the wire-level code.
type Error struct {
	Code    ErrCode
	Detail  string
}

func NewError(code ErrCode, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Detail
}

// CodeOf extracts the wire ErrCode from any error, defaulting to Snafu for
// errors that did not originate as a *cos.Error (e.g. raw OS errors).
func CodeOf(err error) ErrCode {
	if err == nil {
		return Success
	}
	var e *Error
	if as(err, &e) {
		return e.Code
	}
	return Snafu
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
