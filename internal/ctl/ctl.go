// Package ctl implements the control surface of spec §4.9: ping, the
// accept-pause gate, graceful shutdown, and global status — a thin façade
// over internal/task.Manager plus the listener-termination hook Shutdown
// needs once the task manager has actually drained.
/*
 * Copyright (c) 2024, NGIOproject.
 */
package ctl

import (
	"github.com/NGIOproject/norns-go/internal/cos"
	"github.com/NGIOproject/norns-go/internal/nlog"
	"github.com/NGIOproject/norns-go/internal/task"
	"github.com/NGIOproject/norns-go/internal/wire"
)

// Controller wires the control-plane RPCs onto the task manager. StopListener
// is supplied by cmd/normsd after the request listener exists — ctl itself
// must not know the listener's concrete type, only that it can be told to
// stop once draining is safe.
type Controller struct {
	Tasks        *task.Manager
	StopListener func()
}

func New(tasks *task.Manager, stopListener func()) *Controller {
	return &Controller{Tasks: tasks, StopListener: stopListener}
}

// Ping always succeeds (spec §4.9 "Ping: always succeeds").
func (c *Controller) Ping() error { return nil }

// Command dispatches a CtlCommand (spec §4.9/§6 "Control commands").
func (c *Controller) Command(cmd wire.CtlCmd) error {
	switch cmd {
	case wire.CtlPing:
		return c.Ping()
	case wire.CtlPauseAccept:
		c.Tasks.PauseAccept()
		nlog.Infof("ctl: accept paused")
		return nil
	case wire.CtlResumeAccept:
		c.Tasks.ResumeAccept()
		nlog.Infof("ctl: accept resumed")
		return nil
	case wire.CtlShutdown:
		return c.shutdown()
	default:
		return cos.NewError(cos.BadArgs, "unknown control command")
	}
}

// shutdown implements spec §4.9's Shutdown: if any task is still
// Pending/Running, refuse with tasks-pending; otherwise drain the worker
// pool (a no-op since nothing is outstanding) and terminate the listener.
// It does not itself pause acceptance — a caller that wants a clean drain
// issues PauseAccept first, per the shutdown-with-pending-tasks scenario.
func (c *Controller) shutdown() error {
	unfinished := c.Tasks.CountIf(func(ti *task.Info) bool {
		switch ti.Status() {
		case task.StatusPending, task.StatusRunning:
			return true
		default:
			return false
		}
	})
	if unfinished > 0 {
		return cos.NewError(cos.TasksPending, "")
	}
	c.Tasks.StopAllTasks()
	if c.StopListener != nil {
		c.StopListener()
	}
	nlog.Infof("ctl: shutdown complete")
	return nil
}

// GlobalStatus implements CtlGlobalStatus (spec §3 GlobalStats).
func (c *Controller) GlobalStatus() task.GlobalStats {
	return c.Tasks.GlobalStats()
}
