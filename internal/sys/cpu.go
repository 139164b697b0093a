// Package sys reads host resource limits used to size the worker pool when
// a config file leaves workers unset.
/*
 * Copyright (c) 2024, NGIOproject.
 */
package sys

import (
	"os"
	"runtime"

	"github.com/NGIOproject/norns-go/internal/nlog"
)

const gomaxprocsEnvVar = "GOMAXPROCS"

// NumCPU returns the number of CPUs usable by this process. Unlike the
// container-cgroup-aware version this is adapted from, it trusts
// runtime.NumCPU() directly: normsd runs one instance per node (spec.md
// never describes a containerized multi-tenant deployment), so the extra
// cgroup-quota parsing has no node topology to protect against.
func NumCPU() int { return runtime.NumCPU() }

// SetMaxProcs clamps the scheduler to NumCPU threads, returning the GOMAXPROCS
// value left in effect. An explicit GOMAXPROCS in the environment always wins:
// this only caps an unset-or-too-high default, it never raises one.
func SetMaxProcs() int {
	if val, overridden := os.LookupEnv(gomaxprocsEnvVar); overridden {
		nlog.Infof("honoring explicit %s=%s from the environment", gomaxprocsEnvVar, val)
		return runtime.GOMAXPROCS(0)
	}

	ncpu, current := NumCPU(), runtime.GOMAXPROCS(0)
	if current <= ncpu {
		return current
	}
	nlog.Warningf("clamping GOMAXPROCS from %d to %d available CPUs", current, ncpu)
	return runtime.GOMAXPROCS(ncpu)
}
