// Package config loads and serves the daemon configuration. The on-disk
// schema is YAML (spec.md §1 names YAML as the client-side config format and
// explicitly declines to pin its fields); norns-go reuses the same format for
// the daemon side and documents only the keys this engine actually reads.
/*
 * Copyright (c) 2024, NGIOproject.
 */
package config

import (
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NGIOproject/norns-go/internal/sys"
)

// Config holds every daemon setting the task engine consults. Fields not
// read by the core (credentials, backend-specific mount options, etc.) are
// implementation-defined per spec §6 and intentionally absent here.
type Config struct {
	// GlobalSocket is the Unix-domain socket path both the user and control
	// client libraries connect to (spec §6, required).
	GlobalSocket string `yaml:"global_socket"`

	// PeerListenAddr is where this daemon serves the peer RPC trio
	// (resource_stat/push_resource/pull_resource, spec §6).
	PeerListenAddr string `yaml:"peer_listen_addr"`

	// Workers is the worker-pool size N (spec §4.5).
	Workers int `yaml:"workers"`

	// BacklogSize bounds each (src_nsid,dst_nsid) bandwidth ring (spec §3).
	BacklogSize int `yaml:"backlog_size"`

	// DryRun rewrites every admitted Copy/Move/Remove into a Noop (spec §4.8 step 4).
	DryRun bool `yaml:"dry_run"`

	// DryRunDuration is the total sleep a Noop task performs, split across
	// two phases per the original implementation (SPEC_FULL.md F.3).
	DryRunDuration time.Duration `yaml:"dry_run_duration"`

	// TaskDBPath, if set, backs the bounded finished-task retention log with
	// an on-disk buntdb store (SPEC_FULL.md F.2); empty means in-memory only.
	TaskDBPath string `yaml:"task_db_path"`

	// MetricsListenAddr, if set, exposes a Prometheus /metrics debug endpoint
	// (SPEC_FULL.md F.5); additive, never a substitute for CtlGlobalStatus.
	MetricsListenAddr string `yaml:"metrics_listen_addr"`
}

// Default returns the configuration used when no file is supplied, e.g. in tests.
func Default() *Config {
	return &Config{
		GlobalSocket:   "/tmp/norns.sock",
		PeerListenAddr: "127.0.0.1:0",
		Workers:        sys.NumCPU(),
		BacklogSize:    16,
		DryRunDuration: 500 * time.Millisecond,
	}
}

// Load parses a YAML config file, defaulting any field left unset.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	if cfg.GlobalSocket == "" {
		return nil, errMissingSocket
	}
	return cfg, nil
}

var errMissingSocket = &missingSocketErr{}

type missingSocketErr struct{}

func (*missingSocketErr) Error() string { return "config: global_socket is required" }

// GCO is the global config owner: a teacher-style atomic-swap singleton so
// that hot paths read the current config without a lock (cmn.GCO in the
// teacher repo plays the identical role).
type gco struct {
	v atomic.Value // *Config
}

var GCO = &gco{}

func init() { GCO.Put(Default()) }

func (g *gco) Get() *Config { return g.v.Load().(*Config) }

func (g *gco) Put(c *Config) { g.v.Store(c) }
