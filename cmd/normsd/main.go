// Package normsd is the per-node data-staging daemon: the minimal process
// needed to exercise the task engine (spec.md §1 declines a CLI front-end,
// so this is the daemon's own entrypoint, analogous to the teacher's
// cmd/authn).
/*
 * Copyright (c) 2024, NGIOproject.
 */
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NGIOproject/norns-go/internal/config"
	"github.com/NGIOproject/norns-go/internal/ctl"
	"github.com/NGIOproject/norns-go/internal/jobreg"
	"github.com/NGIOproject/norns-go/internal/nlog"
	"github.com/NGIOproject/norns-go/internal/nsreg"
	"github.com/NGIOproject/norns-go/internal/peer"
	"github.com/NGIOproject/norns-go/internal/rdma"
	"github.com/NGIOproject/norns-go/internal/resource"
	"github.com/NGIOproject/norns-go/internal/server"
	"github.com/NGIOproject/norns-go/internal/sys"
	"github.com/NGIOproject/norns-go/internal/task"
	"github.com/NGIOproject/norns-go/internal/transfer"
	"github.com/NGIOproject/norns-go/internal/wpool"
)

var configPath string

func init() {
	flag.StringVar(&configPath, "config", "", "path to the normsd YAML configuration file")
}

func main() {
	flag.Parse()
	installSignalHandler()
	procs := sys.SetMaxProcs()
	nlog.Infof("running with GOMAXPROCS=%d", procs)

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			nlog.Errorf("failed to load configuration from %q: %v", configPath, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	config.GCO.Put(cfg)
	nlog.SetTitle("normsd")

	nsr := nsreg.New()
	jr := jobreg.New()

	// OpenRetention treats an empty TaskDBPath as in-memory-only, so this
	// always succeeds for the default configuration.
	store, err := task.OpenRetention(cfg.TaskDBPath, 10000)
	if err != nil {
		nlog.Errorf("failed to open task retention store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	metrics := task.NewMetrics()
	pool := wpool.New(cfg.Workers, cfg.Workers*4)

	engine := rdma.New()
	peerClient := peer.NewClient(0)
	xferReg := transfer.NewRegistry()
	transfer.Install(xferReg, engine, peerClient)

	mgr := task.NewManager(task.Options{
		Pool: pool,
		Lookup: func(src, dst resource.Kind) (task.Transferor, bool) {
			t, ok := xferReg.Lookup(src, dst)
			return t, ok
		},
		BacklogCapacity: cfg.BacklogSize,
		DryRun:          cfg.DryRun,
		DryRunDuration:  cfg.DryRunDuration,
		Metrics:         metrics,
		Store:           store,
	})
	nsr.SetInUseChecker(mgr)

	acceptHandlers := peer.NewAcceptHandlers(nsr, mgr)
	peerSrv := peer.NewServer(cfg.PeerListenAddr, acceptHandlers)
	go func() {
		if err := peerSrv.ListenAndServe(); err != nil {
			nlog.Errorf("peer RPC listener exited: %v", err)
		}
	}()
	defer peerSrv.Shutdown()

	srv := server.New(server.Deps{Nsreg: nsr, Jobreg: jr, Tasks: mgr, Ctl: nil}, cfg.GlobalSocket)
	if err := srv.Listen(); err != nil {
		nlog.Errorf("failed to bind %s: %v", cfg.GlobalSocket, err)
		os.Exit(1)
	}
	ctlSurface := ctl.New(mgr, srv.Stop)
	srv.SetCtl(ctlSurface)

	if cfg.MetricsListenAddr != "" {
		go serveMetrics(cfg.MetricsListenAddr, metrics)
	}

	nlog.Infof("normsd listening on %s (peer RPC on %s)", cfg.GlobalSocket, cfg.PeerListenAddr)
	if err := srv.Serve(); err != nil {
		nlog.Errorf("control-plane listener exited: %v", err)
		os.Exit(1)
	}
	nlog.Infof("normsd shut down")
}

func serveMetrics(addr string, m *task.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	nlog.Infof("metrics debug listener starting on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		nlog.Warningf("metrics listener exited: %v", err)
	}
}

func installSignalHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Fprintln(os.Stderr, "normsd: received termination signal, exiting")
		os.Exit(1)
	}()
}
