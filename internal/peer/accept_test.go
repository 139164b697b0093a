package peer

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/NGIOproject/norns-go/internal/nsreg"
	"github.com/NGIOproject/norns-go/internal/resource"
	"github.com/NGIOproject/norns-go/internal/task"
	"github.com/NGIOproject/norns-go/internal/wpool"
)

// startPeer binds an AcceptHandlers-backed Server on a free loopback port and
// returns the address a Client can dial.
func startPeer(t *testing.T, h Handlers) resource.NetAddr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	addr := "127.0.0.1:" + strconv.Itoa(port)
	s := NewServer(addr, h)
	go s.ListenAndServe()
	t.Cleanup(func() { s.Shutdown() })

	// ListenAndServe binds asynchronously; poll until the port accepts.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("tcp", addr); err == nil {
			conn.Close()
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	return resource.NetAddr{Host: "127.0.0.1", Port: port}
}

func newTestRegistry(t *testing.T, nsid, mount string) *nsreg.Registry {
	t.Helper()
	reg := nsreg.New()
	backend := resource.NewPosixFilesystem(nsid, mount, 0, false)
	if err := reg.Register(nsid, backend); err != nil {
		t.Fatalf("register %s: %v", nsid, err)
	}
	return reg
}

func TestResourceStatOverLoopback(t *testing.T) {
	mount := t.TempDir()
	if err := os.WriteFile(filepath.Join(mount, "a.bin"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := NewAcceptHandlers(newTestRegistry(t, "ns0", mount), nil)
	addr := startPeer(t, h)

	c := NewClient(2 * time.Second)
	resp, err := c.ResourceStat(addr, StatRequest{SrcNsid: "ns0", SrcKind: uint8(resource.KindLocalPath), SrcName: "a.bin"})
	if err != nil {
		t.Fatalf("ResourceStat: %v", err)
	}
	if resp.TaskError != "" {
		t.Fatalf("unexpected task error: %s", resp.TaskError)
	}
	if resp.IsCollection {
		t.Fatal("a.bin should not be reported as a collection")
	}
	if resp.PackedSize != 5 {
		t.Fatalf("packed size = %d, want 5", resp.PackedSize)
	}
}

func TestPushThenPullRoundTripsAFile(t *testing.T) {
	srcMount := t.TempDir()
	dstMount := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcMount, "payload.bin"), []byte("norns payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := NewAcceptHandlers(newTestRegistry(t, "dst", dstMount), nil)
	addr := startPeer(t, h)
	c := NewClient(2 * time.Second)

	body, err := os.Open(filepath.Join(srcMount, "payload.bin"))
	if err != nil {
		t.Fatal(err)
	}
	defer body.Close()

	result, err := c.PushResource(addr, TransferMeta{
		SrcNsid: "src", DstNsid: "dst", SrcKind: uint8(resource.KindLocalPath),
		SrcName: "payload.bin", DstName: "payload.bin",
	}, body)
	if err != nil {
		t.Fatalf("PushResource: %v", err)
	}
	if result.TaskError != "" {
		t.Fatalf("push failed: %s (%d)", result.TaskError, result.SysErrnum)
	}
	got, err := os.ReadFile(filepath.Join(dstMount, "payload.bin"))
	if err != nil {
		t.Fatalf("landed file missing: %v", err)
	}
	if string(got) != "norns payload" {
		t.Fatalf("landed content = %q", got)
	}

	// Pull the same file back out through the same server, into an
	// in-memory buffer.
	var out bytes.Buffer
	pullResult, err := c.PullResource(addr, TransferMeta{
		SrcNsid: "dst", SrcKind: uint8(resource.KindLocalPath), SrcName: "payload.bin",
	}, &out)
	if err != nil {
		t.Fatalf("PullResource: %v", err)
	}
	if pullResult.TaskError != "" {
		t.Fatalf("pull failed: %s (%d)", pullResult.TaskError, pullResult.SysErrnum)
	}
	if out.String() != "norns payload" {
		t.Fatalf("pulled content = %q", out.String())
	}
}

func TestPushResourceRecordsRemoteInitiatedTask(t *testing.T) {
	dstMount := t.TempDir()
	mgr, cleanup := newRecorderManager(t)
	defer cleanup()

	h := NewAcceptHandlers(newTestRegistry(t, "dst", dstMount), mgr)
	addr := startPeer(t, h)
	c := NewClient(2 * time.Second)

	isRemoteTransfer := func(ti *task.Info) bool { return ti.Kind == task.KindRemoteTransfer }
	before := mgr.CountIf(isRemoteTransfer)

	result, err := c.PushResource(addr, TransferMeta{
		SrcNsid: "src", DstNsid: "dst", SrcKind: uint8(resource.KindLocalPath),
		SrcName: "x.bin", DstName: "landed.bin",
	}, bytes.NewReader([]byte("abc")))
	if err != nil {
		t.Fatalf("PushResource: %v", err)
	}
	if result.TaskError != "" {
		t.Fatalf("push failed: %s", result.TaskError)
	}

	after := mgr.CountIf(isRemoteTransfer)
	if after != before+1 {
		t.Fatalf("expected one remote-initiated task to be recorded, before=%d after=%d", before, after)
	}
}

func TestResourceStatRejectsUnknownNamespace(t *testing.T) {
	h := NewAcceptHandlers(nsreg.New(), nil)
	addr := startPeer(t, h)
	c := NewClient(2 * time.Second)

	resp, err := c.ResourceStat(addr, StatRequest{SrcNsid: "does-not-exist", SrcName: "x"})
	if err != nil {
		t.Fatalf("ResourceStat transport error: %v", err)
	}
	if resp.TaskError == "" {
		t.Fatal("expected a task_error for an unregistered namespace")
	}
}

// newRecorderManager builds a task.Manager with no transferors wired — only
// RecordRemoteTask is exercised here, which bypasses the worker pool entirely.
func newRecorderManager(t *testing.T) (*task.Manager, func()) {
	t.Helper()
	pool := wpool.New(1, 1)
	mgr := task.NewManager(task.Options{Pool: pool})
	return mgr, pool.Stop
}
