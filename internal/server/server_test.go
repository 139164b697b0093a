package server

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NGIOproject/norns-go/internal/ctl"
	"github.com/NGIOproject/norns-go/internal/jobreg"
	"github.com/NGIOproject/norns-go/internal/nsreg"
	"github.com/NGIOproject/norns-go/internal/resource"
	"github.com/NGIOproject/norns-go/internal/task"
	"github.com/NGIOproject/norns-go/internal/wire"
	"github.com/NGIOproject/norns-go/internal/wpool"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	nsr := nsreg.New()
	jr := jobreg.New()
	pool := wpool.New(2, 8)
	t.Cleanup(pool.Stop)
	mgr := task.NewManager(task.Options{Pool: pool, BacklogCapacity: 4})
	c := ctl.New(mgr, nil)

	sock := filepath.Join(t.TempDir(), "norns.sock")
	s := New(Deps{Nsreg: nsr, Jobreg: jr, Tasks: mgr, Ctl: c}, sock)
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go s.Serve()
	t.Cleanup(s.Stop)
	return s, sock
}

func dial(t *testing.T, sock string) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, req *wire.Request) *wire.Response {
	t.Helper()
	if err := wire.WriteRequest(conn, req); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := wire.ReadResponse(conn)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	return resp
}

func TestPingRoundTrip(t *testing.T) {
	_, sock := startTestServer(t)
	conn := dial(t, sock)
	resp := roundTrip(t, conn, &wire.Request{Kind: wire.KindPing})
	if resp.Kind != wire.KindPing || resp.ErrorCode != uint8(0) {
		t.Fatalf("unexpected ping response: %+v", resp)
	}
}

func TestNamespaceRegisterThenSubmitAndStatus(t *testing.T) {
	_, sock := startTestServer(t)
	conn := dial(t, sock)

	mount := t.TempDir()
	if err := os.WriteFile(filepath.Join(mount, "a.bin"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := roundTrip(t, conn, &wire.Request{
		Kind: wire.KindNamespaceRegister, Nsid: "ns0",
		BackendKind: uint8(resource.BackendPosixFilesystem), Mount: mount,
	})
	if reg.ErrorCode != 0 {
		t.Fatalf("namespace register failed: code=%d", reg.ErrorCode)
	}

	removeResp := roundTrip(t, conn, &wire.Request{
		Kind:     wire.KindIoTaskSubmit,
		TaskKind: uint8(task.KindRemove),
		Src:      wire.ResourceInfo{Kind: uint8(resource.KindLocalPath), Nsid: "ns0", Name: "a.bin"},
	})
	if removeResp.ErrorCode != 0 || removeResp.TaskID == 0 {
		t.Fatalf("submit failed: %+v", removeResp)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		statusResp := roundTrip(t, conn, &wire.Request{Kind: wire.KindIoTaskStatus, TaskID: removeResp.TaskID})
		if statusResp.Status == uint8(task.StatusFinished) || statusResp.Status == uint8(task.StatusFinishedWithError) {
			if statusResp.Status != uint8(task.StatusFinished) {
				t.Fatalf("task finished with error: %+v", statusResp)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("task never reached a terminal status")
}

func TestSubmitWithUnregisteredNamespace(t *testing.T) {
	_, sock := startTestServer(t)
	conn := dial(t, sock)
	resp := roundTrip(t, conn, &wire.Request{
		Kind:     wire.KindIoTaskSubmit,
		TaskKind: uint8(task.KindRemove),
		Src:      wire.ResourceInfo{Kind: uint8(resource.KindLocalPath), Nsid: "no-such-ns", Name: "a.bin"},
	})
	if resp.ErrorCode == 0 {
		t.Fatal("expected an error code for an unregistered namespace")
	}
}

func TestJobLifecycleOverWire(t *testing.T) {
	_, sock := startTestServer(t)
	conn := dial(t, sock)

	reg := roundTrip(t, conn, &wire.Request{
		Kind: wire.KindJobRegister, JobID: 7,
		Hosts:  []string{"node0"},
		Limits: []wire.Limit{{Nsid: "ns0", Quota: 100}},
	})
	if reg.ErrorCode != 0 {
		t.Fatalf("job register failed: %+v", reg)
	}

	add := roundTrip(t, conn, &wire.Request{
		Kind: wire.KindProcessAdd, JobID: 7,
		Cred: wire.Credentials{UID: 1, GID: 1, PID: 100},
	})
	if add.ErrorCode != 0 {
		t.Fatalf("process add failed: %+v", add)
	}

	unreg := roundTrip(t, conn, &wire.Request{Kind: wire.KindJobUnregister, JobID: 7})
	if unreg.ErrorCode != 0 {
		t.Fatalf("job unregister failed: %+v", unreg)
	}
}

func TestCtlGlobalStatusOverWire(t *testing.T) {
	_, sock := startTestServer(t)
	conn := dial(t, sock)
	resp := roundTrip(t, conn, &wire.Request{Kind: wire.KindCtlGlobalStatus})
	if resp.ErrorCode != 0 || resp.Running != 0 || resp.Pending != 0 {
		t.Fatalf("unexpected idle global status: %+v", resp)
	}
}
