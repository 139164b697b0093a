package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NGIOproject/norns-go/internal/ctl"
	"github.com/NGIOproject/norns-go/internal/jobreg"
	"github.com/NGIOproject/norns-go/internal/nsreg"
	"github.com/NGIOproject/norns-go/internal/server"
	"github.com/NGIOproject/norns-go/internal/task"
	"github.com/NGIOproject/norns-go/internal/wire"
	"github.com/NGIOproject/norns-go/internal/wpool"
)

func startDaemon(t *testing.T) string {
	t.Helper()
	nsr := nsreg.New()
	jr := jobreg.New()
	pool := wpool.New(2, 8)
	t.Cleanup(pool.Stop)
	mgr := task.NewManager(task.Options{Pool: pool, BacklogCapacity: 4})
	c := ctl.New(mgr, nil)

	sock := filepath.Join(t.TempDir(), "normsd.sock")
	s := server.New(server.Deps{Nsreg: nsr, Jobreg: jr, Tasks: mgr, Ctl: c}, sock)
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go s.Serve()
	t.Cleanup(s.Stop)
	return sock
}

func TestClientPing(t *testing.T) {
	sock := startDaemon(t)
	c, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	if err := c.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestClientSubmitAndWait(t *testing.T) {
	sock := startDaemon(t)
	c, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	mount := t.TempDir()
	if err := os.WriteFile(filepath.Join(mount, "a.bin"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterNamespace("ns0", 1 /* BackendPosixFilesystem */, mount, 0); err != nil {
		t.Fatalf("RegisterNamespace: %v", err)
	}

	taskID, err := c.Submit(wire.Credentials{}, TaskKindRemove, ResourceSpec{
		Kind: ResourceKindLocalPath, Nsid: "ns0", Name: "a.bin",
	}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if taskID == 0 {
		t.Fatal("expected nonzero task id")
	}

	st, err := c.Wait(taskID, nil)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if st.Status != statusFinished {
		t.Fatalf("status = %d, want finished; task_error=%q sys_error=%d", st.Status, st.TaskError, st.SysErrnum)
	}
}

func TestClientWaitFailsForUnknownTask(t *testing.T) {
	sock := startDaemon(t)
	c, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	mount := t.TempDir()
	if err := os.WriteFile(filepath.Join(mount, "a.bin"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterNamespace("ns0", 1, mount, 0); err != nil {
		t.Fatalf("RegisterNamespace: %v", err)
	}
	// Nothing is submitted, so no task id exists: Status on a made-up id
	// fails, and Wait with a short timeout returns that status error rather
	// than a result for a task that does not exist.
	_, err = c.Status(999999)
	if err == nil {
		t.Fatal("expected BadArgs for an unknown task id")
	}

	short := 5 * time.Millisecond
	_, err = c.Wait(1, &short)
	if err == nil {
		t.Fatal("expected an error for a nonexistent task id")
	}
}

func TestClientControlSurface(t *testing.T) {
	sock := startDaemon(t)
	c, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.Command(wire.CtlPauseAccept); err != nil {
		t.Fatalf("pause: %v", err)
	}
	mount := t.TempDir()
	if err := c.RegisterNamespace("ns0", 1, mount, 0); err != nil {
		t.Fatalf("RegisterNamespace: %v", err)
	}
	_, err = c.Submit(wire.Credentials{}, TaskKindRemove, ResourceSpec{Kind: ResourceKindLocalPath, Nsid: "ns0", Name: "x"}, nil)
	if err == nil {
		t.Fatal("expected AcceptPaused while paused")
	}
	if err := c.Command(wire.CtlResumeAccept); err != nil {
		t.Fatalf("resume: %v", err)
	}

	status, err := c.GlobalStatus()
	if err != nil {
		t.Fatalf("GlobalStatus: %v", err)
	}
	if status.Running != 0 {
		t.Fatalf("unexpected running count: %+v", status)
	}
}

func TestClientJobLifecycle(t *testing.T) {
	sock := startDaemon(t)
	c, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.RegisterJob(3, []string{"node0"}, []wire.Limit{{Nsid: "ns0", Quota: 10}}); err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}
	if err := c.AddProcess(3, wire.Credentials{UID: 1, GID: 1, PID: 42}); err != nil {
		t.Fatalf("AddProcess: %v", err)
	}
	if err := c.RemoveProcess(3, wire.Credentials{UID: 1, GID: 1, PID: 42}); err != nil {
		t.Fatalf("RemoveProcess: %v", err)
	}
	if err := c.UnregisterJob(3); err != nil {
		t.Fatalf("UnregisterJob: %v", err)
	}
}
