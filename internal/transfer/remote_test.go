package transfer

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
	"unsafe"

	"github.com/NGIOproject/norns-go/internal/nsreg"
	"github.com/NGIOproject/norns-go/internal/peer"
	"github.com/NGIOproject/norns-go/internal/rdma"
	"github.com/NGIOproject/norns-go/internal/resource"
	"github.com/NGIOproject/norns-go/internal/task"
)

// startRemotePeer binds an AcceptHandlers-backed peer.Server on a free
// loopback port and returns the address a peer.Client can dial. Mirrors
// internal/peer's own test harness since this package needs the same
// loopback round trip to drive LocalToRemote/RemoteToLocal end-to-end.
func startRemotePeer(t *testing.T, reg *nsreg.Registry) resource.NetAddr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	addr := "127.0.0.1:" + strconv.Itoa(port)
	s := peer.NewServer(addr, peer.NewAcceptHandlers(reg, nil))
	go s.ListenAndServe()
	t.Cleanup(func() { s.Shutdown() })

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

func TestLocalToRemoteThenRemoteToLocalRoundTripsADirectory(t *testing.T) {
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	srcDir := filepath.Join(srcRoot, "dataset")
	if err := os.MkdirAll(filepath.Join(srcDir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("aaa"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "nested", "b.txt"), []byte("bbbb"), 0o644); err != nil {
		t.Fatal(err)
	}

	dstReg := nsreg.New()
	dstBackend := resource.NewPosixFilesystem("remote", dstRoot, 0, false)
	if err := dstReg.Register("remote", dstBackend); err != nil {
		t.Fatal(err)
	}
	addr := startRemotePeer(t, dstReg)

	engine := rdma.New()
	client := peer.NewClient(2 * time.Second)

	srcBackend := resource.NewPosixFilesystem("local", srcRoot, 0, false)
	push := &LocalToRemote{Engine: engine, Client: client}
	pushSrc := &resource.LocalPathResource{ParentBackend: srcBackend, CanonicalPath: srcDir, Name: "dataset", Collection: true}
	pushDst := &resource.RemoteResource{Address: addr, Name: "dataset", Collection: true}
	ti := task.New(1, task.KindRemoteTransfer, true, task.Credentials{}, 0)
	ti.DstNsid = "remote"

	taskErr, sysErr := push.Transfer(ti, pushSrc, pushDst)
	if taskErr != "" || sysErr != 0 {
		t.Fatalf("LocalToRemote.Transfer failed: %s (%d)", taskErr, sysErr)
	}

	// No .tar artifact left behind on the landing side: the push unpacks
	// directly into place (spec §8).
	entries, err := os.ReadDir(dstRoot)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tar") {
			t.Fatalf("leftover tar artifact on the remote side: %s", e.Name())
		}
	}
	got, err := os.ReadFile(filepath.Join(dstRoot, "dataset", "nested", "b.txt"))
	if err != nil {
		t.Fatalf("landed nested file missing: %v", err)
	}
	if string(got) != "bbbb" {
		t.Fatalf("landed nested content = %q", got)
	}

	// Pull the same directory back into a second local root through
	// RemoteToLocal, completing the round trip.
	pullRoot := t.TempDir()
	pullBackend := resource.NewPosixFilesystem("local2", pullRoot, 0, false)
	pull := &RemoteToLocal{Client: client}
	pullSrc := &resource.RemoteResource{Address: addr, Name: "dataset", Collection: true}
	pullDst := &resource.LocalPathResource{ParentBackend: pullBackend, CanonicalPath: filepath.Join(pullRoot, "dataset"), Name: "dataset", Collection: true}
	ti2 := task.New(2, task.KindRemoteTransfer, true, task.Credentials{}, 0)
	ti2.SrcNsid = "remote"

	taskErr, sysErr = pull.Transfer(ti2, pullSrc, pullDst)
	if taskErr != "" || sysErr != 0 {
		t.Fatalf("RemoteToLocal.Transfer failed: %s (%d)", taskErr, sysErr)
	}

	roundTripped, err := os.ReadFile(filepath.Join(pullRoot, "dataset", "a.txt"))
	if err != nil {
		t.Fatalf("pulled file missing: %v", err)
	}
	if string(roundTripped) != "aaa" {
		t.Fatalf("pulled content = %q", roundTripped)
	}

	// No .tar artifact on the pulling side either.
	pullEntries, err := os.ReadDir(pullRoot)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range pullEntries {
		if strings.HasSuffix(e.Name(), ".tar") {
			t.Fatalf("leftover tar artifact on the local side: %s", e.Name())
		}
	}
}

func TestLocalToRemoteThenRemoteToLocalRoundTripsAPlainFile(t *testing.T) {
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcRoot, "payload.bin"), []byte("norns payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	dstReg := nsreg.New()
	dstBackend := resource.NewPosixFilesystem("remote", dstRoot, 0, false)
	if err := dstReg.Register("remote", dstBackend); err != nil {
		t.Fatal(err)
	}
	addr := startRemotePeer(t, dstReg)

	engine := rdma.New()
	client := peer.NewClient(2 * time.Second)
	srcBackend := resource.NewPosixFilesystem("local", srcRoot, 0, false)

	push := &LocalToRemote{Engine: engine, Client: client}
	pushSrc := &resource.LocalPathResource{ParentBackend: srcBackend, CanonicalPath: filepath.Join(srcRoot, "payload.bin"), Name: "payload.bin"}
	pushDst := &resource.RemoteResource{Address: addr, Name: "payload.bin"}
	taskErr, sysErr := push.Transfer(nil, pushSrc, pushDst)
	if taskErr != "" || sysErr != 0 {
		t.Fatalf("LocalToRemote.Transfer failed: %s (%d)", taskErr, sysErr)
	}

	got, err := os.ReadFile(filepath.Join(dstRoot, "payload.bin"))
	if err != nil {
		t.Fatalf("landed file missing: %v", err)
	}
	if string(got) != "norns payload" {
		t.Fatalf("landed content = %q", got)
	}

	pullRoot := t.TempDir()
	pullBackend := resource.NewPosixFilesystem("local2", pullRoot, 0, false)
	pull := &RemoteToLocal{Client: client}
	pullSrc := &resource.RemoteResource{Address: addr, Name: "payload.bin"}
	pullDst := &resource.LocalPathResource{ParentBackend: pullBackend, CanonicalPath: filepath.Join(pullRoot, "payload.bin"), Name: "payload.bin"}
	taskErr, sysErr = pull.Transfer(nil, pullSrc, pullDst)
	if taskErr != "" || sysErr != 0 {
		t.Fatalf("RemoteToLocal.Transfer failed: %s (%d)", taskErr, sysErr)
	}
	roundTripped, err := os.ReadFile(filepath.Join(pullRoot, "payload.bin"))
	if err != nil {
		t.Fatalf("pulled file missing: %v", err)
	}
	if string(roundTripped) != "norns payload" {
		t.Fatalf("pulled content = %q", roundTripped)
	}
}

// TestMemRegionToRemotePushesOwnAddressSpace exercises MemRegionToRemote's
// cross-process read against the test process's own pid. process_vm_readv
// requires CAP_SYS_PTRACE (or a matching uid plus permissive Yama ptrace
// scope) even for same-process reads in some sandboxes, so an EPERM/ESRCH
// here is treated as an environment limitation, not a test failure.
func TestMemRegionToRemotePushesOwnAddressSpace(t *testing.T) {
	payload := []byte("cross-process-bytes")
	dstRoot := t.TempDir()

	dstReg := nsreg.New()
	dstBackend := resource.NewPosixFilesystem("remote", dstRoot, 0, false)
	if err := dstReg.Register("remote", dstBackend); err != nil {
		t.Fatal(err)
	}
	addr := startRemotePeer(t, dstReg)

	engine := rdma.New()
	client := peer.NewClient(2 * time.Second)
	strat := &MemRegionToRemote{Engine: engine, Client: client}

	src := &resource.MemoryRegionResource{
		PID:     os.Getpid(),
		Address: addressOf(payload),
		Size:    uint64(len(payload)),
	}
	dst := &resource.RemoteResource{Address: addr, Name: "region.bin"}

	taskErr, sysErr := strat.Transfer(nil, src, dst)
	if taskErr != "" {
		if isPermissionDenied(taskErr) {
			t.Skipf("process_vm_readv denied in this sandbox: %s", taskErr)
		}
		t.Fatalf("MemRegionToRemote.Transfer failed: %s (%d)", taskErr, sysErr)
	}

	got, err := os.ReadFile(filepath.Join(dstRoot, "region.bin"))
	if err != nil {
		t.Fatalf("landed region missing: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("landed region content = %q, want %q", got, payload)
	}
}

func isPermissionDenied(msg string) bool {
	return strings.Contains(msg, "operation not permitted") || strings.Contains(msg, "permission denied")
}

// addressOf returns the address of b's backing array, the form
// MemRegionToRemote's cross-process read expects (spec §4.7.2).
func addressOf(b []byte) uint64 {
	return uint64(uintptr(unsafe.Pointer(unsafe.SliceData(b))))
}
