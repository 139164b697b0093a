package transfer

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/NGIOproject/norns-go/internal/archive"
	"github.com/NGIOproject/norns-go/internal/cos"
	"github.com/NGIOproject/norns-go/internal/peer"
	"github.com/NGIOproject/norns-go/internal/rdma"
	"github.com/NGIOproject/norns-go/internal/resource"
	"github.com/NGIOproject/norns-go/internal/task"
)

// MemRegionToRemote is strategy 4 of spec §4.7: MemoryRegion → Remote. The
// user's region is first materialized into a temporary file via a
// cross-process read, remapped read-only, then pushed exactly as strategy 3.
type MemRegionToRemote struct {
	Engine *rdma.Engine
	Client *peer.Client
}

func NewMemRegionToRemote(e *rdma.Engine, c *peer.Client) *MemRegionToRemote {
	return &MemRegionToRemote{Engine: e, Client: c}
}

func (MemRegionToRemote) Validate(src, dst resource.Info) bool {
	return src.Size > 0 && dst.Peer.Host != ""
}

func (t *MemRegionToRemote) Transfer(ti *task.Info, srcRes, dstRes resource.Resource) (string, int32) {
	src, ok := srcRes.(*resource.MemoryRegionResource)
	if !ok {
		return "source is not a memory region", int32(cos.BadArgs)
	}
	dst, ok := dstRes.(*resource.RemoteResource)
	if !ok {
		return "destination is not remote", int32(cos.BadArgs)
	}
	if src.Size == 0 {
		return "empty memory region", int32(cos.BadArgs)
	}

	tmp, err := archive.NewTempFile(os.TempDir(), ".norns-memregion-*")
	if err != nil {
		return err.Error(), int32(cos.Snafu)
	}
	defer tmp.Close()
	f, err := os.OpenFile(tmp.Path, os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err.Error(), int32(cos.Snafu)
	}
	if err := rdma.Preallocate(f, int64(src.Size)); err != nil {
		f.Close()
		return err.Error(), int32(cos.Snafu)
	}
	mapping, err := unix.Mmap(int(f.Fd()), 0, int(src.Size), unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return err.Error(), int32(cos.Snafu)
	}
	if err := rdma.CrossProcessRead(src.PID, src.Address, mapping); err != nil {
		unix.Munmap(mapping)
		f.Close()
		return "i/o error: " + err.Error(), int32(cos.Snafu)
	}
	unix.Munmap(mapping)
	f.Close()

	buf, err := t.Engine.Expose(tmp.Path, 0, rdma.ReadOnly)
	if err != nil {
		return err.Error(), int32(cos.Snafu)
	}
	defer t.Engine.Release(buf.Handle)

	dstNsid := dst.Name
	if ti != nil && ti.DstNsid != "" {
		dstNsid = ti.DstNsid
	}
	meta := peer.TransferMeta{
		DstNsid: dstNsid, SrcKind: uint8(resource.KindMemoryRegion),
		SrcName: "", DstName: dst.Name,
	}
	result, err := t.Client.PushResource(dst.Address, meta, readerOf(buf))
	if err != nil {
		return err.Error(), int32(cos.RpcSendFailed)
	}
	if result.Status != uint8(cos.Success) {
		return result.TaskError, result.SysErrnum
	}
	if ti != nil {
		ti.AddSent(src.Size)
	}
	return "", 0
}
