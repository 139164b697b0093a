package transfer

import (
	"os"

	"github.com/NGIOproject/norns-go/internal/archive"
	"github.com/NGIOproject/norns-go/internal/cos"
	"github.com/NGIOproject/norns-go/internal/peer"
	"github.com/NGIOproject/norns-go/internal/rdma"
	"github.com/NGIOproject/norns-go/internal/resource"
	"github.com/NGIOproject/norns-go/internal/task"
)

// LocalToRemote is strategy 3 of spec §4.7: LocalPath → Remote. Directories
// are lazily packed into a temporary USTAR archive; the resulting file (or
// the original, for a plain file) is exposed through the RDMA engine and
// pushed to the peer's push_resource RPC.
type LocalToRemote struct {
	Engine *rdma.Engine
	Client *peer.Client
}

func NewLocalToRemote(e *rdma.Engine, c *peer.Client) *LocalToRemote {
	return &LocalToRemote{Engine: e, Client: c}
}

func (LocalToRemote) Validate(src, dst resource.Info) bool {
	return dst.Peer.Host != ""
}

func (t *LocalToRemote) Transfer(ti *task.Info, srcRes, dstRes resource.Resource) (string, int32) {
	src, ok := srcRes.(*resource.LocalPathResource)
	if !ok {
		return "source is not a local path", int32(cos.BadArgs)
	}
	dst, ok := dstRes.(*resource.RemoteResource)
	if !ok {
		return "destination is not remote", int32(cos.BadArgs)
	}

	path := src.CanonicalPath
	if src.IsCollection() {
		tmp, err := archive.NewTempFile(os.TempDir(), ".norns-push-*.tar")
		if err != nil {
			return err.Error(), int32(cos.Snafu)
		}
		defer tmp.Close()
		f, err := os.OpenFile(tmp.Path, os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return err.Error(), int32(cos.Snafu)
		}
		if err := archive.Pack(f, src.CanonicalPath); err != nil {
			f.Close()
			return err.Error(), int32(cos.Snafu)
		}
		f.Close()
		path = tmp.Path
	}

	buf, err := t.Engine.Expose(path, 0, rdma.ReadOnly)
	if err != nil {
		return err.Error(), int32(cos.Snafu)
	}
	defer t.Engine.Release(buf.Handle)

	dstNsid := dst.Name
	if ti != nil && ti.DstNsid != "" {
		dstNsid = ti.DstNsid
	}
	meta := peer.TransferMeta{
		SrcNsid: src.ParentBackend.Nsid(), DstNsid: dstNsid,
		SrcKind: uint8(resource.KindLocalPath), IsCollection: src.IsCollection(),
		SrcName: src.Name, DstName: dst.Name,
	}
	result, err := t.Client.PushResource(dst.Address, meta, readerOf(buf))
	if err != nil {
		return err.Error(), int32(cos.RpcSendFailed)
	}
	if result.Status != uint8(cos.Success) {
		return result.TaskError, result.SysErrnum
	}
	if ti != nil {
		ti.AddSent(uint64(len(buf.Bytes())))
	}
	return "", 0
}
