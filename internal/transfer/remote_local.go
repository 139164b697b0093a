package transfer

import (
	"os"
	"path/filepath"

	"github.com/NGIOproject/norns-go/internal/archive"
	"github.com/NGIOproject/norns-go/internal/cos"
	"github.com/NGIOproject/norns-go/internal/peer"
	"github.com/NGIOproject/norns-go/internal/resource"
	"github.com/NGIOproject/norns-go/internal/task"
)

// RemoteToLocal is strategy 5 of spec §4.7: Remote → LocalPath. It queries
// resource_stat to learn the packed size and collection flag, pulls into a
// local temporary, then either extracts (collections) or promotes
// (plain files) the temporary into its final name.
type RemoteToLocal struct {
	Client *peer.Client
}

func NewRemoteToLocal(c *peer.Client) *RemoteToLocal {
	return &RemoteToLocal{Client: c}
}

func (RemoteToLocal) Validate(src, dst resource.Info) bool {
	return src.Peer.Host != ""
}

func (t *RemoteToLocal) Transfer(ti *task.Info, srcRes, dstRes resource.Resource) (string, int32) {
	src, ok := srcRes.(*resource.RemoteResource)
	if !ok {
		return "source is not remote", int32(cos.BadArgs)
	}
	dst, ok := dstRes.(*resource.LocalPathResource)
	if !ok {
		return "destination is not a local path", int32(cos.BadArgs)
	}

	srcNsid := src.Name
	if ti != nil && ti.SrcNsid != "" {
		srcNsid = ti.SrcNsid
	}
	stat, err := t.Client.ResourceStat(src.Address, peer.StatRequest{
		SrcNsid: srcNsid, SrcKind: uint8(resource.KindLocalPath), SrcName: src.Name,
	})
	if err != nil {
		return err.Error(), int32(cos.RpcRecvFailed)
	}
	if stat.TaskError != "" {
		return stat.TaskError, stat.SysErrnum
	}

	if err := os.MkdirAll(filepath.Dir(dst.CanonicalPath), 0o755); err != nil {
		return err.Error(), int32(cos.Snafu)
	}

	var tmp *archive.TempFile
	if stat.IsCollection {
		tmp, err = archive.NewTempFile(os.TempDir(), ".norns-pull-*.tar")
	} else {
		tmp, err = archive.NewTempFile(filepath.Dir(dst.CanonicalPath), ".norns-pull-*")
	}
	if err != nil {
		return err.Error(), int32(cos.Snafu)
	}
	defer tmp.Close()

	f, err := os.OpenFile(tmp.Path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err.Error(), int32(cos.Snafu)
	}
	result, err := t.Client.PullResource(src.Address, peer.TransferMeta{
		SrcNsid: srcNsid, SrcKind: uint8(resource.KindLocalPath), IsCollection: stat.IsCollection,
		SrcName: src.Name, DstName: dst.Name,
	}, f)
	f.Close()
	if err != nil {
		return err.Error(), int32(cos.RpcRecvFailed)
	}
	if result.Status != uint8(cos.Success) {
		return result.TaskError, result.SysErrnum
	}
	if ti != nil {
		ti.AddSent(uint64(stat.PackedSize))
	}

	if stat.IsCollection {
		if err := os.MkdirAll(dst.CanonicalPath, 0o755); err != nil {
			return err.Error(), int32(cos.Snafu)
		}
		r, err := os.Open(tmp.Path)
		if err != nil {
			return err.Error(), int32(cos.Snafu)
		}
		defer r.Close()
		if err := archive.Unpack(r, dst.CanonicalPath); err != nil {
			return err.Error(), int32(cos.Snafu)
		}
		return "", 0
	}

	if err := os.Rename(tmp.Path, dst.CanonicalPath); err != nil {
		return err.Error(), int32(cos.Snafu)
	}
	tmp.Release()
	return "", 0
}
