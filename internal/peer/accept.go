package peer

import (
	"io"
	"os"
	"path/filepath"

	"github.com/NGIOproject/norns-go/internal/archive"
	"github.com/NGIOproject/norns-go/internal/cos"
	"github.com/NGIOproject/norns-go/internal/nlog"
	"github.com/NGIOproject/norns-go/internal/nsreg"
	"github.com/NGIOproject/norns-go/internal/resource"
	"github.com/NGIOproject/norns-go/internal/task"
)

// AcceptHandlers implements Handlers against a local namespace registry: the
// realization of spec §4.7's "remote side" callbacks — accept_transfer for
// push (receive into a landing file, unpack if a collection, promote) and
// for pull (open or pack the requested local source, stream it out). When
// Tasks is set, every completed push/pull also registers a terminal,
// remote-initiated TaskInfo (create_remote_initiated_task's bookkeeping
// half, spec §4.6) so the receiving node's own IoTaskStatus/global_stats see
// it too; Tasks may be left nil in tests that only care about the byte path.
type AcceptHandlers struct {
	Nsreg *nsreg.Registry
	Tasks *task.Manager
}

func NewAcceptHandlers(reg *nsreg.Registry, tasks *task.Manager) *AcceptHandlers {
	return &AcceptHandlers{Nsreg: reg, Tasks: tasks}
}

func (h *AcceptHandlers) recordRemote(srcNsid, dstNsid string, n uint64, result TransferResult) {
	if h.Tasks == nil {
		return
	}
	h.Tasks.RecordRemoteTask(task.Credentials{}, task.KindRemoteTransfer, srcNsid, dstNsid, n, result.TaskError, result.SysErrnum)
}

func (h *AcceptHandlers) HandleResourceStat(req StatRequest) StatResponse {
	backend, err := h.Nsreg.Lookup(req.SrcNsid)
	if err != nil {
		return StatResponse{TaskError: err.Error(), SysErrnum: int32(cos.CodeOf(err))}
	}
	info := resource.Info{Kind: resource.Kind(req.SrcKind), Nsid: req.SrcNsid, Name: req.SrcName}
	res, err := backend.GetResource(info)
	if err != nil {
		return StatResponse{TaskError: err.Error(), SysErrnum: int32(cos.CodeOf(err))}
	}
	var size uint64
	if size, err = backend.GetSize(info); err != nil {
		size = 0
	}
	packed := int64(size)
	if res.IsCollection() {
		lp, ok := res.(*resource.LocalPathResource)
		if ok {
			if est, err := archive.EstimateSize(lp.CanonicalPath); err == nil {
				packed = est
			}
		}
	}
	return StatResponse{IsCollection: res.IsCollection(), PackedSize: packed}
}

// HandlePushResource is accept_transfer for push_resource: create the local
// landing file, receive the bytes, unpack if the sender marked it a
// collection, then promote into place (spec §4.7 remote side of 3/4).
func (h *AcceptHandlers) HandlePushResource(meta TransferMeta, body io.Reader) TransferResult {
	result, n := h.handlePushResource(meta, body)
	h.recordRemote(meta.SrcNsid, meta.DstNsid, n, result)
	return result
}

func (h *AcceptHandlers) handlePushResource(meta TransferMeta, body io.Reader) (TransferResult, uint64) {
	backend, err := h.Nsreg.Lookup(meta.DstNsid)
	if err != nil {
		return errResult(err), 0
	}
	dstInfo := resource.Info{Kind: resource.KindLocalPath, Nsid: meta.DstNsid, Name: meta.DstName, IsCollection: meta.IsCollection}
	dstRes, err := backend.NewResource(dstInfo, meta.IsCollection)
	if err != nil {
		return errResult(err), 0
	}
	lp, ok := dstRes.(*resource.LocalPathResource)
	if !ok {
		return errResult(cos.NewError(cos.Snafu, "push destination is not a local path")), 0
	}

	if meta.IsCollection {
		if err := os.MkdirAll(lp.CanonicalPath, 0o755); err != nil {
			return errResult(cos.NewError(cos.Snafu, err.Error())), 0
		}
		if err := archive.Unpack(body, lp.CanonicalPath); err != nil {
			return errResult(err), 0
		}
		return TransferResult{Status: uint8(cos.Success)}, 0
	}

	tmp, err := archive.NewTempFile(filepath.Dir(lp.CanonicalPath), ".norns-push-*")
	if err != nil {
		return errResult(err), 0
	}
	defer tmp.Close()
	f, err := os.OpenFile(tmp.Path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errResult(cos.NewError(cos.Snafu, err.Error())), 0
	}
	n, err := io.Copy(f, body)
	if err != nil {
		f.Close()
		return errResult(cos.NewError(cos.Snafu, err.Error())), 0
	}
	f.Close()
	if err := os.Rename(tmp.Path, lp.CanonicalPath); err != nil {
		return errResult(cos.NewError(cos.Snafu, err.Error())), 0
	}
	tmp.Release()
	nlog.Infof("peer: landed push into %s", lp.CanonicalPath)
	return TransferResult{Status: uint8(cos.Success)}, uint64(n)
}

// HandlePullResource is accept_transfer for pull_resource: open (or pack)
// the requested local source read-only and hand back a reader (spec §4.7
// remote side of 5, which reuses 3's accept_transfer logic).
func (h *AcceptHandlers) HandlePullResource(meta TransferMeta) (TransferResult, io.ReadCloser) {
	result, n, rc := h.handlePullResource(meta)
	// Recorded at hand-off rather than after the client finishes reading rc:
	// the bytes are already committed to the response at this point (spec
	// §4.7 step 5 "pull"), and waiting for stream completion would require
	// this call to block on the peer's read pace.
	h.recordRemote(meta.SrcNsid, meta.DstNsid, n, result)
	return result, rc
}

func (h *AcceptHandlers) handlePullResource(meta TransferMeta) (TransferResult, uint64, io.ReadCloser) {
	backend, err := h.Nsreg.Lookup(meta.SrcNsid)
	if err != nil {
		return errResult(err), 0, nil
	}
	srcInfo := resource.Info{Kind: resource.Kind(meta.SrcKind), Nsid: meta.SrcNsid, Name: meta.SrcName}
	srcRes, err := backend.GetResource(srcInfo)
	if err != nil {
		return errResult(err), 0, nil
	}
	lp, ok := srcRes.(*resource.LocalPathResource)
	if !ok {
		return errResult(cos.NewError(cos.Snafu, "pull source is not a local path")), 0, nil
	}

	if lp.IsCollection() {
		tmp, err := archive.NewTempFile(os.TempDir(), ".norns-pull-*.tar")
		if err != nil {
			return errResult(err), 0, nil
		}
		f, err := os.OpenFile(tmp.Path, os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			tmp.Close()
			return errResult(cos.NewError(cos.Snafu, err.Error())), 0, nil
		}
		if err := archive.Pack(f, lp.CanonicalPath); err != nil {
			f.Close()
			tmp.Close()
			return errResult(err), 0, nil
		}
		f.Close()
		r, err := os.Open(tmp.Path)
		if err != nil {
			tmp.Close()
			return errResult(cos.NewError(cos.Snafu, err.Error())), 0, nil
		}
		var size uint64
		if st, statErr := r.Stat(); statErr == nil {
			size = uint64(st.Size())
		}
		return TransferResult{Status: uint8(cos.Success)}, size, &removeOnCloseFile{File: r, path: tmp.Path}
	}

	f, err := os.Open(lp.CanonicalPath)
	if err != nil {
		return errResult(cos.NewError(cos.Snafu, err.Error())), 0, nil
	}
	var size uint64
	if st, statErr := f.Stat(); statErr == nil {
		size = uint64(st.Size())
	}
	return TransferResult{Status: uint8(cos.Success)}, size, f
}

func errResult(err error) TransferResult {
	return TransferResult{Status: uint8(cos.CodeOf(err)), TaskError: err.Error()}
}

// removeOnCloseFile deletes its backing temporary archive once read to
// completion (spec §9 "Archive lifecycle"): the owning handle's cleanup
// runs on the Close that ends the HTTP response stream.
type removeOnCloseFile struct {
	*os.File
	path string
}

func (r *removeOnCloseFile) Close() error {
	err := r.File.Close()
	os.Remove(r.path)
	return err
}
