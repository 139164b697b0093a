package transfer

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/NGIOproject/norns-go/internal/cos"
	"github.com/NGIOproject/norns-go/internal/rdma"
	"github.com/NGIOproject/norns-go/internal/resource"
	"github.com/NGIOproject/norns-go/internal/task"
)

// MemRegionToLocal is strategy 2 of spec §4.7: MemoryRegion → LocalPath.
// Creates the target, preallocates it, maps it writable, and issues a
// cross-process read from the owner's pid directly into the mapping.
type MemRegionToLocal struct{}

func (MemRegionToLocal) Validate(src, dst resource.Info) bool {
	return src.Size > 0
}

func (MemRegionToLocal) Transfer(ti *task.Info, srcRes, dstRes resource.Resource) (string, int32) {
	src, ok := srcRes.(*resource.MemoryRegionResource)
	if !ok {
		return "source is not a memory region", int32(cos.BadArgs)
	}
	dst, ok := dstRes.(*resource.LocalPathResource)
	if !ok {
		return "destination is not a local path", int32(cos.BadArgs)
	}
	if fi, err := os.Stat(dst.CanonicalPath); err == nil && fi.IsDir() {
		return "destination resolves to a directory", int32(cos.BadArgs)
	}
	if src.Size == 0 {
		return "empty memory region", int32(cos.BadArgs)
	}

	if err := os.MkdirAll(filepath.Dir(dst.CanonicalPath), 0o755); err != nil {
		return err.Error(), int32(cos.Snafu)
	}
	f, err := os.OpenFile(dst.CanonicalPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err.Error(), int32(cos.Snafu)
	}
	defer f.Close()
	if err := rdma.Preallocate(f, int64(src.Size)); err != nil {
		return err.Error(), int32(cos.Snafu)
	}

	mapping, err := unix.Mmap(int(f.Fd()), 0, int(src.Size), unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return err.Error(), int32(cos.Snafu)
	}
	defer unix.Munmap(mapping)

	if err := rdma.CrossProcessRead(src.PID, src.Address, mapping); err != nil {
		return "i/o error: " + err.Error(), int32(cos.Snafu)
	}
	if ti != nil {
		ti.AddSent(src.Size)
	}
	return "", 0
}
