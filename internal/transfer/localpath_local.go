package transfer

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/karrick/godirwalk"
	"golang.org/x/sync/errgroup"

	"github.com/NGIOproject/norns-go/internal/cos"
	"github.com/NGIOproject/norns-go/internal/rdma"
	"github.com/NGIOproject/norns-go/internal/resource"
	"github.com/NGIOproject/norns-go/internal/task"
)

// dirCopyConcurrency bounds how many files of one directory tree copy at
// once; unbounded fan-out would thrash the destination's I/O scheduler on
// spinning-disk backends.
const dirCopyConcurrency = 8

// LocalToLocal is strategy 1 of spec §4.7: LocalPath → LocalPath. Files
// stream via a preallocated destination and a retry-on-EINTR copy loop;
// directories recurse, copying their files concurrently.
type LocalToLocal struct{}

func (LocalToLocal) Validate(src, dst resource.Info) bool {
	return true
}

func (LocalToLocal) Transfer(ti *task.Info, srcRes, dstRes resource.Resource) (string, int32) {
	src, ok := srcRes.(*resource.LocalPathResource)
	if !ok {
		return "source is not a local path", int32(cos.BadArgs)
	}
	dst, ok := dstRes.(*resource.LocalPathResource)
	if !ok {
		return "destination is not a local path", int32(cos.BadArgs)
	}
	if src.IsCollection() {
		return copyDir(ti, src.CanonicalPath, dst.CanonicalPath)
	}
	return copyFile(ti, src.CanonicalPath, dst.CanonicalPath)
}

func copyFile(ti *task.Info, srcPath, dstPath string) (string, int32) {
	in, err := os.Open(srcPath)
	if err != nil {
		return err.Error(), int32(cos.Snafu)
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err.Error(), int32(cos.Snafu)
	}
	if fi.IsDir() {
		return "source resolves to a directory", int32(cos.BadArgs)
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return err.Error(), int32(cos.Snafu)
	}
	out, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err.Error(), int32(cos.Snafu)
	}
	defer out.Close()
	if err := rdma.Preallocate(out, fi.Size()); err != nil {
		return err.Error(), int32(cos.Snafu)
	}
	n, err := copyRetryEINTR(out, in)
	if ti != nil {
		ti.AddSent(uint64(n))
	}
	if err != nil {
		return err.Error(), int32(cos.Snafu)
	}
	return "", 0
}

// copyDir walks srcDir and fans file copies out across a bounded errgroup:
// directories are created inline (in walk order, so a file's parent always
// exists before its copy is scheduled) while regular files copy concurrently.
func copyDir(ti *task.Info, srcDir, dstDir string) (string, int32) {
	var (
		mu      sync.Mutex
		taskErr string
		sysErr  int32
		g       errgroup.Group
	)
	g.SetLimit(dirCopyConcurrency)

	walkErr := godirwalk.Walk(srcDir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			rel, err := filepath.Rel(srcDir, path)
			if err != nil {
				return err
			}
			target := filepath.Join(dstDir, rel)
			if de.IsDir() {
				return os.MkdirAll(target, 0o755)
			}
			g.Go(func() error {
				if e, s := copyFile(ti, path, target); e != "" {
					mu.Lock()
					taskErr, sysErr = e, s
					mu.Unlock()
				}
				return nil
			})
			return nil
		},
	})
	if err := g.Wait(); err != nil && walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		return walkErr.Error(), int32(cos.Snafu)
	}
	return taskErr, sysErr
}

// copyRetryEINTR streams src into dst, retrying interrupted reads/writes
// transparently as spec §7 requires of transferors.
func copyRetryEINTR(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 1<<20)
	var total int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			total += int64(w)
			if werr != nil {
				return total, werr
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			if isEINTR(rerr) {
				continue
			}
			return total, rerr
		}
	}
}

func isEINTR(err error) bool {
	type temporary interface{ Temporary() bool }
	if te, ok := err.(temporary); ok {
		return te.Temporary()
	}
	return false
}
