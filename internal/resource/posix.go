package resource

import (
	"os"
	"path/filepath"

	"github.com/NGIOproject/norns-go/internal/cos"
)

// PosixFilesystem is a POSIX-mounted backend: the common driver behind both
// a plain local filesystem and (via Lustre, below) a parallel filesystem
// mount — both resolve LocalPath resources the same way (spec §3, §4.1).
type PosixFilesystem struct {
	nsid  string
	mount string
	quota uint64
	track bool
	kind  BackendKind
}

func NewPosixFilesystem(nsid, mount string, quota uint64, track bool) *PosixFilesystem {
	return &PosixFilesystem{nsid: nsid, mount: filepath.Clean(mount), quota: quota, track: track, kind: BackendPosixFilesystem}
}

func (b *PosixFilesystem) Nsid() string        { return b.nsid }
func (b *PosixFilesystem) Kind() BackendKind    { return b.kind }
func (b *PosixFilesystem) IsTracked() bool      { return b.track }
func (b *PosixFilesystem) Mount() string        { return b.mount }
func (b *PosixFilesystem) Quota() uint64        { return b.quota }
func (b *PosixFilesystem) String() string       { return b.kind.String() + "[" + b.nsid + "@" + b.mount + "]" }

func (b *PosixFilesystem) IsEmpty() bool {
	entries, err := os.ReadDir(b.mount)
	if err != nil {
		return true
	}
	return len(entries) == 0
}

func (b *PosixFilesystem) Accepts(info Info) bool {
	return info.Kind == KindLocalPath && info.Nsid == b.nsid
}

// lexicalSubpath collapses `.`/`..` in name and rejects escapes of the mount,
// mirroring original_source/src/backends/posix-fs.cpp's utils::lexical_normalize.
func (b *PosixFilesystem) lexicalSubpath(name string) (string, bool) {
	if name == "" {
		name = "/"
	}
	clean, ok := cos.NormalizeUnder(b.mount, name)
	return clean, ok
}

func (b *PosixFilesystem) NewResource(info Info, isCollection bool) (Resource, error) {
	sub, ok := b.lexicalSubpath(info.Name)
	if !ok {
		return nil, cos.NewError(cos.BadArgs, "path escapes namespace mount")
	}
	parent := filepath.Dir(sub)
	if parent != "" && parent != string(filepath.Separator) && parent != b.mount {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, err
		}
	}
	if !isCollection {
		f, err := os.OpenFile(sub, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		f.Close()
	} else if err := os.MkdirAll(sub, 0o755); err != nil {
		return nil, err
	}
	return &LocalPathResource{ParentBackend: b, CanonicalPath: sub, Name: info.Name, Collection: isCollection}, nil
}

// GetResource resolves an existing path, refusing to follow a symlink that
// would land outside the mount even though the lexical (pre-symlink) path
// looked safe — spec §4.1's security invariant, §8's "Path safety" property.
func (b *PosixFilesystem) GetResource(info Info) (Resource, error) {
	sub, ok := b.lexicalSubpath(info.Name)
	if !ok {
		return nil, cos.NewError(cos.NoSuchNamespace, "path escapes namespace mount")
	}
	real, err := filepath.EvalSymlinks(sub)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cos.NewError(cos.NoSuchNamespace, "not found")
		}
		return nil, err
	}
	if !cos.IsContained(b.mount, real) {
		// a symlink resolved outside the mount: report not-found rather than
		// leaking whether the target exists (spec §4.1).
		return nil, cos.NewError(cos.NoSuchNamespace, "not found")
	}
	fi, err := os.Stat(real)
	if err != nil {
		return nil, cos.NewError(cos.NoSuchNamespace, "not found")
	}
	rel, err := filepath.Rel(b.mount, real)
	if err != nil {
		return nil, cos.NewError(cos.NoSuchNamespace, "not found")
	}
	if rel == "." {
		rel = string(filepath.Separator)
	} else {
		rel = string(filepath.Separator) + rel
	}
	return &LocalPathResource{ParentBackend: b, CanonicalPath: real, Name: rel, Collection: fi.IsDir()}, nil
}

func (b *PosixFilesystem) Remove(res Resource) error {
	lp, ok := res.(*LocalPathResource)
	if !ok {
		return cos.NewError(cos.BadArgs, "not a local-path resource")
	}
	if !cos.IsContained(b.mount, lp.CanonicalPath) {
		return cos.NewError(cos.BadArgs, "path escapes namespace mount")
	}
	return os.RemoveAll(lp.CanonicalPath)
}

func (b *PosixFilesystem) GetSize(info Info) (uint64, error) {
	res, err := b.GetResource(info)
	if err != nil {
		return 0, err
	}
	lp := res.(*LocalPathResource)
	if !lp.Collection {
		fi, err := os.Stat(lp.CanonicalPath)
		if err != nil {
			return 0, err
		}
		return uint64(fi.Size()), nil
	}
	var total uint64
	err = filepath.Walk(lp.CanonicalPath, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.Mode().IsRegular() {
			total += uint64(fi.Size())
		}
		return nil
	})
	return total, err
}

// Lustre wraps PosixFilesystem: same resolve/create semantics over a
// parallel-filesystem mount, plus a project-quota id enforced out of band by
// `lfs setquota` at registration time (spec §3 Backend variants).
type Lustre struct {
	*PosixFilesystem
	ProjectID uint32
}

func NewLustre(nsid, mount string, quota uint64, projectID uint32) *Lustre {
	pf := NewPosixFilesystem(nsid, mount, quota, true)
	pf.kind = BackendLustre
	return &Lustre{PosixFilesystem: pf, ProjectID: projectID}
}
