package archive

import (
	"os"

	"github.com/NGIOproject/norns-go/internal/cos"
)

// TempFile is the scoped owning handle spec §9 "Archive lifecycle" asks
// for: a temporary artifact (a packed .tar, or a materialized memory
// region) that is removed on every exit path unless the caller explicitly
// Releases it — at which point ownership of the path passes to the caller
// (typically right before os.Rename into its final name).
type TempFile struct {
	Path     string
	released bool
}

// NewTempFile creates an empty temporary file in dir.
func NewTempFile(dir, pattern string) (*TempFile, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, cos.NewError(cos.Snafu, err.Error())
	}
	path := f.Name()
	f.Close()
	return &TempFile{Path: path}, nil
}

// Release disarms cleanup: the caller has taken ownership of Path (usually
// by renaming it into place) and Close must no longer remove it.
func (t *TempFile) Release() {
	t.released = true
}

// Close removes the temporary artifact unless Release was called. Safe to
// call unconditionally via defer on every exit path, per spec §9.
func (t *TempFile) Close() error {
	if t.released {
		return nil
	}
	err := os.Remove(t.Path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
