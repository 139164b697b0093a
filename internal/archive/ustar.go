// Package archive packs and unpacks the USTAR archives spec §6 requires
// whenever a directory crosses a node boundary, using the standard library's
// archive/tar in USTAR mode — the same primitive the teacher's own
// cmn/archive package builds its writers on — plus github.com/karrick/godirwalk
// for the recursive directory walk that both packing and its size estimator
// need.
/*
 * Copyright (c) 2024, NGIOproject.
 */
package archive

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/karrick/godirwalk"

	"github.com/NGIOproject/norns-go/internal/cos"
)

const blockSize = 512

// EstimateSize returns the exact byte size §8's "archive estimator
// faithfulness" property demands: one header block per entry below root
// (root itself gets no entry, as in Pack), plus ceil(size/512)*512 data
// blocks for regular files, plus the two trailing zero blocks that mark EOF.
// No compression is involved, so this is computable without ever writing a
// byte.
func EstimateSize(root string) (int64, error) {
	var total int64
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if rel, err := filepath.Rel(root, path); err == nil && rel == "." {
				return nil
			}
			fi, err := os.Lstat(path)
			if err != nil {
				return err
			}
			total += blockSize // header block, every entry
			if fi.Mode().IsRegular() {
				total += dataBlocks(fi.Size())
			}
			return nil
		},
	})
	if err != nil {
		return 0, cos.NewError(cos.Snafu, err.Error())
	}
	total += 2 * blockSize // trailing EOF marker
	return total, nil
}

func dataBlocks(size int64) int64 {
	return ((size + blockSize - 1) / blockSize) * blockSize
}

// Pack writes root (a directory) into w as a USTAR-format archive whose
// entry names are relative to root.
func Pack(w io.Writer, root string) error {
	tw := tar.NewWriter(w)
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}
			fi, err := os.Lstat(path)
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(fi, "")
			if err != nil {
				return err
			}
			hdr.Name = filepath.ToSlash(rel)
			hdr.Format = tar.FormatUSTAR
			// USTAR has no fields for access/change times; left set, they make
			// WriteHeader refuse the entry.
			hdr.AccessTime, hdr.ChangeTime = time.Time{}, time.Time{}
			if de.IsDir() {
				hdr.Name += "/"
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			if de.IsDir() || !fi.Mode().IsRegular() {
				return nil
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(tw, f)
			return err
		},
	})
	if err != nil {
		return cos.NewError(cos.Snafu, err.Error())
	}
	return tw.Close()
}

// Unpack extracts r into destDir. Entries with ".." components or whose
// resolved target escapes destDir are refused (spec §6: "Extraction refuses
// entries with .. components or symlink-escaping targets").
func Unpack(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return cos.NewError(cos.Snafu, err.Error())
		}
		if err := unpackEntry(tr, hdr, destDir); err != nil {
			return err
		}
	}
}

func unpackEntry(r io.Reader, hdr *tar.Header, destDir string) error {
	clean := filepath.Clean(hdr.Name)
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(clean, "/../") {
		return cos.NewError(cos.BadArgs, "archive entry escapes destination: "+hdr.Name)
	}
	target := filepath.Join(destDir, clean)
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return cos.NewError(cos.BadArgs, "archive entry escapes destination: "+hdr.Name)
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, 0o755)
	case tar.TypeSymlink, tar.TypeLink:
		return cos.NewError(cos.BadArgs, "archive entry is a link, refused: "+hdr.Name)
	default:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return cos.NewError(cos.Snafu, err.Error())
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
		if err != nil {
			return cos.NewError(cos.Snafu, err.Error())
		}
		defer f.Close()
		if _, err := io.Copy(f, r); err != nil {
			return cos.NewError(cos.Snafu, err.Error())
		}
		return nil
	}
}
