package archive

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.txt"), bytes.Repeat([]byte("x"), 100), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "b.txt"), bytes.Repeat([]byte("y"), 1000), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestEstimateSizeMatchesPackedSize(t *testing.T) {
	root := buildTree(t)
	estimated, err := EstimateSize(root)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := Pack(&buf, root); err != nil {
		t.Fatal(err)
	}
	if int64(buf.Len()) != estimated {
		t.Fatalf("estimate %d != actual packed size %d", estimated, buf.Len())
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	root := buildTree(t)
	var buf bytes.Buffer
	if err := Pack(&buf, root); err != nil {
		t.Fatal(err)
	}
	dest := t.TempDir()
	if err := Unpack(&buf, dest); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "sub", "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1000 {
		t.Fatalf("expected 1000 bytes, got %d", len(got))
	}
}

func TestUnpackRefusesPathEscape(t *testing.T) {
	hdr := &tar.Header{Name: "../escape.txt", Typeflag: tar.TypeReg, Size: 0}
	if err := unpackEntry(bytes.NewReader(nil), hdr, t.TempDir()); err == nil {
		t.Fatal("expected escape to be refused")
	}
}
