package resource_test

import (
	"os"
	"path/filepath"

	"github.com/NGIOproject/norns-go/internal/resource"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// Exercises spec §8's "Path safety" property and the escape shapes originally
// tested in original_source/tests/utils-path-normalize.cpp: for every
// backend and every user-supplied path, GetResource must return not-found if
// the canonical resolution exits the mount, even through a symlink.
var _ = Describe("PosixFilesystem path safety", func() {
	var mount string
	var outside string
	var b *resource.PosixFilesystem

	BeforeEach(func() {
		mount = mustTempDir()
		outside = mustTempDir()
		b = resource.NewPosixFilesystem("ns0", mount, 16384, true)
	})

	AfterEach(func() {
		os.RemoveAll(mount)
		os.RemoveAll(outside)
	})

	It("rejects a lexical .. escape", func() {
		_, err := b.GetResource(resource.Info{Kind: resource.KindLocalPath, Nsid: "ns0", Name: "/../../../etc/passwd"})
		Expect(err).To(HaveOccurred())
	})

	It("rejects nested .. sequences that still net out above the mount", func() {
		_, err := b.GetResource(resource.Info{Kind: resource.KindLocalPath, Nsid: "ns0", Name: "/a/../../b"})
		Expect(err).To(HaveOccurred())
	})

	It("resolves a path fully contained in the mount", func() {
		f, err := os.Create(filepath.Join(mount, "file"))
		Expect(err).NotTo(HaveOccurred())
		f.Close()

		res, err := b.GetResource(resource.Info{Kind: resource.KindLocalPath, Nsid: "ns0", Name: "/file"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.IsCollection()).To(BeFalse())
	})

	It("rejects a symlink that escapes the mount even though the lexical path looks safe", func() {
		target := filepath.Join(outside, "secret")
		os.WriteFile(target, []byte("x"), 0o644)
		link := filepath.Join(mount, "escape-link")
		Expect(os.Symlink(target, link)).To(Succeed())

		_, err := b.GetResource(resource.Info{Kind: resource.KindLocalPath, Nsid: "ns0", Name: "/escape-link"})
		Expect(err).To(HaveOccurred())
	})

	It("resolves a symlink that stays inside the mount", func() {
		realFile := filepath.Join(mount, "real")
		os.WriteFile(realFile, []byte("x"), 0o644)
		link := filepath.Join(mount, "inside-link")
		Expect(os.Symlink(realFile, link)).To(Succeed())

		res, err := b.GetResource(resource.Info{Kind: resource.KindLocalPath, Nsid: "ns0", Name: "/inside-link"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.IsCollection()).To(BeFalse())
	})
})

func mustTempDir() string {
	d, err := os.MkdirTemp("", "norns-test-")
	if err != nil {
		panic(err)
	}
	return d
}
