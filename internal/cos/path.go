package cos

import (
	"path/filepath"
	"strings"
)

// NormalizeUnder lexically collapses `.`/`..` components in name against the
// mount root and rejects any result that escapes the mount — the security
// invariant from spec §4.1 ("symlink escape prevention"). It does NOT resolve
// symlinks (the caller must additionally Lstat/Readlink-walk the resolved
// path and re-check containment, since a symlink can point outside the mount
// even when the lexical path does not escape it).
//
// Returns the absolute, cleaned path and true if it is contained in mount;
// otherwise ("", false).
func NormalizeUnder(mount, name string) (string, bool) {
	mount = filepath.Clean(mount)
	// an absolute name is interpreted as rooted at the mount, exactly like a
	// chroot: "/b/c/d/file" under mount "/x/y" resolves to "/x/y/b/c/d/file".
	joined := filepath.Join(mount, name)
	clean := filepath.Clean(joined)
	return clean, IsContained(mount, clean)
}

// IsContained reports whether p is mount itself or lexically nested under it.
func IsContained(mount, p string) bool {
	mount = filepath.Clean(mount)
	p = filepath.Clean(p)
	if p == mount {
		return true
	}
	return strings.HasPrefix(p, mount+string(filepath.Separator))
}
