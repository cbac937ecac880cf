//go:build windows

package fsext

import (
	"path/filepath"
	"strings"
)

// JoinFilePath joins a base directory with a path fragment that may
// itself carry a leading separator, stripping it first so filepath.Join
// doesn't treat p as rooted at the volume.
func JoinFilePath(b, p string) string {
	return filepath.Join(b, strings.TrimLeft(p, `\`))
}

// Abs resolves p to an absolute path, using root as the base when p is
// itself relative. root is always assumed to already be rooted at a
// drive (as produced by the disk cache's drive-letter handling).
func Abs(root, p string) string {
	if strings.HasPrefix(p, `\`) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(root, p))
}
