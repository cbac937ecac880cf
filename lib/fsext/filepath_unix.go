//go:build unix

package fsext

import (
	"path"
	"strings"
)

// JoinFilePath joins a base directory with a path fragment that may
// itself be absolute (as import specifiers resolved against a pwd often
// are), stripping redundant leading slashes from p rather than letting
// them escape the join the way path.Join alone would.
func JoinFilePath(b, p string) string {
	return path.Join(b, strings.TrimLeft(p, "/"))
}

// Abs resolves p to an absolute path, using root as the base when p is
// itself relative.
func Abs(root, p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Clean(path.Join(root, p))
}
