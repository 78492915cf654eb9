package filesystem

import (
	"path"
)

// NormalizePath cleans p into the canonical absolute form plugins use as a
// lookup key: a leading slash, no trailing slash except for the root itself,
// and no "." or ".." segments. The empty string normalizes to "/".
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}
