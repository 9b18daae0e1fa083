package tree

import "strings"

// normalize converts a path to the canonical form used as an arena index
// key: leading slash, no trailing slash (except the root itself), forward
// slashes only.
func normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}

	return p
}

// joinPath appends name to the directory path parent, producing a
// normalized child path. parent must already be normalized.
func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}

	return parent + "/" + name
}

// parentOf returns the normalized parent directory path of p.
func parentOf(p string) string {
	p = normalize(p)
	if p == "/" {
		return "/"
	}

	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return "/"
	}

	return p[:idx]
}

// baseOf returns the final path component of p.
func baseOf(p string) string {
	p = normalize(p)
	if p == "/" {
		return ""
	}

	idx := strings.LastIndex(p, "/")

	return p[idx+1:]
}
