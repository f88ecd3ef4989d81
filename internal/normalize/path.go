package normalize

import (
	"strings"
)

// NormalizePath converts a tool-reported file path to POSIX style, strips
// leading "./" prefixes, and collapses "segment/../" pairs. The result is
// idempotent under repeated application.
func NormalizePath(path string) string {
	p := strings.ReplaceAll(path, "\\", "/")

	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}

	// Collapse segment/.. pairs left to right. A leading ".." has no
	// preceding segment and is kept as-is.
	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == ".." && len(out) > 0 && out[len(out)-1] != ".." {
			out = out[:len(out)-1]
			continue
		}
		if seg == "." {
			continue
		}
		out = append(out, seg)
	}

	return strings.Join(out, "/")
}
