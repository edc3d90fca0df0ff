package mount

import (
	"strings"

	"github.com/weftfs/weft/internal/werrors"
)

// splitPath turns an absolute slash-separated path into its components,
// dropping empty segments from a leading/trailing/doubled slash.
func splitPath(path string) []string {
	raw := strings.Split(path, "/")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// joinPath renders components back into the canonical absolute form.
func joinPath(parts []string) string {
	return "/" + strings.Join(parts, "/")
}

// dirKey returns the internal cache key (Mount.nodes/Mount.dirty) for the
// directory named by parts: "" for the root, joinPath(parts) otherwise.
// Distinct from joinPath's own "/" rendering of the empty path, which is
// used only for human-facing error messages.
func dirKey(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	return joinPath(parts)
}

// isPrefix reports whether a is parts[:len(a)] of b, and is strictly
// shorter — i.e. b is a proper descendant of a. Used by mv's MoveIntoSelf
// check.
func isPrefix(a, b []string) bool {
	if len(a) >= len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func samePath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func errPathNotFound(path string) error {
	return werrors.New(werrors.PathNotFound, path, nil)
}
