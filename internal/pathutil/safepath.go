// Package pathutil validates blob names before they are joined onto a
// directory or an object prefix.
package pathutil

import (
	"strings"

	"github.com/keithlinneman/boardstate/internal/xerrors"
)

// HasDotSegments reports whether any path segment is "." or "..".
// Backslashes count as separators.
func HasDotSegments(p string) bool {
	for _, seg := range strings.FieldsFunc(p, isSep) {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return p == "." || p == ".."
}

func isSep(r rune) bool { return r == '/' || r == '\\' }

// CleanName returns name if it is a plain relative blob name: non-empty,
// slash separated, with no dot segments, NULs or leading separator.
func CleanName(name string) (string, error) {
	switch {
	case name == "":
		return "", xerrors.New("empty blob name")
	case strings.ContainsRune(name, 0):
		return "", xerrors.Newf("blob name %q contains NUL", name)
	case strings.ContainsRune(name, '\\'):
		return "", xerrors.Newf("blob name %q contains a backslash", name)
	case strings.HasPrefix(name, "/"):
		return "", xerrors.Newf("blob name %q is absolute", name)
	case HasDotSegments(name):
		return "", xerrors.Newf("blob name %q has dot segments", name)
	case strings.Contains(name, "//") || strings.HasSuffix(name, "/"):
		return "", xerrors.Newf("blob name %q has empty segments", name)
	}
	return name, nil
}
