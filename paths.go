package ocfl

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidLogicalPath returns a non-nil error if p is not usable as a logical
// path: it must be valid UTF-8, relative, slash-separated, with no empty,
// '.', or '..' segments, and no NUL or backslash characters.
func ValidLogicalPath(p string) error {
	wrap := func(msg string) error {
		return fmt.Errorf("%w: logical path %q: %s", ErrInvalidInput, p, msg)
	}
	if p == "" {
		return wrap("empty path")
	}
	if !utf8.ValidString(p) {
		return wrap("not valid UTF-8")
	}
	if strings.ContainsAny(p, "\x00\\") {
		return wrap("illegal character")
	}
	if strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") {
		return wrap("leading or trailing slash")
	}
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "":
			return wrap("empty path segment")
		case ".", "..":
			return wrap("relative path segment")
		}
	}
	return nil
}
