// Package gate implements the stability and safety checks that decide
// whether a source file may be admitted into quarantine.
package gate

import (
	"strings"
	"unicode/utf8"
)

// hasForbiddenByte reports whether name contains a control character or
// DEL, never allowed in a name.
func hasForbiddenByte(name string) bool {
	for i := 0; i < len(name); i++ {
		b := name[i]
		if b <= 0x1F || b == 0x7F {
			return true
		}
	}
	return false
}

// forbiddenSubstrings are sequences that are never allowed in a name,
// regardless of position.
var forbiddenSubstrings = []string{"..", ">", "<", "|", "*", "$", "&", ";", "`"}

// NameSafetyOptions configures IsSafeName.
type NameSafetyOptions struct {
	// AllowPathSeparators permits '/' in the name, for the path-mode
	// variant used when checking a relative path rather than a bare
	// filename.
	AllowPathSeparators bool
}

// IsSafeName reports whether name passes the name-safety predicate:
// valid UTF-8, no control bytes, none of the forbidden substrings, and
// it does not start with '-' or '.'.
func IsSafeName(name string, opts NameSafetyOptions) bool {
	if name == "" {
		return false
	}
	if !utf8.ValidString(name) {
		return false
	}
	if hasForbiddenByte(name) {
		return false
	}
	for _, bad := range forbiddenSubstrings {
		if strings.Contains(name, bad) {
			return false
		}
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return false
	}
	if !opts.AllowPathSeparators && strings.ContainsRune(name, '/') {
		return false
	}
	return true
}

// IsSafeRelativePath applies IsSafeName to each path segment of a
// relative path (the path-mode variant that permits '/' as a separator
// while still rejecting unsafe segments like "..").
func IsSafeRelativePath(relPath string) bool {
	if relPath == "" {
		return false
	}
	if !utf8.ValidString(relPath) {
		return false
	}
	segments := strings.Split(relPath, "/")
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if !IsSafeName(seg, NameSafetyOptions{}) {
			return false
		}
	}
	return true
}
