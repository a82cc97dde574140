// Package pathutil provides the small set of path-string helpers that the
// script host injects into the embedded Lua runtime's string library.
package pathutil

import "path/filepath"

// Basename returns the final element of path, mirroring filepath.Base
// except that it reports absence (ok=false) the way the Lua binding needs
// to: an empty or "." input has no meaningful basename to hand back.
func Basename(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	base := filepath.Base(path)
	if base == "." || base == string(filepath.Separator) {
		return "", false
	}
	return base, true
}

// Dirname returns the directory portion of path. Returns ok=false only when
// path is empty, matching the Lua binding's "nothing when undefined" rule.
func Dirname(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	return filepath.Dir(path), true
}

// Ext returns the file extension of path without the leading dot. Returns
// ok=false when path has no extension.
func Ext(path string) (string, bool) {
	e := filepath.Ext(path)
	if e == "" {
		return "", false
	}
	return e[1:], true
}
