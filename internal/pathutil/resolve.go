// Package pathutil resolves operator supplied paths.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveAbsolutePath converts a possibly relative, possibly "~" prefixed
// path to an absolute one. Symlinks in the existing portion of the path are
// resolved and any components that do not exist yet are appended unchanged,
// so output directories can be resolved before they are created.
func ResolveAbsolutePath(path string) (string, error) {
	if path == "" {
		return os.Getwd()
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = home + path[1:]
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	// Fast path if it exists
	resolved, err := filepath.EvalSymlinks(absPath)
	if err == nil {
		return resolved, nil
	}

	// Find the deepest existing ancestor, resolve it, then append the rest
	current := absPath
	var remainder []string

	for {
		if _, err := os.Stat(current); err == nil {
			resolved, err := filepath.EvalSymlinks(current)
			if err != nil {
				resolved = current
			}
			for i := len(remainder) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, remainder[i])
			}
			return resolved, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return absPath, nil
		}
		remainder = append(remainder, filepath.Base(current))
		current = parent
	}
}

// TrimExt removes ext from the end of path when present. Unlike
// strings.TrimSuffix it reports whether anything was removed.
func TrimExt(path string, exts ...string) (string, bool) {
	for _, ext := range exts {
		if strings.HasSuffix(path, ext) {
			return path[:len(path)-len(ext)], true
		}
	}
	return path, false
}
