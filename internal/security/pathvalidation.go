// Package security guards filesystem paths that arrive over the API.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideAllowed marks a path that escapes every directory the
// caller may write to.
var ErrOutsideAllowed = errors.New("path outside allowed directories")

// ValidatePathWithinDirectory reports whether path stays inside dir
// after resolving relative components and symlinks. Paths that do not
// exist yet are checked through their nearest existing ancestor, so a
// symlinked parent cannot smuggle a new file outside dir.
func ValidatePathWithinDirectory(path, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}

	canonicalPath := canonicalize(absPath)

	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("resolve directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalDir, canonicalPath)
	if err != nil {
		return fmt.Errorf("%w: %s is not under %s", ErrOutsideAllowed, path, dir)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s escapes %s", ErrOutsideAllowed, path, dir)
	}
	return nil
}

// canonicalize resolves symlinks in absPath. When the path does not
// exist yet, the nearest existing ancestor is resolved instead and the
// remaining components reattached.
func canonicalize(absPath string) string {
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved
	}
	for checkPath := absPath; ; {
		parent := filepath.Dir(checkPath)
		if parent == checkPath {
			// Walked to the root without finding anything on disk.
			return absPath
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, relErr := filepath.Rel(parent, absPath)
			if relErr != nil {
				return absPath
			}
			return filepath.Join(resolved, rel)
		}
		checkPath = parent
	}
}

// ValidatePathWithinAllowedDirs accepts path when it is inside at least
// one of dirs.
func ValidatePathWithinAllowedDirs(path string, dirs []string) error {
	if len(dirs) == 0 {
		return errors.New("no allowed directories specified")
	}
	for _, dir := range dirs {
		if err := ValidatePathWithinDirectory(path, dir); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be under one of %v", ErrOutsideAllowed, path, dirs)
}

// ValidateRecordPath checks a client-supplied recording destination.
// Sessions may be written under the configured record directory or the
// system temp directory; anything else is rejected.
func ValidateRecordPath(path, recordDir string) error {
	if recordDir == "" {
		recordDir = "."
	}
	return ValidatePathWithinAllowedDirs(path, []string{recordDir, os.TempDir()})
}
