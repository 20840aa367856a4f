// Package security holds the checks applied to file paths built from
// request parameters.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxFilenameLen bounds SanitizeFilename output.
const maxFilenameLen = 96

// ValidatePathWithinDirectory reports an error unless filePath, with its
// symlinks resolved, lies inside dir. Paths that do not exist yet are checked
// through their nearest existing parent, so a symlinked subdirectory cannot
// be used to escape.
func ValidatePathWithinDirectory(filePath, dir string) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}
	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("resolve directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalDir, canonicalPath(absPath))
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", filePath, dir)
	}
	return nil
}

// canonicalPath resolves symlinks in the longest existing prefix of an
// absolute path and re-appends the rest.
func canonicalPath(abs string) string {
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	for parent := filepath.Dir(abs); ; parent = filepath.Dir(parent) {
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rest, _ := filepath.Rel(parent, abs)
			return filepath.Join(resolved, rest)
		}
		if parent == filepath.Dir(parent) {
			return abs
		}
	}
}

// SanitizeFilename turns an arbitrary label into a safe file name: ASCII
// letters, digits, dot, underscore and dash survive, runs of anything else
// become one underscore. Empty results become "unknown".
func SanitizeFilename(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
