// Package filetool implements the path-safe, cache-aware,
// modification-tracking filesystem surface described as the canonical
// stateful tool: read/write/list/search/delete/exists plus batch and
// recursive variants, all constrained to a configured base directory.
//
// Path resolution is ported from tools/file.rs's resolve_path: every
// incoming path is canonicalized (symlinks and ".." resolved) and checked
// against the canonicalized base directory, walking up to the nearest
// existing ancestor for paths that do not yet exist on disk.
package filetool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a resolved path would land outside the
// configured base directory.
var ErrPathEscape = errors.New("escapes allowed base directory")

// resolvePath resolves requested (absolute or relative to base) against
// baseDir (already canonicalized), rejecting any result that is not a
// descendant of baseDir. It never touches the filesystem beyond checking
// existence and resolving symlinks.
func resolvePath(baseDir, requested string) (string, error) {
	candidate := requested
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(baseDir, candidate)
	}
	candidate = filepath.Clean(candidate)

	if info, err := os.Lstat(candidate); err == nil {
		resolved, err := canonicalize(candidate, info)
		if err != nil {
			return "", fmt.Errorf("resolve %q: %w", requested, err)
		}
		if !isDescendant(baseDir, resolved) {
			return "", fmt.Errorf("%q %w %q", requested, ErrPathEscape, baseDir)
		}
		return resolved, nil
	}

	// Non-existent target: find the nearest existing ancestor, canonicalize
	// it, then rejoin the non-existent suffix without touching disk.
	ancestor, suffix, err := findExistingAncestor(baseDir, candidate)
	if err != nil {
		return "", err
	}
	resolvedAncestor, err := filepath.EvalSymlinks(ancestor)
	if err != nil {
		return "", fmt.Errorf("resolve ancestor %q: %w", ancestor, err)
	}
	if !isDescendant(baseDir, resolvedAncestor) {
		return "", fmt.Errorf("%q %w %q", requested, ErrPathEscape, baseDir)
	}

	result := normalizePath(filepath.Join(resolvedAncestor, suffix))
	if !isDescendant(baseDir, result) {
		return "", fmt.Errorf("%q %w %q", requested, ErrPathEscape, baseDir)
	}
	return result, nil
}

// canonicalize resolves symlinks for an existing path (including a
// symlink target itself).
func canonicalize(path string, info os.FileInfo) (string, error) {
	if info.Mode()&os.ModeSymlink != 0 {
		return filepath.EvalSymlinks(path)
	}
	return filepath.EvalSymlinks(path)
}

// findExistingAncestor walks up from candidate (which does not exist)
// until it finds a directory that does, returning that ancestor and the
// remaining relative suffix. It never walks above baseDir.
func findExistingAncestor(baseDir, candidate string) (ancestor, suffix string, err error) {
	rel, err := filepath.Rel(baseDir, candidate)
	if err != nil {
		return "", "", fmt.Errorf("compute relative path: %w", err)
	}
	if strings.HasPrefix(rel, "..") {
		return "", "", fmt.Errorf("%q %w %q", candidate, ErrPathEscape, baseDir)
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	cur := baseDir
	for i, part := range parts {
		if part == "" || part == "." {
			continue
		}
		next := filepath.Join(cur, part)
		if _, statErr := os.Lstat(next); statErr != nil {
			return cur, filepath.Join(parts[i:]...), nil
		}
		cur = next
	}
	return cur, "", nil
}

// normalizePath collapses "." and ".." segments purely lexically, without
// touching the filesystem — used for the suffix of a fully non-existent
// path.
func normalizePath(p string) string {
	return filepath.Clean(p)
}

// isDescendant reports whether target is equal to base or nested under it.
func isDescendant(base, target string) bool {
	base = filepath.Clean(base)
	target = filepath.Clean(target)
	if base == target {
		return true
	}
	return strings.HasPrefix(target, base+string(os.PathSeparator))
}
