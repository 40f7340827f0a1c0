package filetool

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ListEntry is one file or directory returned by List.
type ListEntry struct {
	Path  string // relative to the tool's base directory
	IsDir bool
}

// List returns entries under path (relative to base). If recursive is
// true it walks the whole subtree; if glob is non-empty, entries are
// filtered against it (matched against the base-relative path).
func (t *Tool) List(root string, recursive bool, glob string) ([]ListEntry, error) {
	resolvedRoot, err := resolvePath(t.baseDir, root)
	if err != nil {
		return nil, err
	}

	var out []ListEntry
	walk := func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == resolvedRoot {
			return nil
		}
		rel, relErr := filepath.Rel(t.baseDir, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if glob != "" && !matchGlob(glob, rel) {
			if d.IsDir() && !recursive {
				return filepath.SkipDir
			}
			if d.IsDir() {
				return nil
			}
			return nil
		}
		out = append(out, ListEntry{Path: rel, IsDir: d.IsDir()})
		if d.IsDir() && !recursive {
			return filepath.SkipDir
		}
		return nil
	}

	if err := filepath.WalkDir(resolvedRoot, walk); err != nil {
		return nil, fmt.Errorf("list %q: %w", root, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
