package filetool

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/lhwzds/agentcore/internal/tokenest"
)

// DefaultMaxSearchMatches caps how many matches Search returns by default.
const DefaultMaxSearchMatches = 100

// searchContentTruncateCap is the per-match content truncation length.
const searchContentTruncateCap = 200

var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".pdf": true, ".zip": true, ".gz": true, ".tar": true, ".exe": true,
	".bin": true, ".so": true, ".dylib": true, ".dll": true, ".wasm": true,
	".woff": true, ".woff2": true, ".ttf": true, ".mp3": true, ".mp4": true,
	".mov": true, ".db": true, ".sqlite": true,
}

// SearchMatch is a single regex content match.
type SearchMatch struct {
	File    string
	Line    int
	Content string
}

// SearchResult wraps matches with a truncation flag.
type SearchResult struct {
	Matches   []SearchMatch
	Truncated bool
}

// Search walks root (relative to base) and returns up to maxMatches lines
// matching pattern. filenameGlob, if non-empty, filters by basename or
// base-relative path. Binary-looking files are skipped by extension.
func (t *Tool) Search(root, pattern, filenameGlob string, maxMatches int) (SearchResult, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return SearchResult{}, fmt.Errorf("compile search pattern %q: %w", pattern, err)
	}
	if maxMatches <= 0 {
		maxMatches = DefaultMaxSearchMatches
	}

	base, _ := splitGlobBase(filenameGlob)
	searchRoot := root
	if base != "" {
		searchRoot = filepath.Join(root, base)
	}

	resolvedRoot, err := resolvePath(t.baseDir, searchRoot)
	if err != nil {
		return SearchResult{}, err
	}

	cacheKey := pattern + "\x00" + filenameGlob
	if cached, ok := t.cache.GetSearch(resolvedRoot, cacheKey); ok {
		return cached, nil
	}

	var result SearchResult
	err = filepath.WalkDir(resolvedRoot, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || result.Truncated {
			if result.Truncated {
				return filepath.SkipAll
			}
			return nil
		}
		if binaryExtensions[filepath.Ext(p)] {
			return nil
		}

		rel, relErr := filepath.Rel(t.baseDir, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if filenameGlob != "" && !matchGlob(filenameGlob, rel) && !matchGlob(filenameGlob, filepath.Base(p)) {
			return nil
		}

		f, openErr := os.Open(p)
		if openErr != nil {
			return nil // unreadable file, skip rather than fail the whole search
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if re.MatchString(line) {
				content := tokenest.MiddleTruncate(line, searchContentTruncateCap)
				result.Matches = append(result.Matches, SearchMatch{File: rel, Line: lineNo, Content: content})
				if len(result.Matches) >= maxMatches {
					result.Truncated = true
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil {
		return SearchResult{}, fmt.Errorf("search %q: %w", root, err)
	}
	t.cache.PutSearch(resolvedRoot, cacheKey, result)
	return result, nil
}
