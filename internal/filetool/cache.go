package filetool

import (
	"path/filepath"
	"strings"
	"sync"
)

// cachedFile holds a file's content keyed by the mtime it was read at, so
// a stale cache entry is detected without an extra stat round-trip
// becoming load-bearing.
type cachedFile struct {
	mtime   int64
	content string
}

// CacheManager caches file contents and search results. Writes
// invalidate the written file's content entry and every search-cache
// entry rooted at the file's parent directory or any ancestor of it —
// a write anywhere under a cached search root can change that search's
// results.
type CacheManager struct {
	mu      sync.Mutex
	files   map[string]cachedFile
	search  map[string][]searchCacheEntry
}

type searchCacheEntry struct {
	key    string
	result SearchResult
}

// NewCacheManager returns an empty cache.
func NewCacheManager() *CacheManager {
	return &CacheManager{
		files:  make(map[string]cachedFile),
		search: make(map[string][]searchCacheEntry),
	}
}

// GetFile returns the cached content for path if the cache entry's mtime
// still matches the on-disk mtime.
func (c *CacheManager) GetFile(path string, mtime int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.files[path]
	if !ok || entry.mtime != mtime {
		return "", false
	}
	return entry.content, true
}

// PutFile stores content for path at the given mtime.
func (c *CacheManager) PutFile(path string, mtime int64, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[path] = cachedFile{mtime: mtime, content: content}
}

// PutSearch caches a search result rooted at dir under cacheKey (a
// composite of the pattern and filename glob the search ran with).
func (c *CacheManager) PutSearch(dir, cacheKey string, result SearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.search[dir] = append(c.search[dir], searchCacheEntry{key: cacheKey, result: result})
}

// GetSearch returns the cached result for a search rooted at dir under
// cacheKey, if present.
func (c *CacheManager) GetSearch(dir, cacheKey string) (SearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.search[dir] {
		if e.key == cacheKey {
			return e.result, true
		}
	}
	return SearchResult{}, false
}

// InvalidateWrite drops the content cache entry for path and every
// search-cache entry rooted at path's parent or any ancestor directory.
func (c *CacheManager) InvalidateWrite(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.files, path)

	dir := filepath.Dir(path)
	for cachedDir := range c.search {
		if isAncestorOrSelf(cachedDir, dir) {
			delete(c.search, cachedDir)
		}
	}
}

// isAncestorOrSelf reports whether ancestor is dir itself or a parent
// directory of it.
func isAncestorOrSelf(ancestor, dir string) bool {
	ancestor = filepath.Clean(ancestor)
	dir = filepath.Clean(dir)
	if ancestor == dir {
		return true
	}
	return strings.HasPrefix(dir, ancestor+string(filepath.Separator))
}
