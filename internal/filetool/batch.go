package filetool

import (
	"context"
	"fmt"
)

// Batch size ceilings, matching the canonical file-tool contract.
const (
	MaxBatchRead     = 20
	MaxBatchExists   = 50
	MaxBatchSearchLocations   = 10
	MaxBatchSearchTotalMatches = 100
)

// BatchReadResult pairs a path with its read outcome.
type BatchReadResult struct {
	Path   string
	Result ReadResult
	Err    error
}

// BatchRead reads up to MaxBatchRead paths, collecting per-path results
// and errors independently — one failing path never aborts the batch.
func (t *Tool) BatchRead(ctx context.Context, paths []string, offset, limit int) ([]BatchReadResult, error) {
	if len(paths) > MaxBatchRead {
		return nil, fmt.Errorf("batch_read: %d paths exceeds the %d path cap", len(paths), MaxBatchRead)
	}
	out := make([]BatchReadResult, len(paths))
	for i, p := range paths {
		res, err := t.Read(ctx, p, offset, limit)
		out[i] = BatchReadResult{Path: p, Result: res, Err: err}
	}
	return out, nil
}

// BatchExistsResult pairs a path with its existence outcome.
type BatchExistsResult struct {
	Path   string
	Exists bool
	Err    error
}

// BatchExists checks up to MaxBatchExists paths.
func (t *Tool) BatchExists(paths []string) ([]BatchExistsResult, error) {
	if len(paths) > MaxBatchExists {
		return nil, fmt.Errorf("batch_exists: %d paths exceeds the %d path cap", len(paths), MaxBatchExists)
	}
	out := make([]BatchExistsResult, len(paths))
	for i, p := range paths {
		ok, err := t.Exists(p)
		out[i] = BatchExistsResult{Path: p, Exists: ok, Err: err}
	}
	return out, nil
}

// BatchSearchQuery is one location+pattern pair in a batch search.
type BatchSearchQuery struct {
	Root         string
	Pattern      string
	FilenameGlob string
}

// BatchSearchResult pairs a query with its search outcome.
type BatchSearchResult struct {
	Query  BatchSearchQuery
	Result SearchResult
	Err    error
}

// BatchSearch runs up to MaxBatchSearchLocations searches, stopping once
// the aggregate match count reaches MaxBatchSearchTotalMatches.
func (t *Tool) BatchSearch(queries []BatchSearchQuery) ([]BatchSearchResult, error) {
	if len(queries) > MaxBatchSearchLocations {
		return nil, fmt.Errorf("batch_search: %d locations exceeds the %d location cap", len(queries), MaxBatchSearchLocations)
	}

	out := make([]BatchSearchResult, 0, len(queries))
	remaining := MaxBatchSearchTotalMatches
	for _, q := range queries {
		if remaining <= 0 {
			out = append(out, BatchSearchResult{Query: q, Result: SearchResult{Truncated: true}})
			continue
		}
		res, err := t.Search(q.Root, q.Pattern, q.FilenameGlob, remaining)
		out = append(out, BatchSearchResult{Query: q, Result: res, Err: err})
		if err == nil {
			remaining -= len(res.Matches)
		}
	}
	return out, nil
}
